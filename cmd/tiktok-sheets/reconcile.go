package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"tiktok-sheets/internal/models"

	"github.com/spf13/cobra"
)

func newReconcileCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print the scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, *configPath, "reconcile")
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.scheduler(noopRunner{})
			if err != nil {
				return err
			}
			if err := sched.Reconcile(ctx); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sched.Snapshot())
		},
	}
}

// noopRunner backs a scheduler whose engine never starts.
type noopRunner struct{}

func (noopRunner) RunScheduled(context.Context, *models.Account) error {
	return errors.New("reconcile does not run jobs")
}

func (noopRunner) RunFullYear(context.Context, *models.Account) error {
	return errors.New("reconcile does not run jobs")
}
