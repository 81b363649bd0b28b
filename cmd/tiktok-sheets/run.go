package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tiktok-sheets/internal/domain"
	"tiktok-sheets/internal/export"
	"tiktok-sheets/internal/logging"
	"tiktok-sheets/internal/models"

	"github.com/spf13/cobra"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		accountID string
		fullYear  bool
		xlsxPath  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion for an account and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if accountID == "" {
				return errors.New("--account is required")
			}
			return runOnce(cmd.Context(), *configPath, accountID, fullYear, xlsxPath)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().BoolVar(&fullYear, "full-year", false, "rewrite every month of the current year")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write to a local .xlsx file instead of Google Sheets")
	return cmd
}

func runOnce(parent context.Context, configPath, accountID string, fullYear bool, xlsxPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, "run")
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		store   domain.AccountStore = a.db
		gateway domain.SheetGateway
	)
	if xlsxPath != "" {
		gateway = export.NewWorkbook(filepath.Dir(xlsxPath), logging.Component(a.logger, "xlsx"))
		store = localStore{AccountStore: a.db, path: xlsxPath}
	} else {
		sheets, err := a.sheets(ctx)
		if err != nil {
			return err
		}
		gateway = sheets
	}

	account, err := store.FindOne(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}

	ok, err := a.lock.Acquire(ctx, accountID, a.cfg.Scheduler.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("account %s already has a run in progress", accountID)
	}
	defer func() { _ = a.lock.Release(context.Background(), accountID) }()

	orchestrator := a.orchestrator(store, gateway)
	if fullYear {
		return orchestrator.RunFullYear(ctx, account)
	}
	return orchestrator.RunCurrentWindow(ctx, account)
}

// localStore points the account at a local workbook and keeps workbook paths
// out of the database.
type localStore struct {
	domain.AccountStore
	path string
}

func (s localStore) FindOne(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.AccountStore.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	account.SpreadsheetID = s.path
	return account, nil
}

func (s localStore) Update(ctx context.Context, id string, u models.AccountUpdate) (*models.Account, error) {
	path := s.path
	if u.SpreadsheetID != nil {
		path = *u.SpreadsheetID
		u.SpreadsheetID = nil
	}
	var (
		account *models.Account
		err     error
	)
	if u.IsEmpty() {
		account, err = s.AccountStore.FindOne(ctx, id)
	} else {
		account, err = s.AccountStore.Update(ctx, id, u)
	}
	if err != nil {
		return nil, err
	}
	account.SpreadsheetID = path
	return account, nil
}
