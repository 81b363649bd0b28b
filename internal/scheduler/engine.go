package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiktok-sheets/internal/logging"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrInvalidCron is returned for expressions the parser rejects.
var ErrInvalidCron = errors.New("invalid cron expression")

// Handle is a registered recurring trigger.
type Handle interface {
	Stop()
	Expression() string
}

// Engine creates recurring triggers.
type Engine interface {
	Schedule(expr string, fn func()) (Handle, error)
	Start()
	Stop() context.Context
}

// ValidateCron checks a standard five-field expression or descriptor.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return nil
}

// CronEngine runs triggers on robfig/cron.
type CronEngine struct {
	cron   *cron.Cron
	logger cron.Logger
}

func NewCronEngine(loc *time.Location, logger *zerolog.Logger) *CronEngine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cl := logging.CronLogger{Logger: logger}
	opts := []cron.Option{cron.WithLogger(cl)}
	if loc != nil {
		opts = append(opts, cron.WithLocation(loc))
	}
	return &CronEngine{cron: cron.New(opts...), logger: cl}
}

func (e *CronEngine) Schedule(expr string, fn func()) (Handle, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	job := cron.NewChain(cron.SkipIfStillRunning(e.logger)).Then(cron.FuncJob(fn))
	id := e.cron.Schedule(schedule, job)
	return &cronHandle{cron: e.cron, id: id, expr: expr}, nil
}

func (e *CronEngine) Start() { e.cron.Start() }

// Stop halts the engine. The returned context is done once running jobs finish.
func (e *CronEngine) Stop() context.Context { return e.cron.Stop() }

// entries is used by tests.
func (e *CronEngine) entries() int { return len(e.cron.Entries()) }

type cronHandle struct {
	cron *cron.Cron
	id   cron.EntryID
	expr string
}

func (h *cronHandle) Stop()              { h.cron.Remove(h.id) }
func (h *cronHandle) Expression() string { return h.expr }
