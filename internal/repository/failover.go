package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tiktok-sheets/internal/domain"

	"github.com/rs/zerolog"
)

const recheckInterval = time.Minute

// FailoverRunLock uses primary while it is healthy and fallback otherwise.
// A released lock always goes back to the lock that granted it.
type FailoverRunLock struct {
	primary   domain.RunLock
	fallback  domain.RunLock
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	holders   sync.Map
	now       func() time.Time
}

func NewFailoverRunLock(primary, fallback domain.RunLock, logger *zerolog.Logger) *FailoverRunLock {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverRunLock{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *FailoverRunLock) markDown(err error) {
	if !l.isDown.Swap(true) {
		l.logger.Error().Err(err).Msg("primary run lock failed, falling back to memory")
	}
	l.lastCheck.Store(l.now().UnixNano())
}

func (l *FailoverRunLock) usePrimary() bool {
	if !l.isDown.Load() {
		return true
	}
	return l.now().Sub(time.Unix(0, l.lastCheck.Load())) > recheckInterval
}

func (l *FailoverRunLock) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	if l.usePrimary() {
		ok, err := l.primary.Acquire(ctx, accountID, ttl)
		if err == nil {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("primary run lock recovered")
			}
			if ok {
				l.holders.Store(accountID, l.primary)
			}
			return ok, nil
		}
		l.markDown(err)
	}

	ok, err := l.fallback.Acquire(ctx, accountID, ttl)
	if err == nil && ok {
		l.holders.Store(accountID, l.fallback)
	}
	return ok, err
}

func (l *FailoverRunLock) Release(ctx context.Context, accountID string) error {
	holder, ok := l.holders.LoadAndDelete(accountID)
	if !ok {
		return nil
	}
	lock := holder.(domain.RunLock)
	err := lock.Release(ctx, accountID)
	if err != nil && lock == l.primary {
		l.markDown(err)
	}
	return err
}
