package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLock struct {
	mock.Mock
}

func (m *mockLock) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, accountID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLock) Release(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func TestFailoverRunLock(t *testing.T) {
	primary := new(mockLock)
	fallback := new(mockLock)
	logger := zerolog.New(io.Discard)
	lock := NewFailoverRunLock(primary, fallback, &logger)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lock.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Acquire", ctx, "a", time.Minute).Return(true, nil).Once()
		primary.On("Release", ctx, "a").Return(nil).Once()

		ok, err := lock.Acquire(ctx, "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, lock.Release(ctx, "a"))
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailsUsesFallback", func(t *testing.T) {
		primary.On("Acquire", ctx, "b", time.Minute).Return(false, errors.New("redis down")).Once()
		fallback.On("Acquire", ctx, "b", time.Minute).Return(true, nil).Once()
		fallback.On("Release", ctx, "b").Return(nil).Once()

		ok, err := lock.Acquire(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, lock.isDown.Load())

		require.NoError(t, lock.Release(ctx, "b"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackUntilRecheck", func(t *testing.T) {
		fallback.On("Acquire", ctx, "c", time.Minute).Return(true, nil).Once()
		ok, err := lock.Acquire(ctx, "c", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		primary.AssertNotCalled(t, "Acquire", ctx, "c", time.Minute)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoversAfterInterval", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Acquire", ctx, "d", time.Minute).Return(false, nil).Once()

		ok, err := lock.Acquire(ctx, "d", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, lock.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("ReleaseUnknownIsNoop", func(t *testing.T) {
		assert.NoError(t, lock.Release(ctx, "unknown"))
	})
}
