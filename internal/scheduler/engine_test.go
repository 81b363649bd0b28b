package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCron(t *testing.T) {
	valid := []string{"0 0 * * *", "*/15 * * * *", "30 6 * * 1-5", "@daily", "@every 1h"}
	for _, expr := range valid {
		assert.NoError(t, ValidateCron(expr), expr)
	}

	invalid := []string{"", "every day", "61 * * * *", "0 0 * *", "0 0 0 * * * *"}
	for _, expr := range invalid {
		assert.ErrorIs(t, ValidateCron(expr), ErrInvalidCron, expr)
	}
}

func TestCronEngine_ScheduleAndStop(t *testing.T) {
	logger := zerolog.Nop()
	engine := NewCronEngine(time.UTC, &logger)

	_, err := engine.Schedule("bogus", func() {})
	assert.ErrorIs(t, err, ErrInvalidCron)
	assert.Equal(t, 0, engine.entries())

	h, err := engine.Schedule("0 0 * * *", func() {})
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", h.Expression())
	assert.Equal(t, 1, engine.entries())

	h.Stop()
	assert.Equal(t, 0, engine.entries())
}

func TestCronEngine_Runs(t *testing.T) {
	logger := zerolog.Nop()
	engine := NewCronEngine(nil, &logger)
	fired := make(chan struct{}, 1)
	_, err := engine.Schedule("@every 1s", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	engine.Start()
	defer engine.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}
