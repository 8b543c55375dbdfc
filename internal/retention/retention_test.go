package retention

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(quietLogger(), domain.RetentionConfig{Schedule: "", MaxAge: time.Hour})
	assert.Error(t, err)

	_, err = NewScheduler(quietLogger(), domain.RetentionConfig{Schedule: "0 3 * * *"})
	assert.Error(t, err)

	_, err = NewScheduler(quietLogger(), domain.RetentionConfig{Schedule: "every day", MaxAge: time.Hour})
	assert.ErrorContains(t, err, "invalid retention schedule")

	s, err := NewScheduler(quietLogger(), domain.RetentionConfig{Schedule: "0 3 * * *", MaxAge: time.Hour})
	require.NoError(t, err)

	from := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 15, 3, 0, 0, 0, time.UTC), s.Next(from))
}

func TestRunOnce_PurgesEveryTarget(t *testing.T) {
	s, err := NewScheduler(quietLogger(), domain.RetentionConfig{Schedule: "0 3 * * *", MaxAge: 30 * 24 * time.Hour})
	require.NoError(t, err)
	now := time.Date(2025, 3, 31, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	var seen time.Time
	s.Add("saved", TargetFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
		seen = cutoff
		return 4, nil
	}))
	s.Add("audit", TargetFunc(func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("database unavailable")
	}))

	removed := s.RunOnce(context.Background())

	assert.Equal(t, map[string]int64{"saved": 4}, removed)
	assert.Equal(t, time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC), seen)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := NewScheduler(quietLogger(), domain.RetentionConfig{Schedule: "0 3 * * *", MaxAge: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
