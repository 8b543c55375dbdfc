package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/domain"
)

// fakeRemote is an in-memory Cache that can be told to fail.
type fakeRemote struct {
	mu    sync.Mutex
	data  map[string]domain.PredictionResults
	err   error
	calls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string]domain.PredictionResults)}
}

func (f *fakeRemote) Get(_ context.Context, key string) (*domain.PredictionResults, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	res, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return &res, true, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, results *domain.PredictionResults, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.data[key] = *results
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.data, key)
	return f.err
}

func (f *fakeRemote) Close() error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestTieredCache_PromotesRemoteHits(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.data["k"] = *sampleResults(11)

	local := NewMemoryCache(10, time.Minute)
	tc := NewTieredCache(local, remote, quietLogger())

	got, ok, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 11.0, got.Oocytes.Predicted)

	// second read is served locally
	_, ok, _ = tc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, uint64(1), tc.Stats().Hits)
}

func TestTieredCache_SetWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := NewMemoryCache(10, time.Minute)
	tc := NewTieredCache(local, remote, quietLogger())

	require.NoError(t, tc.Set(ctx, "k", sampleResults(5), time.Minute))

	_, ok, _ := local.Get(ctx, "k")
	assert.True(t, ok)
	_, ok = remote.data["k"]
	assert.True(t, ok)

	require.NoError(t, tc.Delete(ctx, "k"))
	_, ok = remote.data["k"]
	assert.False(t, ok)
}

func TestTieredCache_RemoteFailureOpensBreaker(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.err = errors.New("connection refused")
	tc := NewTieredCache(NewMemoryCache(10, time.Minute), remote, quietLogger())

	for i := 0; i < 3; i++ {
		_, ok, err := tc.Get(ctx, "missing")
		require.NoError(t, err, "remote errors must not reach callers")
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, tc.BreakerState())

	_, ok, err := tc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, remote.calls, "open breaker must short-circuit remote calls")

	// writes still land locally while the remote is down
	require.NoError(t, tc.Set(ctx, "k", sampleResults(4), 0))
	got, ok, _ := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 4.0, got.Oocytes.Predicted)
}

func TestTieredCache_LocalOnly(t *testing.T) {
	ctx := context.Background()
	tc := NewTieredCache(NewMemoryCache(10, time.Minute), nil, nil)

	_, ok, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tc.Set(ctx, "k", sampleResults(3), 0))
	_, ok, _ = tc.Get(ctx, "k")
	assert.True(t, ok)
	assert.NoError(t, tc.Delete(ctx, "k"))
	assert.NoError(t, tc.Close())
}
