package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ivf-outcome-server/internal/domain"
)

// TieredCache reads through an in-process LRU to a shared remote cache. Remote calls go
// through a circuit breaker; remote failures degrade to local-only caching and are never
// returned to callers.
type TieredCache struct {
	local   *MemoryCache
	remote  Cache
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewTieredCache creates a two-tier cache. remote may be nil.
func NewTieredCache(local *MemoryCache, remote Cache, logger *logrus.Logger) *TieredCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &TieredCache{local: local, remote: remote, logger: logger}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "prediction-cache",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Cache circuit breaker changed state")
		},
	})
	return t
}

// Get checks the local tier, then the remote tier, promoting remote hits.
func (t *TieredCache) Get(ctx context.Context, key string) (*domain.PredictionResults, bool, error) {
	if res, ok, _ := t.local.Get(ctx, key); ok {
		return res, true, nil
	}
	if t.remote == nil {
		return nil, false, nil
	}

	out, err := t.breaker.Execute(func() (interface{}, error) {
		res, ok, err := t.remote.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return res, nil
	})
	if err != nil {
		t.logRemoteError("get", key, err)
		return nil, false, nil
	}

	res, _ := out.(*domain.PredictionResults)
	if res == nil {
		return nil, false, nil
	}
	_ = t.local.Set(ctx, key, res, 0)
	return res, true, nil
}

// Set writes both tiers.
func (t *TieredCache) Set(ctx context.Context, key string, results *domain.PredictionResults, ttl time.Duration) error {
	_ = t.local.Set(ctx, key, results, ttl)
	if t.remote == nil {
		return nil
	}
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.remote.Set(ctx, key, results, ttl)
	})
	if err != nil {
		t.logRemoteError("set", key, err)
	}
	return nil
}

// Delete removes key from both tiers.
func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.local.Delete(ctx, key)
	if t.remote == nil {
		return nil
	}
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.remote.Delete(ctx, key)
	})
	if err != nil {
		t.logRemoteError("delete", key, err)
	}
	return nil
}

// Stats returns the local tier statistics.
func (t *TieredCache) Stats() Stats {
	return t.local.Stats()
}

// BreakerState reports the remote circuit breaker state.
func (t *TieredCache) BreakerState() gobreaker.State {
	return t.breaker.State()
}

// Close closes the remote tier.
func (t *TieredCache) Close() error {
	if t.remote == nil {
		return nil
	}
	return t.remote.Close()
}

func (t *TieredCache) logRemoteError(op, key string, err error) {
	entry := t.logger.WithFields(logrus.Fields{"op": op, "key": key})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		entry.Debug("Remote cache skipped, circuit open")
		return
	}
	entry.WithError(err).Warn("Remote cache unavailable")
}
