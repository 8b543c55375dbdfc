// Package cache keeps computed prediction funnels keyed by an input fingerprint so that
// repeated requests for the same inputs and model version skip the pipeline.
package cache

import (
	"context"
	"time"

	"github.com/ivf-outcome-server/internal/domain"
)

// KeyPrefix namespaces prediction entries in shared stores.
const KeyPrefix = "ivf:prediction:"

// Cache stores prediction results by key.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.PredictionResults, bool, error)
	Set(ctx context.Context, key string, results *domain.PredictionResults, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// HitRate returns hits over lookups, or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
