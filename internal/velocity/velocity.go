// Package velocity scores transaction frequency against windowed counters.
// Counters live in the cache (local LRU or Redis) and are incremented
// atomically per decision, so concurrent pipelines never lose counts.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// limit is one windowed frequency rule. The counter key is built from the
// dimension's identifier, so every user, device, and IP gets its own
// window.
type limit struct {
	name      string
	dimension string // counter key prefix
	window    time.Duration
	threshold int64
	score     float64
	identify  func(tx *domain.Transaction) string
}

var limits = []limit{
	{
		name:      "rapid_fire_user",
		dimension: "user",
		window:    time.Minute,
		threshold: 5,
		score:     70,
		identify:  func(tx *domain.Transaction) string { return tx.UserID },
	},
	{
		name:      "hourly_user_burst",
		dimension: "user",
		window:    time.Hour,
		threshold: 50,
		score:     55,
		identify:  func(tx *domain.Transaction) string { return tx.UserID },
	},
	{
		name:      "device_burst",
		dimension: "device",
		window:    10 * time.Minute,
		threshold: 10,
		score:     60,
		identify:  func(tx *domain.Transaction) string { return tx.DeviceID },
	},
	{
		name:      "ip_burst",
		dimension: "ip",
		window:    time.Hour,
		threshold: 20,
		score:     45,
		identify:  func(tx *domain.Transaction) string { return tx.IPAddress },
	},
	{
		name:      "instrument_burst",
		dimension: "instrument",
		window:    time.Hour,
		threshold: 15,
		score:     50,
		identify:  func(tx *domain.Transaction) string { return tx.InstrumentID },
	},
}

// Scorer is the velocity collaborator.
type Scorer struct {
	cache  domain.Cache
	logger *slog.Logger
}

// NewScorer creates a scorer backed by the given cache.
func NewScorer(cache domain.Cache, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cache: cache, logger: logger.With("component", "velocity")}
}

// Score increments every applicable counter for the transaction and returns
// the hits whose thresholds were crossed. The result score is the MAX of
// hit scores, matching how the rule engine aggregates.
func (s *Scorer) Score(ctx context.Context, tx *domain.Transaction) (*domain.VelocityResult, error) {
	result := &domain.VelocityResult{}
	for _, l := range limits {
		id := l.identify(tx)
		if id == "" {
			continue
		}
		key := fmt.Sprintf("vel:%s:%s:%s", l.dimension, id, l.window)
		count, err := s.cache.IncrementCounter(ctx, tx.TenantID, key, l.window)
		if err != nil {
			return nil, fmt.Errorf("velocity counter %s: %w", key, err)
		}
		if count > l.threshold {
			result.Hits = append(result.Hits, domain.RuleHit{
				Name:   l.name,
				Score:  l.score,
				Detail: fmt.Sprintf("%d in %s (limit %d)", count, l.window, l.threshold),
			})
			if l.score > result.Score {
				result.Score = l.score
			}
		}
	}
	return result, nil
}
