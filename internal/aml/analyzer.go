// Package aml runs the graph analytics stage of the decision pipeline:
// circular-flow, layering, and structuring detection over a bounded history
// window, party-connection scoring, and the aggregated syndication score.
// Detections are persisted as Pattern rows keyed by entity, type, and
// sub-key so repeat detections update in place.
package aml

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// Store is the persistence surface the analyzer needs.
type Store interface {
	GetTransactionsByUser(ctx context.Context, tenantID string, userID string, since time.Time) ([]*domain.Transaction, error)
	GetTransactionsByEntity(ctx context.Context, tenantID string, entityID string, since time.Time) ([]*domain.Transaction, error)
	UpsertPattern(ctx context.Context, tenantID string, p *domain.Pattern) error
}

// Syndication score composition. The circular contribution and the three
// weighted sub-scores sum before the final clamp to [0, 100].
const (
	circularUnitScore = 30
	circularScoreCap  = 60

	connectionWeight  = 0.3
	layeringWeight    = 0.2
	structuringWeight = 0.2
)

// Analyzer runs the AML stage for one transaction at a time.
type Analyzer struct {
	store  Store
	cfg    domain.AMLConfig
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer with the given bounds.
func NewAnalyzer(store Store, cfg domain.AMLConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "aml"),
	}
}

// Analyze runs all detectors over the transaction's history window and
// returns the aggregated result. Pattern persistence failures are logged
// and do not fail the analysis; the score is already computed by then.
func (a *Analyzer) Analyze(ctx context.Context, tx *domain.Transaction) (*domain.AMLResult, error) {
	ctx, span := otel.Tracer("harrier.aml").Start(ctx, "aml.Analyze")
	defer span.End()

	since := tx.Timestamp.AddDate(0, 0, -a.cfg.LookbackDays)
	window, err := a.store.GetTransactionsByUser(ctx, tx.TenantID, tx.UserID, since)
	if err != nil {
		return nil, fmt.Errorf("load history window: %w", err)
	}
	window = ensureCurrent(window, tx)

	flow := graph.BuildFlowGraph(window)
	party := graph.BuildPartyGraph(window)
	userKey := graph.UserNode(tx.UserID).Key()

	result := &domain.AMLResult{}
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		result.Cycles = detectCircular(flow, userKey, a.cfg.MaxCycleLength)
		result.CircularFlowDetected = len(result.Cycles) > 0
	}()
	go func() {
		defer wg.Done()
		result.LayeringPaths = detectLayering(flow, userKey, a.cfg.MaxPathLength)
	}()
	go func() {
		defer wg.Done()
		result.StructuringDays = detectStructuring(window, a.cfg)
		result.RoundAmountTxs = detectRoundAmounts(window)
		result.FanInTxs = detectFanIn(window)
		result.RepeatedPairs = detectRepeatedPairs(window)
	}()
	go func() {
		defer wg.Done()
		result.ConnectionSignals = a.collectConnections(ctx, tx, party, userKey, since)
		result.ConnectionScore = scoreConnections(result.ConnectionSignals)
	}()
	wg.Wait()

	result.SyndicationScore = syndicationScore(result)
	span.SetAttributes(
		attribute.Int("aml.window_size", len(window)),
		attribute.Int("aml.cycles", len(result.Cycles)),
		attribute.Float64("aml.syndication_score", result.SyndicationScore),
	)

	a.persistPatterns(ctx, tx, userKey, result)
	return result, nil
}

// ensureCurrent makes sure the transaction under analysis is part of its
// own window; the caller may or may not have persisted it yet.
func ensureCurrent(window []*domain.Transaction, tx *domain.Transaction) []*domain.Transaction {
	for _, w := range window {
		if w.ID == tx.ID {
			return window
		}
	}
	return append(window, tx)
}

func syndicationScore(r *domain.AMLResult) float64 {
	circular := float64(len(r.Cycles)) * circularUnitScore
	if circular > circularScoreCap {
		circular = circularScoreCap
	}
	score := circular +
		connectionWeight*r.ConnectionScore +
		layeringWeight*r.MaxLayeringScore() +
		structuringWeight*r.MaxStructuringScore()
	return domain.Round2(domain.ClampScore(score))
}

// persistPatterns upserts one Pattern per detection unit.
func (a *Analyzer) persistPatterns(ctx context.Context, tx *domain.Transaction, entityKey string, r *domain.AMLResult) {
	circular := float64(len(r.Cycles)) * circularUnitScore
	if circular > circularScoreCap {
		circular = circularScoreCap
	}

	var patterns []*domain.Pattern
	for _, c := range r.Cycles {
		patterns = append(patterns, &domain.Pattern{
			EntityKey: entityKey,
			Type:      domain.PatternCircularFlow,
			SubKey:    joinKey(c.Nodes),
			RiskScore: circular,
			TxSamples: capSamples(c.TxIDs),
		})
	}
	for _, p := range r.LayeringPaths {
		patterns = append(patterns, &domain.Pattern{
			EntityKey: entityKey,
			Type:      domain.PatternLayering,
			SubKey:    joinKey(p.Nodes),
			RiskScore: p.Score,
		})
	}
	for _, d := range r.StructuringDays {
		patterns = append(patterns, &domain.Pattern{
			EntityKey: entityKey,
			Type:      domain.PatternStructuring,
			SubKey:    fmt.Sprintf("%.0f|%s", d.Threshold, d.Day),
			RiskScore: d.Score,
			TxSamples: capSamples(d.TxIDs),
		})
	}
	if len(r.RoundAmountTxs) > 0 {
		patterns = append(patterns, &domain.Pattern{
			EntityKey: entityKey,
			Type:      domain.PatternRoundAmount,
			RiskScore: 40,
			TxSamples: capSamples(r.RoundAmountTxs),
		})
	}
	if len(r.FanInTxs) > 0 {
		patterns = append(patterns, &domain.Pattern{
			EntityKey: entityKey,
			Type:      domain.PatternFanIn,
			RiskScore: 50,
			TxSamples: capSamples(r.FanInTxs),
		})
	}
	for _, pair := range r.RepeatedPairs {
		patterns = append(patterns, &domain.Pattern{
			EntityKey: entityKey,
			Type:      domain.PatternRepeatedPair,
			SubKey:    pair,
			RiskScore: 35,
		})
	}

	for _, p := range patterns {
		p.TenantID = tx.TenantID
		p.FirstDetected = tx.Timestamp
		p.LastDetected = tx.Timestamp
		p.OccurrenceCount = 1
		if err := a.store.UpsertPattern(ctx, tx.TenantID, p); err != nil {
			a.logger.Error("pattern upsert failed",
				"tenant_id", tx.TenantID,
				"entity_key", p.EntityKey,
				"pattern_type", string(p.Type),
				"error", err)
		}
	}
}

func capSamples(ids []string) []string {
	if len(ids) > domain.PatternSampleCap {
		ids = ids[:domain.PatternSampleCap]
	}
	return append([]string{}, ids...)
}

func joinKey(nodes []string) string {
	key := ""
	for i, n := range nodes {
		if i > 0 {
			key += ">"
		}
		key += n
	}
	return key
}
