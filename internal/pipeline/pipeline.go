// Package pipeline orchestrates one transaction through decisioning: the
// blocklist gate, the concurrent collaborator fan-out, the ensemble join,
// persistence, and event publication.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// AMLAnalyzer is the graph analytics collaborator.
type AMLAnalyzer interface {
	Analyze(ctx context.Context, tx *domain.Transaction) (*domain.AMLResult, error)
}

// Fallback bounds for collaborators whose config carries no timeout. The
// rule engine already bounds each rule evaluation; its budget here covers
// the whole set.
const (
	rulesTimeout      = 2 * time.Second
	amlTimeout        = 3 * time.Second
	defaultCollabWait = 2 * time.Second
)

// Pipeline wires the collaborators together. Velocity, ML, and AML are
// optional: a nil member contributes zero to every decision.
type Pipeline struct {
	repo     domain.Repository
	events   *bus.Publisher // nil disables publication
	rules    *rules.Engine
	blockers domain.BlocklistChecker
	velocity domain.VelocityScorer
	ml       domain.MLScorer
	aml      AMLAnalyzer
	decider  *decision.Engine

	velocityTimeout time.Duration
	mlTimeout       time.Duration

	logger *slog.Logger
}

// Options carries the optional collaborators and their budgets.
type Options struct {
	Bus             domain.EventBus
	Velocity        domain.VelocityScorer
	ML              domain.MLScorer
	AML             AMLAnalyzer
	VelocityTimeout time.Duration
	MLTimeout       time.Duration
	Logger          *slog.Logger
}

// New creates a pipeline. Repository, rule engine, blocklist checker, and
// decision engine are mandatory.
func New(repo domain.Repository, ruleEngine *rules.Engine, blockers domain.BlocklistChecker, decider *decision.Engine, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		repo:            repo,
		rules:           ruleEngine,
		blockers:        blockers,
		velocity:        opts.Velocity,
		ml:              opts.ML,
		aml:             opts.AML,
		decider:         decider,
		velocityTimeout: opts.VelocityTimeout,
		mlTimeout:       opts.MLTimeout,
		logger:          logger.With("component", "pipeline"),
	}
	if opts.Bus != nil {
		p.events = bus.NewPublisher(opts.Bus)
	}
	if p.velocityTimeout <= 0 {
		p.velocityTimeout = defaultCollabWait
	}
	if p.mlTimeout <= 0 {
		p.mlTimeout = defaultCollabWait
	}
	return p
}

// Process decisions one transaction. It returns an error only for failures
// that must stop the transaction: invalid input, persistence, or a
// blocklist lookup failure. Collaborator failures degrade to a zero
// contribution and are reflected in the result, not the error.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction) (*domain.DecisionResult, error) {
	ctx, span := otel.Tracer("harrier.pipeline").Start(ctx, "pipeline.Process")
	defer span.End()
	start := time.Now()

	if err := validate(tx); err != nil {
		return nil, err
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if err := p.repo.SaveTransaction(ctx, tx.TenantID, tx); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	// The blocklist gates everything: a hit skips the collaborators, and
	// a lookup failure fails the transaction closed.
	blocked, err := p.blockers.Check(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("blocklist check: %w", err)
	}

	in := decision.Input{Blocklist: blocked}
	if !blocked.Blocked {
		in = p.fanOut(ctx, tx, blocked)
	}

	result := p.decider.Decide(tx, in)
	result.ProcessMs = time.Since(start).Milliseconds()

	if err := p.repo.SaveDecision(ctx, tx.TenantID, result); err != nil {
		return nil, fmt.Errorf("save decision: %w", err)
	}

	p.publish(ctx, result, in.AML)
	span.SetAttributes(
		attribute.String("decision", string(result.Decision)),
		attribute.Float64("score", result.Score),
	)
	p.logger.Info("transaction decided",
		"tenant_id", tx.TenantID,
		"tx_id", tx.ID,
		"decision", string(result.Decision),
		"score", result.Score,
		"process_ms", result.ProcessMs)
	return result, nil
}

func validate(tx *domain.Transaction) error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: nil transaction", domain.ErrInvalidInput)
	case tx.ID == "":
		return fmt.Errorf("%w: transaction id required", domain.ErrInvalidInput)
	case tx.TenantID == "":
		return fmt.Errorf("%w: tenant id required", domain.ErrInvalidInput)
	case tx.UserID == "":
		return fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	case tx.Amount < 0:
		return fmt.Errorf("%w: negative amount", domain.ErrInvalidInput)
	}
	return nil
}

// fanOut runs the collaborators concurrently, each under its own deadline.
// Each goroutine owns one Input field, so the join needs no locking.
func (p *Pipeline) fanOut(ctx context.Context, tx *domain.Transaction, blocked *domain.BlocklistResult) decision.Input {
	in := decision.Input{Blocklist: blocked}
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rctx, cancel := context.WithTimeout(ctx, rulesTimeout)
		defer cancel()
		in.Rules = p.rules.Evaluate(rctx, tx)
	}()

	if p.aml != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, amlTimeout)
			defer cancel()
			res, err := p.aml.Analyze(actx, tx)
			if err != nil {
				p.logger.Warn("aml degraded", "tx_id", tx.ID, "error", err)
				return
			}
			in.AML = res
		}()
	}

	if p.velocity != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vctx, cancel := context.WithTimeout(ctx, p.velocityTimeout)
			defer cancel()
			res, err := p.velocity.Score(vctx, tx)
			if err != nil {
				p.logger.Warn("velocity degraded", "tx_id", tx.ID, "error", err)
				return
			}
			in.Velocity = res
		}()
	}

	if p.ml != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mctx, cancel := context.WithTimeout(ctx, p.mlTimeout)
			defer cancel()
			res, err := p.ml.Predict(mctx, tx)
			if err != nil {
				p.logger.Warn("ml degraded", "tx_id", tx.ID, "error", err)
				return
			}
			in.ML = res
		}()
	}

	wg.Wait()
	return in
}

// publish emits the decision event, an alert for anything flagged, and a
// pattern event when the graph stage produced concrete findings.
// Bus failures are logged, never fatal: the decision is already durable.
func (p *Pipeline) publish(ctx context.Context, result *domain.DecisionResult, amlRes *domain.AMLResult) {
	if p.events == nil {
		return
	}
	if err := p.events.DecisionMade(ctx, result); err != nil {
		p.logger.Warn("publish decision", "tx_id", result.TxID, "error", err)
	}
	if result.Decision == domain.DecisionReject || result.Decision == domain.DecisionReview {
		if err := p.events.AlertRaised(ctx, result); err != nil {
			p.logger.Warn("publish alert", "tx_id", result.TxID, "error", err)
		}
	}
	if amlRes != nil && amlRes.HasFindings() {
		if err := p.events.PatternsDetected(ctx, result, amlRes); err != nil {
			p.logger.Warn("publish pattern event", "tx_id", result.TxID, "error", err)
		}
	}
}
