// Package decision combines the collaborator scores into the final
// decision. The combination is a fixed-weight ensemble with an ordered set
// of overrides evaluated before the thresholds:
//
//  1. a blocklist hit rejects outright;
//  2. a triggered reject-action rule rejects outright;
//  3. the weighted combined score at or above the reject threshold rejects;
//  4. at or above the review threshold, or any triggered review-action
//     rule, sends the transaction to manual review;
//  5. everything else approves.
package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Input carries the collaborator outputs for one transaction. Nil members
// mean the collaborator degraded; they contribute zero.
type Input struct {
	Blocklist *domain.BlocklistResult
	Rules     *domain.RuleEvaluationResult
	Velocity  *domain.VelocityResult
	ML        *domain.MLResult
	AML       *domain.AMLResult
}

// Engine applies the ensemble policy.
type Engine struct {
	cfg domain.DecisionConfig
}

// NewEngine creates an engine with the given weights and thresholds.
func NewEngine(cfg domain.DecisionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decide produces the decision record for a transaction. It never returns
// an error: collaborator failures have already been degraded to nil inputs
// by the pipeline, and the policy is total.
func (e *Engine) Decide(tx *domain.Transaction, in Input) *domain.DecisionResult {
	sub := subScores(in)
	combined := domain.Round2(domain.ClampScore(
		e.cfg.RuleWeight*sub.Rule +
			e.cfg.VelocityWeight*sub.Velocity +
			e.cfg.MLWeight*sub.ML +
			e.cfg.AMLWeight*sub.AML))

	result := &domain.DecisionResult{
		ID:        uuid.New().String(),
		TenantID:  tx.TenantID,
		TxID:      tx.ID,
		Score:     combined,
		SubScores: sub,
		CreatedAt: time.Now().UTC(),
	}
	if in.Rules != nil {
		result.TriggeredRules = in.Rules.Triggered
	}
	if in.Velocity != nil {
		result.VelocityHits = in.Velocity.Hits
	}

	switch {
	case in.Blocklist != nil && in.Blocklist.Blocked:
		// A blocklist hit is a certainty, not a signal: the score is
		// pinned to 100 regardless of the (short-circuited) ensemble.
		result.Decision = domain.DecisionReject
		result.Score = 100
		result.Flagged = true
		result.FlagReason = blockReason(in.Blocklist)

	case hasAction(in.Rules, domain.ActionReject):
		t, _ := in.Rules.HasAction(domain.ActionReject)
		result.Decision = domain.DecisionReject
		result.Flagged = true
		result.FlagReason = fmt.Sprintf("rule %q requested reject", t.Name)

	case combined >= e.cfg.RejectThreshold:
		result.Decision = domain.DecisionReject
		result.Flagged = true
		result.FlagReason = fmt.Sprintf("high risk score: %.2f", combined)

	case combined >= e.cfg.ReviewThreshold:
		result.Decision = domain.DecisionReview
		result.Flagged = true
		result.FlagReason = fmt.Sprintf("medium risk score: %.2f", combined)

	case hasAction(in.Rules, domain.ActionReview):
		t, _ := in.Rules.HasAction(domain.ActionReview)
		result.Decision = domain.DecisionReview
		result.Flagged = true
		result.FlagReason = fmt.Sprintf("rule %q requested review", t.Name)

	default:
		result.Decision = domain.DecisionApprove
	}
	return result
}

func subScores(in Input) domain.SubScores {
	var s domain.SubScores
	if in.Rules != nil {
		s.Rule = domain.ClampScore(in.Rules.Score)
	}
	if in.Velocity != nil {
		s.Velocity = domain.ClampScore(in.Velocity.Score)
	}
	if in.ML != nil {
		s.ML = domain.ClampScore(in.ML.Score)
	}
	if in.AML != nil {
		s.AML = domain.ClampScore(in.AML.SyndicationScore)
	}
	return s
}

func blockReason(b *domain.BlocklistResult) string {
	if b.Reason != "" {
		return fmt.Sprintf("blocklisted %s: %s", b.EntityType, b.Reason)
	}
	return fmt.Sprintf("blocklisted %s: %s", b.EntityType, b.Value)
}

func hasAction(r *domain.RuleEvaluationResult, action domain.RuleAction) bool {
	if r == nil {
		return false
	}
	_, ok := r.HasAction(action)
	return ok
}
