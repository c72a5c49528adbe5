package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// RuleStore receives the evaluator's side effects: hit-counter updates and
// append-only audit rows. Implemented by the repository.
type RuleStore interface {
	RecordRuleHit(ctx context.Context, tenantID string, ruleID string, at time.Time) error
	AppendRuleExecutions(ctx context.Context, tenantID string, execs []domain.RuleExecution) error
}

// Engine evaluates compiled rules against transactions.
type Engine struct {
	mu       sync.RWMutex
	compiler *Compiler
	compiled map[string]*CompiledRule
	store    RuleStore

	maxWorkers  int
	evalTimeout time.Duration
}

// CompiledRule pairs a rule with its validated condition program.
type CompiledRule struct {
	Rule      *domain.Rule
	Condition *CompiledCondition
}

// NewEngine creates a rule evaluation engine. store may be nil, in which
// case side effects are skipped (validation-only paths and tests).
func NewEngine(store RuleStore, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	compiler, err := NewCompiler()
	if err != nil {
		return nil, err
	}
	return &Engine{
		compiler:    compiler,
		compiled:    make(map[string]*CompiledRule),
		store:       store,
		maxWorkers:  maxWorkers,
		evalTimeout: 250 * time.Millisecond,
	}, nil
}

// ValidateCondition statically validates rule condition text without
// loading anything into the engine.
func (e *Engine) ValidateCondition(source string) (bool, string) {
	return e.compiler.Validate(source)
}

// LoadRule compiles and loads one rule.
func (e *Engine) LoadRule(rule *domain.Rule) error {
	cond, err := e.compiler.Compile(rule.Condition)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[rule.ID] = &CompiledRule{Rule: rule, Condition: cond}
	return nil
}

// LoadRules compiles and loads all active rules.
func (e *Engine) LoadRules(rules []*domain.Rule) error {
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set. Enables hot-reload
// from storage without restart.
func (e *Engine) ReloadRules(rules []*domain.Rule) error {
	fresh := make(map[string]*CompiledRule, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		cond, err := e.compiler.Compile(r.Condition)
		if err != nil {
			return err
		}
		fresh[r.ID] = &CompiledRule{Rule: r, Condition: cond}
	}

	e.mu.Lock()
	e.compiled = fresh
	e.mu.Unlock()
	return nil
}

// GetLoadedRules returns the currently loaded rules, ordered by name.
func (e *Engine) GetLoadedRules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.Rule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c.Rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledRule)
	return nil
}

// Evaluate runs all in-scope rules against the transaction.
//
// Rules are filtered by active flag, channel applicability, and merchant
// allow/deny scope, then ordered by descending priority with name as the
// tiebreaker. Each condition is evaluated against the flattened record
// under a bounded timeout; a per-rule failure is recorded as not-triggered
// in the audit trail and does not stop the remaining rules. The aggregate
// score is the maximum among triggered rules, not a sum.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction) *domain.RuleEvaluationResult {
	e.mu.RLock()
	applicable := make([]*CompiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		if c.Rule.AppliesTo(tx) {
			applicable = append(applicable, c)
		}
	}
	e.mu.RUnlock()

	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].Rule.Priority != applicable[j].Rule.Priority {
			return applicable[i].Rule.Priority > applicable[j].Rule.Priority
		}
		return applicable[i].Rule.Name < applicable[j].Rule.Name
	})

	result := &domain.RuleEvaluationResult{Evaluated: len(applicable)}
	if len(applicable) == 0 {
		return result
	}

	record := Project(tx)
	now := time.Now().UTC()

	executions := make([]domain.RuleExecution, len(applicable))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, c := range applicable {
		wg.Add(1)
		go func(idx int, cr *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			evalCtx, cancel := context.WithTimeout(ctx, e.evalTimeout)
			defer cancel()

			value, hit, err := cr.Condition.Eval(evalCtx, record)

			exec := domain.RuleExecution{
				ID:         uuid.New().String(),
				TenantID:   tx.TenantID,
				TxID:       tx.ID,
				RuleID:     cr.Rule.ID,
				Triggered:  hit && err == nil,
				Value:      value,
				DurationMs: time.Since(start).Milliseconds(),
				CreatedAt:  now,
			}
			if err != nil {
				exec.Error = err.Error()
			}

			executions[idx] = exec
		}(i, c)
	}

	wg.Wait()

	for i, c := range applicable {
		if executions[i].Error != "" {
			result.Errored++
		}
		if !executions[i].Triggered {
			continue
		}

		result.Triggered = append(result.Triggered, domain.TriggeredRule{
			RuleID:    c.Rule.ID,
			Name:      c.Rule.Name,
			Action:    c.Rule.Action,
			RiskScore: c.Rule.RiskScore,
			Value:     executions[i].Value,
		})
		if c.Rule.RiskScore > result.Score {
			result.Score = c.Rule.RiskScore
		}

		if e.store != nil {
			if err := e.store.RecordRuleHit(ctx, tx.TenantID, c.Rule.ID, now); err != nil {
				slog.Error("failed to record rule hit",
					"rule_id", c.Rule.ID,
					"tx_id", tx.ID,
					"error", err,
				)
			}
		}
	}

	result.Score = domain.ClampScore(result.Score)
	result.Executions = executions

	if e.store != nil {
		if err := e.store.AppendRuleExecutions(ctx, tx.TenantID, executions); err != nil {
			slog.Error("failed to append rule executions",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	return result
}
