package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

type fakeRuleStore struct {
	mu    sync.Mutex
	hits  []string
	execs []domain.RuleExecution
}

func (s *fakeRuleStore) RecordRuleHit(ctx context.Context, tenantID, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = append(s.hits, ruleID)
	return nil
}

func (s *fakeRuleStore) AppendRuleExecutions(ctx context.Context, tenantID string, execs []domain.RuleExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, execs...)
	return nil
}

func newRule(id, name, condition string, score float64, priority int) *domain.Rule {
	return &domain.Rule{
		ID:        id,
		TenantID:  "t1",
		Name:      name,
		Condition: condition,
		Action:    domain.ActionNotify,
		RiskScore: score,
		Priority:  priority,
		Active:    true,
	}
}

func engineTx() *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-1",
		TenantID:   "t1",
		Type:       "purchase",
		Channel:    domain.ChannelEcommerce,
		Amount:     2500,
		Currency:   "USD",
		Timestamp:  time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		UserID:     "u1",
		MerchantID: "m1",
	}
}

func TestEngineLoadAndReload(t *testing.T) {
	eng, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := eng.LoadRule(newRule("r1", "high amount", `transaction.amount > 1000.0`, 70, 10)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}
	if err := eng.LoadRule(newRule("r2", "bad condition", `transaction.amount`, 50, 5)); err == nil {
		t.Fatal("expected LoadRule to reject a non-boolean condition")
	}
	if eng.RulesCount() != 1 {
		t.Fatalf("RulesCount = %d, want 1", eng.RulesCount())
	}

	inactive := newRule("r3", "disabled", `transaction.amount > 0.0`, 10, 1)
	inactive.Active = false
	if err := eng.LoadRules([]*domain.Rule{inactive}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if eng.RulesCount() != 1 {
		t.Fatalf("inactive rule was loaded, count = %d", eng.RulesCount())
	}

	if err := eng.ReloadRules([]*domain.Rule{
		newRule("r4", "replacement", `transaction.amount > 500.0`, 40, 1),
	}); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	loaded := eng.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "r4" {
		t.Fatalf("reload did not replace the rule set: %+v", loaded)
	}
}

func TestEngineEvaluateScopeFiltering(t *testing.T) {
	eng, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	posOnly := newRule("r-pos", "pos only", `transaction.amount > 0.0`, 30, 1)
	posOnly.Channels = []domain.Channel{domain.ChannelPOS}

	denied := newRule("r-deny", "merchant denied", `transaction.amount > 0.0`, 30, 1)
	denied.MerchantDeny = []string{"m1"}

	allowedElsewhere := newRule("r-allow", "allow list", `transaction.amount > 0.0`, 30, 1)
	allowedElsewhere.MerchantAllow = []string{"m2"}

	inScope := newRule("r-in", "in scope", `transaction.amount > 0.0`, 30, 1)

	if err := eng.LoadRules([]*domain.Rule{posOnly, denied, allowedElsewhere, inScope}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	result := eng.Evaluate(context.Background(), engineTx())
	if result.Evaluated != 1 {
		t.Fatalf("Evaluated = %d, want 1", result.Evaluated)
	}
	if len(result.Triggered) != 1 || result.Triggered[0].RuleID != "r-in" {
		t.Fatalf("Triggered = %+v, want only r-in", result.Triggered)
	}
}

func TestEngineEvaluateScoreIsMax(t *testing.T) {
	store := &fakeRuleStore{}
	eng, err := NewEngine(store, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := eng.LoadRules([]*domain.Rule{
		newRule("r1", "amount", `transaction.amount > 1000.0`, 60, 5),
		newRule("r2", "channel", `transaction.channel == "ecommerce"`, 45, 10),
		newRule("r3", "never", `transaction.amount > 1000000.0`, 99, 1),
	}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	result := eng.Evaluate(context.Background(), engineTx())
	if result.Evaluated != 3 {
		t.Fatalf("Evaluated = %d, want 3", result.Evaluated)
	}
	if len(result.Triggered) != 2 {
		t.Fatalf("Triggered = %+v, want 2 rules", result.Triggered)
	}
	// Priority desc, then name asc.
	if result.Triggered[0].RuleID != "r2" || result.Triggered[1].RuleID != "r1" {
		t.Fatalf("trigger order = %s, %s", result.Triggered[0].RuleID, result.Triggered[1].RuleID)
	}
	if result.Score != 60 {
		t.Fatalf("Score = %.1f, want max 60 not sum 105", result.Score)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.hits) != 2 {
		t.Fatalf("RecordRuleHit calls = %d, want 2", len(store.hits))
	}
	if len(store.execs) != 3 {
		t.Fatalf("audit rows = %d, want one per evaluated rule", len(store.execs))
	}
	for _, e := range store.execs {
		if e.ID == "" || e.TxID != "tx-1" || e.TenantID != "t1" {
			t.Fatalf("incomplete execution record: %+v", e)
		}
	}
}

func TestEngineEvaluateRuleErrorIsolation(t *testing.T) {
	store := &fakeRuleStore{}
	eng, err := NewEngine(store, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := eng.LoadRules([]*domain.Rule{
		newRule("r-bad", "missing field", `transaction.no_such_field > 10.0`, 90, 10),
		newRule("r-good", "amount", `transaction.amount > 1000.0`, 55, 5),
	}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	result := eng.Evaluate(context.Background(), engineTx())
	if result.Errored != 1 {
		t.Fatalf("Errored = %d, want 1", result.Errored)
	}
	if len(result.Triggered) != 1 || result.Triggered[0].RuleID != "r-good" {
		t.Fatalf("Triggered = %+v, want only r-good", result.Triggered)
	}
	if result.Score != 55 {
		t.Fatalf("Score = %.1f, want 55", result.Score)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	var badExec *domain.RuleExecution
	for i := range store.execs {
		if store.execs[i].RuleID == "r-bad" {
			badExec = &store.execs[i]
		}
	}
	if badExec == nil || badExec.Error == "" || badExec.Triggered {
		t.Fatalf("failed rule not audited as errored: %+v", badExec)
	}
}

func TestEngineEvaluateNoApplicableRules(t *testing.T) {
	eng, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	result := eng.Evaluate(context.Background(), engineTx())
	if result.Evaluated != 0 || result.Score != 0 || len(result.Triggered) != 0 {
		t.Fatalf("empty engine produced %+v", result)
	}
}

func TestEngineValidateCondition(t *testing.T) {
	eng, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if ok, _ := eng.ValidateCondition(`transaction.amount > 100.0`); !ok {
		t.Fatal("valid condition rejected")
	}
	if ok, reason := eng.ValidateCondition(`system.exit()`); ok {
		t.Fatal("invalid condition accepted")
	} else if reason == "" {
		t.Fatal("rejection must carry a reason")
	}
}
