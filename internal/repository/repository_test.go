package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := NewRepository(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "harrier_test.db"),
	})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleTx(id string, at time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		TenantID:  "t1",
		Type:      "purchase",
		Channel:   domain.ChannelPOS,
		Amount:    42.50,
		Currency:  "USD",
		UserID:    "u1",
		DeviceID:  "d1",
		Timestamp: at,
		POS:       &domain.POSDetails{TerminalID: "term-9", EntryMode: "chip", CardPresent: true},
		Metadata:  map[string]interface{}{"mcc": "5411"},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.SaveTransaction(ctx, "t1", sampleTx("tx1", at)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.GetTransaction(ctx, "t1", "tx1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != 42.50 || got.Channel != domain.ChannelPOS {
		t.Fatalf("unexpected transaction: %+v", got)
	}
	if got.POS == nil || got.POS.TerminalID != "term-9" || !got.POS.CardPresent {
		t.Fatalf("channel details lost: %+v", got.POS)
	}
	if got.Metadata["mcc"] != "5411" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	// Saving the same id again is a no-op, not an error.
	if err := repo.SaveTransaction(ctx, "t1", sampleTx("tx1", at)); err != nil {
		t.Fatalf("re-save: %v", err)
	}
}

func TestTransactionTenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.SaveTransaction(ctx, "t1", sampleTx("tx1", time.Now().UTC())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.GetTransaction(ctx, "t2", "tx1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
}

func TestGetTransactionsByUserWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{base, base.AddDate(0, 0, 10), base.AddDate(0, 0, 40)} {
		tx := sampleTx(string(rune('a'+i)), at)
		if err := repo.SaveTransaction(ctx, "t1", tx); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := repo.GetTransactionsByUser(ctx, "t1", "u1", base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 in window, got %d", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Fatal("expected ascending timestamp order")
	}
}

func TestGetTransactionsByEntityMatchesDevice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tx := sampleTx("tx1", time.Now().UTC())
	if err := repo.SaveTransaction(ctx, "t1", tx); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.GetTransactionsByEntity(ctx, "t1", "d1", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected device match, got %d", len(got))
	}
}

func TestRuleLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rule := &domain.Rule{
		ID: "r1", TenantID: "t1", Name: "big amount",
		Condition: "transaction.amount > 1000",
		Action:    domain.ActionReview, RiskScore: 60, Priority: 5, Active: true,
		Channels: []domain.Channel{domain.ChannelPOS},
	}
	if err := repo.SaveRule(ctx, "t1", rule); err != nil {
		t.Fatalf("save rule: %v", err)
	}

	inactive := &domain.Rule{
		ID: "r2", TenantID: "t1", Name: "disabled",
		Condition: "transaction.amount > 0",
		Action:    domain.ActionNotify, Active: false,
	}
	if err := repo.SaveRule(ctx, "t1", inactive); err != nil {
		t.Fatalf("save rule: %v", err)
	}

	active, err := repo.ListActiveRules(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "r1" {
		t.Fatalf("expected only the active rule, got %+v", active)
	}
	if len(active[0].Channels) != 1 || active[0].Channels[0] != domain.ChannelPOS {
		t.Fatalf("channels lost: %+v", active[0].Channels)
	}

	// Update in place via the same save.
	rule.RiskScore = 75
	if err := repo.SaveRule(ctx, "t1", rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}
	got, err := repo.GetRule(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.RiskScore != 75 {
		t.Fatalf("update lost: %+v", got)
	}
}

func TestRecordRuleHit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rule := &domain.Rule{
		ID: "r1", Name: "hits", Condition: "transaction.amount > 0",
		Action: domain.ActionNotify, Active: true,
	}
	if err := repo.SaveRule(ctx, "t1", rule); err != nil {
		t.Fatalf("save rule: %v", err)
	}

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := repo.RecordRuleHit(ctx, "t1", "r1", at.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record hit: %v", err)
		}
	}
	got, err := repo.GetRule(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.HitCount != 3 {
		t.Fatalf("expected 3 hits, got %d", got.HitCount)
	}
	if got.LastTriggered == nil || !got.LastTriggered.Equal(at.Add(2*time.Minute)) {
		t.Fatalf("unexpected last triggered: %v", got.LastTriggered)
	}

	if err := repo.RecordRuleHit(ctx, "t1", "missing", at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendRuleExecutions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	execs := []domain.RuleExecution{
		{TxID: "tx1", RuleID: "r1", Triggered: true, Value: true, DurationMs: 3},
		{TxID: "tx1", RuleID: "r2", Triggered: false, Error: "type mismatch"},
	}
	if err := repo.AppendRuleExecutions(ctx, "t1", execs); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.AppendRuleExecutions(ctx, "t1", nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}
}

func TestUpsertPattern(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC)
	p := &domain.Pattern{
		EntityKey:     "user:u1",
		Type:          domain.PatternStructuring,
		SubKey:        "10000|2026-04-03",
		RiskScore:     89,
		TxSamples:     []string{"tx1", "tx2"},
		FirstDetected: at, LastDetected: at,
	}

	// First detection creates the row unflagged (threshold is 3).
	if err := repo.UpsertPattern(ctx, "t1", p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.GetPattern(ctx, "t1", "user:u1", domain.PatternStructuring, "10000|2026-04-03")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OccurrenceCount != 1 || got.Suspicious {
		t.Fatalf("unexpected first state: %+v", got)
	}

	// Repeat detections increment in place; the third crosses the
	// structuring threshold and flips suspicious.
	p.RiskScore = 50 // lower score must not reduce the stored one
	p.LastDetected = at.Add(time.Hour)
	if err := repo.UpsertPattern(ctx, "t1", p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.UpsertPattern(ctx, "t1", p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err = repo.GetPattern(ctx, "t1", "user:u1", domain.PatternStructuring, "10000|2026-04-03")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OccurrenceCount != 3 {
		t.Fatalf("expected 3 occurrences, got %d", got.OccurrenceCount)
	}
	if got.RiskScore != 89 {
		t.Fatalf("risk score must only rise, got %v", got.RiskScore)
	}
	if !got.Suspicious {
		t.Fatal("expected suspicious at threshold")
	}

	all, err := repo.ListPatternsByEntity(ctx, "t1", "user:u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upserts must not duplicate rows, got %d", len(all))
	}
}

func TestCircularPatternSuspiciousImmediately(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := &domain.Pattern{
		EntityKey: "user:u1",
		Type:      domain.PatternCircularFlow,
		SubKey:    "user:u1>wallet:w1",
		RiskScore: 60,
	}
	if err := repo.UpsertPattern(ctx, "t1", p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.GetPattern(ctx, "t1", "user:u1", domain.PatternCircularFlow, "user:u1>wallet:w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Suspicious {
		t.Fatal("circular flow threshold is 1; first detection must flag")
	}
}

func TestDecisionWriteOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	d := &domain.DecisionResult{
		ID: "dec1", TenantID: "t1", TxID: "tx1",
		Score: 53, Decision: domain.DecisionReview, Flagged: true,
		SubScores: domain.SubScores{Rule: 60, ML: 70},
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.SaveDecision(ctx, "t1", d); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.GetDecisionByTx(ctx, "t1", "tx1")
	if err != nil {
		t.Fatalf("get by tx: %v", err)
	}
	if got.Score != 53 || got.SubScores.Rule != 60 {
		t.Fatalf("unexpected decision: %+v", got)
	}

	dup := *d
	dup.ID = "dec2"
	if err := repo.SaveDecision(ctx, "t1", &dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on second decision for tx, got %v", err)
	}
}

func TestBlocklistEntries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := &domain.BlocklistEntry{
		EntityType: domain.BlockEntityDevice, Value: "d1", Reason: "stolen",
	}
	if err := repo.SaveBlocklistEntry(ctx, "t1", e); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.LookupBlocklist(ctx, "t1", "device", "d1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Reason != "stolen" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if _, err := repo.LookupBlocklist(ctx, "t1", "device", "d2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.LookupBlocklist(ctx, "t2", "device", "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected tenant isolation, got %v", err)
	}

	if err := repo.DeleteBlocklistEntry(ctx, "t1", "device", "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteBlocklistEntry(ctx, "t1", "device", "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
