package bus

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestBus(t *testing.T) *channelBus {
	t.Helper()
	b := newChannelBus(64)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// collect subscribes and returns a channel the test can drain.
func collect(t *testing.T, b *channelBus, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	got := make(chan *domain.Message, 64)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(_ context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s/%s: %v", tenantID, topic, err)
	}
	return got
}

func recvMsg(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func decisionFixture(decision domain.Decision, score float64) *domain.DecisionResult {
	return &domain.DecisionResult{
		ID:         "d1",
		TenantID:   "acme",
		TxID:       "tx1",
		Score:      score,
		Decision:   decision,
		Flagged:    decision != domain.DecisionApprove,
		FlagReason: "high risk score: 91.00",
	}
}

func TestSubjectForScopesTopicToTenant(t *testing.T) {
	got := subjectFor("acme", domain.TopicDecision)
	want := "harrier.acme.decision"
	if got != want {
		t.Fatalf("subject = %q, want %q", got, want)
	}
	// Topics without the product prefix still get tenant-scoped.
	if got := subjectFor("acme", "custom.topic"); got != "harrier.acme.custom.topic" {
		t.Fatalf("subject = %q", got)
	}
}

func TestPublishRequiresTenant(t *testing.T) {
	b := newTestBus(t)
	if err := b.Publish(context.Background(), "", domain.TopicDecision, []byte("{}")); err == nil {
		t.Fatal("expected error for empty tenant")
	}
	if _, err := b.Subscribe(context.Background(), "", domain.TopicDecision, func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Fatal("expected error for empty tenant")
	}
}

func TestDecisionEventsAreTenantIsolated(t *testing.T) {
	b := newTestBus(t)
	pub := NewPublisher(b)

	acme := collect(t, b, "acme", domain.TopicDecision)
	rival := collect(t, b, "rival", domain.TopicDecision)

	if err := pub.DecisionMade(context.Background(), decisionFixture(domain.DecisionApprove, 12)); err != nil {
		t.Fatalf("publish decision: %v", err)
	}

	msg := recvMsg(t, acme)
	evt, err := DecodeDecision(msg)
	if err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if evt.Result.TxID != "tx1" || evt.Result.Decision != domain.DecisionApprove {
		t.Errorf("unexpected decision event: %+v", evt.Result)
	}
	if msg.TenantID != "acme" || msg.Topic != domain.TopicDecision {
		t.Errorf("envelope = tenant %q topic %q", msg.TenantID, msg.Topic)
	}

	select {
	case msg := <-rival:
		t.Fatalf("rival tenant received acme's decision: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAlertEventSeverity(t *testing.T) {
	b := newTestBus(t)
	pub := NewPublisher(b)
	alerts := collect(t, b, "acme", domain.TopicAlert)

	if err := pub.AlertRaised(context.Background(), decisionFixture(domain.DecisionReject, 91)); err != nil {
		t.Fatalf("publish alert: %v", err)
	}
	evt, err := DecodeAlert(recvMsg(t, alerts))
	if err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if evt.Severity != SeverityCritical {
		t.Errorf("reject severity = %q, want %q", evt.Severity, SeverityCritical)
	}
	if evt.Reason != "high risk score: 91.00" || evt.Score != 91 {
		t.Errorf("alert carries wrong decision data: %+v", evt)
	}

	if err := pub.AlertRaised(context.Background(), decisionFixture(domain.DecisionReview, 63)); err != nil {
		t.Fatalf("publish alert: %v", err)
	}
	evt, err = DecodeAlert(recvMsg(t, alerts))
	if err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if evt.Severity != SeverityWarning {
		t.Errorf("review severity = %q, want %q", evt.Severity, SeverityWarning)
	}
}

func TestPatternEventNamesFindings(t *testing.T) {
	b := newTestBus(t)
	pub := NewPublisher(b)
	patterns := collect(t, b, "acme", domain.TopicPatternDetected)

	findings := &domain.AMLResult{
		CircularFlowDetected: true,
		StructuringDays: []domain.StructuringDay{
			{Day: "2026-03-10", Threshold: 10000, Count: 3, Score: 89},
		},
		SyndicationScore: 74,
	}
	if err := pub.PatternsDetected(context.Background(), decisionFixture(domain.DecisionReview, 63), findings); err != nil {
		t.Fatalf("publish pattern event: %v", err)
	}

	evt, err := DecodePattern(recvMsg(t, patterns))
	if err != nil {
		t.Fatalf("decode pattern event: %v", err)
	}
	want := []string{"circular_flow", "structuring"}
	if len(evt.Patterns) != len(want) {
		t.Fatalf("patterns = %v, want %v", evt.Patterns, want)
	}
	for i, name := range want {
		if evt.Patterns[i] != name {
			t.Errorf("patterns[%d] = %q, want %q", i, evt.Patterns[i], name)
		}
	}
	if evt.TxID != "tx1" || evt.Findings.SyndicationScore != 74 {
		t.Errorf("unexpected pattern event: %+v", evt)
	}
}

func TestIngestedEventRoundTrip(t *testing.T) {
	b := newTestBus(t)
	pub := NewPublisher(b)
	ingested := collect(t, b, "acme", domain.TopicTransactionIngested)

	tx := &domain.Transaction{
		ID:       "tx9",
		TenantID: "acme",
		Type:     "transfer",
		Channel:  domain.ChannelWallet,
		Amount:   420.50,
		Currency: "EUR",
		UserID:   "alice",
	}
	if err := pub.TransactionIngested(context.Background(), tx, "api"); err != nil {
		t.Fatalf("publish ingested: %v", err)
	}

	evt, err := DecodeIngested(recvMsg(t, ingested))
	if err != nil {
		t.Fatalf("decode ingested: %v", err)
	}
	if evt.Transaction.ID != "tx9" || evt.Transaction.Amount != 420.50 {
		t.Errorf("transaction did not survive the round trip: %+v", evt.Transaction)
	}
	if evt.Source != "api" {
		t.Errorf("source = %q, want api", evt.Source)
	}
	if evt.ReceivedAt.IsZero() {
		t.Error("receivedAt not stamped")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	got := make(chan *domain.Message, 8)
	sub, err := b.Subscribe(context.Background(), "acme", domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	still := collect(t, b, "acme", domain.TopicAlert)

	if err := b.Publish(context.Background(), "acme", domain.TopicAlert, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	recvMsg(t, got)
	recvMsg(t, still)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Idempotent.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}

	if err := b.Publish(context.Background(), "acme", domain.TopicAlert, []byte(`{"n":2}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	recvMsg(t, still)
	select {
	case msg := <-got:
		t.Fatalf("unsubscribed handler received %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestReplyViaMetadata(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Subscribe(context.Background(), "acme", "score.lookup", func(ctx context.Context, msg *domain.Message) error {
		return b.Publish(ctx, msg.TenantID, msg.Metadata[MetaReplyTo], []byte(`{"score":42}`))
	})
	if err != nil {
		t.Fatalf("subscribe responder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := b.Request(ctx, "acme", "score.lookup", []byte(`{"user":"alice"}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply) != `{"score":42}` {
		t.Errorf("reply = %s", reply)
	}
}

func TestClosedBusRejectsTraffic(t *testing.T) {
	b := newChannelBus(8)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping before close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Idempotent.
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := b.Publish(context.Background(), "acme", domain.TopicDecision, []byte("{}")); err == nil {
		t.Fatal("publish after close should fail")
	}
	if _, err := b.Subscribe(context.Background(), "acme", domain.TopicDecision, func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Fatal("subscribe after close should fail")
	}
	if err := b.Ping(context.Background()); err == nil {
		t.Fatal("ping after close should fail")
	}
}

func TestNewSelectsTransport(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 8})
	if err != nil {
		t.Fatalf("new channel bus: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*channelBus); !ok {
		t.Fatalf("expected channel bus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "zeromq"}); err == nil {
		t.Fatal("expected error for unknown bus type")
	}
}
