package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Typed payloads for the decision pipeline topics. Everything on the
// bus is one of these shapes; raw []byte only exists at the transport
// boundary.

// IngestedEvent is the payload on TopicTransactionIngested. The API
// publishes it on async ingestion and the pipeline worker consumes it.
type IngestedEvent struct {
	Transaction domain.Transaction `json:"transaction"`
	Source      string             `json:"source,omitempty"`
	ReceivedAt  time.Time          `json:"receivedAt"`
}

// DecisionEvent is the payload on TopicDecision, emitted once per
// decided transaction.
type DecisionEvent struct {
	Result    domain.DecisionResult `json:"result"`
	EmittedAt time.Time             `json:"emittedAt"`
}

// Alert severities. Rejections are critical; review holds are warnings
// an analyst should look at.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// AlertEvent is the payload on TopicAlert, emitted for every rejected
// or review-held transaction.
type AlertEvent struct {
	TxID      string          `json:"txId"`
	TenantID  string          `json:"tenantId"`
	Decision  domain.Decision `json:"decision"`
	Score     float64         `json:"score"`
	Reason    string          `json:"reason,omitempty"`
	Severity  string          `json:"severity"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// PatternEvent is the payload on TopicPatternDetected, emitted when the
// graph stage produced concrete AML findings for a transaction.
type PatternEvent struct {
	TxID     string           `json:"txId"`
	TenantID string           `json:"tenantId"`
	Patterns []string         `json:"patterns"`
	Findings domain.AMLResult `json:"findings"`
}

// PatternNames lists which AML patterns fired in a result, in the order
// the analyzer evaluates them.
func PatternNames(r *domain.AMLResult) []string {
	var names []string
	if r.CircularFlowDetected {
		names = append(names, "circular_flow")
	}
	if len(r.LayeringPaths) > 0 {
		names = append(names, "layering")
	}
	if len(r.StructuringDays) > 0 {
		names = append(names, "structuring")
	}
	if len(r.RoundAmountTxs) > 0 {
		names = append(names, "round_amounts")
	}
	if len(r.FanInTxs) > 0 {
		names = append(names, "fan_in")
	}
	if len(r.RepeatedPairs) > 0 {
		names = append(names, "repeated_pairs")
	}
	return names
}

// Publisher emits typed pipeline events over an EventBus.
type Publisher struct {
	bus domain.EventBus
}

// NewPublisher wraps a bus with the typed event vocabulary.
func NewPublisher(b domain.EventBus) *Publisher {
	return &Publisher{bus: b}
}

// TransactionIngested enqueues a transaction for async decisioning.
func (p *Publisher) TransactionIngested(ctx context.Context, tx *domain.Transaction, source string) error {
	evt := IngestedEvent{
		Transaction: *tx,
		Source:      source,
		ReceivedAt:  time.Now().UTC(),
	}
	return p.emit(ctx, tx.TenantID, domain.TopicTransactionIngested, evt)
}

// DecisionMade announces a completed decision.
func (p *Publisher) DecisionMade(ctx context.Context, res *domain.DecisionResult) error {
	evt := DecisionEvent{Result: *res, EmittedAt: time.Now().UTC()}
	return p.emit(ctx, res.TenantID, domain.TopicDecision, evt)
}

// AlertRaised announces a rejected or review-held transaction.
func (p *Publisher) AlertRaised(ctx context.Context, res *domain.DecisionResult) error {
	severity := SeverityWarning
	if res.Decision == domain.DecisionReject {
		severity = SeverityCritical
	}
	evt := AlertEvent{
		TxID:      res.TxID,
		TenantID:  res.TenantID,
		Decision:  res.Decision,
		Score:     res.Score,
		Reason:    res.FlagReason,
		Severity:  severity,
		EmittedAt: time.Now().UTC(),
	}
	return p.emit(ctx, res.TenantID, domain.TopicAlert, evt)
}

// PatternsDetected announces AML findings attached to a decision.
func (p *Publisher) PatternsDetected(ctx context.Context, res *domain.DecisionResult, findings *domain.AMLResult) error {
	evt := PatternEvent{
		TxID:     res.TxID,
		TenantID: res.TenantID,
		Patterns: PatternNames(findings),
		Findings: *findings,
	}
	return p.emit(ctx, res.TenantID, domain.TopicPatternDetected, evt)
}

func (p *Publisher) emit(ctx context.Context, tenantID, topic string, evt any) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return p.bus.Publish(ctx, tenantID, topic, payload)
}

// DecodeIngested parses an IngestedEvent off the wire.
func DecodeIngested(msg *domain.Message) (*IngestedEvent, error) {
	var evt IngestedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("decode ingested event: %w", err)
	}
	return &evt, nil
}

// DecodeDecision parses a DecisionEvent off the wire.
func DecodeDecision(msg *domain.Message) (*DecisionEvent, error) {
	var evt DecisionEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("decode decision event: %w", err)
	}
	return &evt, nil
}

// DecodeAlert parses an AlertEvent off the wire.
func DecodeAlert(msg *domain.Message) (*AlertEvent, error) {
	var evt AlertEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("decode alert event: %w", err)
	}
	return &evt, nil
}

// DecodePattern parses a PatternEvent off the wire.
func DecodePattern(msg *domain.Message) (*PatternEvent, error) {
	var evt PatternEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("decode pattern event: %w", err)
	}
	return &evt, nil
}
