// Package bus carries the decision pipeline's events: ingested
// transactions in, decisions, alerts, and AML pattern findings out.
// The Community tier runs an in-process channel bus; the Pro tier runs
// on NATS. Both speak the same tenant-scoped subject scheme.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	errTenantRequired = errors.New("tenant id is required")
	errBusClosed      = errors.New("event bus is closed")
)

// New builds the event bus for the configured tier.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return newChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return newNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unknown event bus type %q", cfg.Type)
	}
}

const subjectPrefix = "harrier."

// subjectFor scopes a topic to one tenant: "harrier.decision" for
// tenant "acme" becomes "harrier.acme.decision". Cross-tenant delivery
// would leak decisioning data, so the tenant segment is mandatory on
// every subject.
func subjectFor(tenantID, topic string) string {
	return subjectPrefix + tenantID + "." + strings.TrimPrefix(topic, subjectPrefix)
}

// newEnvelope wraps a payload in the wire envelope both transports use.
func newEnvelope(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
