package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/harrier/internal/domain"
)

// natsBus is the Pro tier bus. Envelopes are JSON on tenant-scoped
// subjects; reconnection and buffering are delegated to the NATS
// client.
type natsBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*natsSub
}

type natsSub struct {
	topic string
	sub   *nats.Subscription
}

func newNATSBus(cfg domain.EventBusConfig) (*natsBus, error) {
	cfg = withNATSDefaults(cfg)

	conn, err := dialNATS(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("nats connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)
	return &natsBus{conn: conn}, nil
}

func withNATSDefaults(cfg domain.EventBusConfig) domain.EventBusConfig {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	return cfg
}

// natsOptions wires the client's resilience hooks into slog. An 8MB
// reconnect buffer absorbs decision events while the server is away.
func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("nats error", "error", err, "subject", sub.Subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

func dialNATS(cfg domain.EventBusConfig) (*nats.Conn, error) {
	opts := natsOptions(cfg)

	var lastErr error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err := nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("nats connect failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		time.Sleep(time.Duration(cfg.NATSReconnectWait) * time.Second)
	}
	return nil, fmt.Errorf("connect to nats after %d attempts: %w", cfg.NATSMaxReconnects, lastErr)
}

// Publish wraps the payload in the wire envelope and sends it on the
// tenant's subject.
func (b *natsBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	data, err := json.Marshal(newEnvelope(tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.conn.Publish(subjectFor(tenantID, topic), data)
}

// Subscribe registers a handler on the tenant's subject. Envelopes that
// fail to decode are logged and dropped; handler errors are logged and
// left to the caller's idempotency (core NATS does not redeliver).
func (b *natsBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	subject := subjectFor(tenantID, topic)
	ns, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		var env domain.Message
		if err := json.Unmarshal(m.Data, &env); err != nil {
			slog.Error("drop undecodable envelope", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &env); err != nil {
			slog.Error("event handler failed", "subject", m.Subject, "msg_id", env.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	sub := &natsSub{topic: topic, sub: ns}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Request round-trips through the NATS request-reply inbox, honoring
// the context deadline.
func (b *natsBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}
	data, err := json.Marshal(newEnvelope(tenantID, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	reply, err := b.conn.Request(subjectFor(tenantID, topic), data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var env domain.Message
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		return nil, fmt.Errorf("decode reply envelope: %w", err)
	}
	return env.Payload, nil
}

// Ping verifies the connection by flushing pending traffic.
func (b *natsBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains every subscription and closes the connection.
func (b *natsBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Unsubscribe removes the subscription.
func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSub) Topic() string {
	return s.topic
}
