package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MetaReplyTo carries the reply subject for in-process request-reply.
// Responders publish their answer to this topic.
const MetaReplyTo = "reply_to"

const defaultInboxSize = 1000

// channelBus is the Community tier bus. All tenants share one process,
// so a registry of subject -> subscribers behind a mutex is the whole
// transport. Delivery is at-most-once: a full subscriber inbox drops
// the message rather than stalling the decision path.
type channelBus struct {
	inboxSize int
	dropped   atomic.Uint64

	mu     sync.RWMutex
	closed bool
	nextID int
	subs   map[string]map[int]*chanSub
}

type chanSub struct {
	owner *channelBus
	key   string
	id    int
	topic string

	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	once    sync.Once
}

func newChannelBus(inboxSize int) *channelBus {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	return &channelBus{
		inboxSize: inboxSize,
		subs:      make(map[string]map[int]*chanSub),
	}
}

// Publish fans the payload out to every subscriber of the tenant's
// subject. Sends happen under the read lock so an inbox is never
// closed mid-send.
func (b *channelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return b.deliver(subjectFor(tenantID, topic), newEnvelope(tenantID, topic, payload))
}

func (b *channelBus) deliver(subject string, env *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	for _, sub := range b.subs[subject] {
		select {
		case sub.inbox <- env:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a handler for the tenant's subject. The handler
// runs on a dedicated goroutine per subscription, in publish order.
func (b *channelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}

	b.nextID++
	sub := &chanSub{
		owner:   b,
		key:     subjectFor(tenantID, topic),
		id:      b.nextID,
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.inboxSize),
		ctx:     ctx,
	}
	if b.subs[sub.key] == nil {
		b.subs[sub.key] = make(map[int]*chanSub)
	}
	b.subs[sub.key][sub.id] = sub

	go sub.pump()
	return sub, nil
}

// pump drains the inbox until Unsubscribe or Close closes it. Handler
// errors are swallowed: the Community tier has no redelivery.
func (s *chanSub) pump() {
	for env := range s.inbox {
		_ = s.handler(s.ctx, env)
	}
}

// Request publishes the payload and waits for one reply. The reply
// subject travels in the envelope's reply_to metadata; responders
// publish their answer there.
func (b *channelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	replyTopic := topic + ".reply." + uuid.New().String()
	replyCh := make(chan []byte, 1)

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(_ context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	env := newEnvelope(tenantID, topic, payload)
	env.Metadata[MetaReplyTo] = replyTopic
	if err := b.deliver(subjectFor(tenantID, topic), env); err != nil {
		return nil, err
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// Ping reports whether the bus still accepts traffic.
func (b *channelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	return nil
}

// Dropped returns how many messages were discarded on full inboxes.
func (b *channelBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts the bus down and stops every subscriber.
func (b *channelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, bySub := range b.subs {
		for _, sub := range bySub {
			close(sub.inbox)
		}
	}
	b.subs = make(map[string]map[int]*chanSub)
	return nil
}

// Unsubscribe removes the subscription from the registry and stops its
// pump. Safe to call more than once; a no-op after Close.
func (s *chanSub) Unsubscribe() error {
	s.once.Do(func() {
		b := s.owner
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		if bySub := b.subs[s.key]; bySub != nil {
			delete(bySub, s.id)
			if len(bySub) == 0 {
				delete(b.subs, s.key)
			}
		}
		close(s.inbox)
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
