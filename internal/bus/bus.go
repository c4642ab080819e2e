package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

// Topic is the closed set of change-notification topics. The string values
// and the wire types below are part of the contract between instances.
type Topic string

const (
	TopicProductsUpdated   Topic = "products-updated"
	TopicCategoriesUpdated Topic = "categories-updated"
	TopicOrdersUpdated     Topic = "orders-updated"
	TopicForceReload       Topic = "force-reload"
)

var wireTypes = map[Topic]string{
	TopicProductsUpdated:   "PRODUCTS_UPDATED",
	TopicCategoriesUpdated: "CATEGORIES_UPDATED",
	TopicOrdersUpdated:     "ORDERS_UPDATED",
	TopicForceReload:       "FORCE_RELOAD",
}

var topicsByWireType = func() map[string]Topic {
	m := make(map[string]Topic, len(wireTypes))
	for t, w := range wireTypes {
		m[w] = t
	}
	return m
}()

// Envelope is the cross-instance message format.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"` // PRODUCTS_UPDATED etc.
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Producer  string          `json:"producer,omitempty"`
}

// Transport carries envelopes between instances. Send is asynchronous and
// best-effort; Start hands inbound envelopes to dispatch until the context
// is cancelled.
type Transport interface {
	Send(ctx context.Context, env Envelope)
	Start(ctx context.Context, dispatch func(Envelope))
	Close()
}

type Handler func(Envelope)

// Bus fans a change notification out through three channels: same-process
// subscribers (synchronously), the store-level key "bus:{topic}", and the
// cross-instance transport. None of the channels deduplicate; a handler may
// see the same logical change more than once and must be idempotent.
type Bus struct {
	store     storage.Store
	transport Transport
	producer  string
	log       *zap.Logger

	mu   sync.Mutex
	subs map[Topic]map[uintptr]Handler
}

func New(store storage.Store, transport Transport, producer string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		store:     store,
		transport: transport,
		producer:  producer,
		log:       log,
		subs:      make(map[Topic]map[uintptr]Handler),
	}
}

// Start begins consuming the cross-instance transport, if any. Inbound
// envelopes produced by this instance are dropped; the local fan-out already
// delivered them.
func (b *Bus) Start(ctx context.Context) {
	if b.transport == nil {
		return
	}
	b.transport.Start(ctx, func(env Envelope) {
		if env.Producer != "" && env.Producer == b.producer {
			return
		}
		b.Dispatch(env)
	})
}

func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	wt, ok := wireTypes[topic]
	if !ok {
		return fmt.Errorf("publish: unknown topic %q", topic)
	}
	var raw json.RawMessage
	if payload != nil {
		bts, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		raw = bts
	}
	env := Envelope{
		EventID:   uuid.NewString(),
		Type:      wt,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Producer:  b.producer,
	}

	b.deliver(topic, env)

	if b.store != nil {
		val, _ := json.Marshal(env)
		if err := b.store.Set(ctx, storeKey(topic), val); err != nil {
			b.log.Warn("store notify failed", zap.String("topic", string(topic)), zap.Error(err))
		}
	}
	if b.transport != nil {
		b.transport.Send(ctx, env)
	}
	return nil
}

// Subscribe registers h for topic. Registration is idempotent per handler
// identity: subscribing the same function twice keeps a single registration.
// The returned unsubscribe is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	key := reflect.ValueOf(h).Pointer()
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uintptr]Handler)
	}
	b.subs[topic][key] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], key)
		b.mu.Unlock()
	}
}

// Dispatch delivers an inbound envelope to local subscribers. Exposed for
// transports and tests.
func (b *Bus) Dispatch(env Envelope) {
	topic, ok := topicsByWireType[env.Type]
	if !ok {
		b.log.Warn("unknown envelope type", zap.String("type", env.Type))
		return
	}
	b.deliver(topic, env)
}

func (b *Bus) deliver(topic Topic, env Envelope) {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func storeKey(topic Topic) string { return "bus:" + string(topic) }
