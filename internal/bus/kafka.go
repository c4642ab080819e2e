package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var _ Transport = (*KafkaTransport)(nil)

// KafkaTransport carries broadcast envelopes on a single topic. Every
// instance must use its own consumer group so that each one receives every
// envelope; sharing a group would split the broadcast.
type KafkaTransport struct {
	w       *kafka.Writer
	brokers []string
	topic   string
	group   string
	log     *zap.Logger

	mu      sync.Mutex
	closed  bool
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewKafkaTransport(brokers []string, topic, group string, buf int, log *zap.Logger) *KafkaTransport {
	if log == nil {
		log = zap.NewNop()
	}
	if buf <= 0 {
		buf = 1024
	}
	return &KafkaTransport{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true, // fire-and-forget, errors logged in the loop
		},
		brokers: brokers,
		topic:   topic,
		group:   group,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (t *KafkaTransport) Send(ctx context.Context, env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		t.log.Warn("envelope marshal failed", zap.Error(err))
		return
	}
	m := kafka.Message{
		Key:   []byte(env.Type),
		Value: b,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.Type)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.inbox <- m:
	default:
		t.log.Warn("broadcast inbox full, dropping", zap.String("type", env.Type))
	}
}

// Start launches the producer flush loop and the consumer loop.
func (t *KafkaTransport) Start(ctx context.Context, dispatch func(Envelope)) {
	go t.produceLoop(ctx)
	go t.consumeLoop(ctx, dispatch)
}

func (t *KafkaTransport) produceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.closed = true
			close(t.inbox)
			t.mu.Unlock()
			for m := range t.inbox {
				_ = t.w.WriteMessages(context.Background(), m)
			}
			_ = t.w.Close()
			close(t.closeCh)
			return
		case m, ok := <-t.inbox:
			if !ok {
				_ = t.w.Close()
				return
			}
			if err := t.w.WriteMessages(context.Background(), m); err != nil {
				t.log.Warn("broadcast write failed", zap.Error(err))
			}
		}
	}
}

func (t *KafkaTransport) consumeLoop(ctx context.Context, dispatch func(Envelope)) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  t.brokers,
		GroupID:  t.group,
		Topic:    t.topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				t.log.Warn("broadcast read failed", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
		}
		var env Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			t.log.Warn("bad envelope", zap.Error(err))
			continue
		}
		dispatch(env)
	}
}

// Close flushes pending messages; call after cancelling the Start context.
func (t *KafkaTransport) Close() { <-t.closeCh }
