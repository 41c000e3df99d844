// Package bus implements the event fabric that decouples signal producers
// from order consumers. Dispatch is sequential per topic: each topic owns a
// queue and a single dispatcher goroutine, so subscribers observe events in
// publish order and handler failures never reach the publisher.
package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantra/internal/logger"
)

// ErrQueueFull is returned by Publish when a topic queue is saturated.
// Publish never waits for slow handlers; the caller decides whether the
// event is droppable or worth retrying.
var ErrQueueFull = errors.New("bus: topic queue full")

// Topic names a stream of events.
type Topic string

const (
	TopicSignalGenerated Topic = "signal_generated"
	TopicOrderCreated    Topic = "order_created"
	TopicOrderFilled     Topic = "order_filled"
	TopicOrderFailed     Topic = "order_failed"
	TopicPositionUpdated Topic = "position_updated"
	TopicRiskAlert       Topic = "risk_alert"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string
	Topic     Topic
	Payload   any
	CreatedAt time.Time
}

// Handler consumes events for one topic.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Subscription is the handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	topic Topic
	id    uint64
}

type subscriber struct {
	id uint64
	h  Handler
}

type topicQueue struct {
	ch   chan Event
	subs []subscriber
}

// Bus routes events from publishers to topic subscribers.
type Bus struct {
	mu      sync.Mutex
	topics  map[Topic]*topicQueue
	nextSub uint64
	closed  bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	journal func(Event)

	bufferScale int
}

// DefaultQueueDepth is the per-topic queue capacity used by New.
const DefaultQueueDepth = 128

// New creates a Bus with the default per-topic queue depth.
func New() *Bus {
	return NewWithQueueDepth(DefaultQueueDepth)
}

// NewWithQueueDepth creates a Bus whose topic queues hold depth events.
// Non-positive depth falls back to the default.
func NewWithQueueDepth(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Bus{
		topics:      make(map[Topic]*topicQueue),
		stopCh:      make(chan struct{}),
		bufferScale: depth,
	}
}

// SetJournal installs a hook invoked for every published event before
// subscriber dispatch. Used for the append-only event journal.
func (b *Bus) SetJournal(fn func(Event)) {
	b.mu.Lock()
	b.journal = fn
	b.mu.Unlock()
}

// Subscribe registers a handler for a topic. Handlers on the same topic are
// invoked in registration order.
func (b *Bus) Subscribe(topic Topic, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("bus: nil handler for topic %s", topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus: closed")
	}
	q := b.ensureTopicLocked(topic)
	b.nextSub++
	sub := subscriber{id: b.nextSub, h: h}
	q.subs = append(q.subs, sub)
	return &Subscription{topic: topic, id: sub.id}, nil
}

// Unsubscribe removes a previously registered handler. Removing an absent or
// already removed subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	for i := range q.subs {
		if q.subs[i].id == sub.id {
			q.subs = append(q.subs[:i], q.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues an event for its topic dispatcher and returns immediately;
// subscriber execution happens on the dispatcher goroutine. When the topic
// queue is full it returns ErrQueueFull instead of waiting on slow handlers.
func (b *Bus) Publish(topic Topic, payload any) error {
	evt := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus: closed")
	}
	q := b.ensureTopicLocked(topic)
	journal := b.journal
	b.mu.Unlock()

	if journal != nil {
		journal(evt)
	}

	select {
	case q.ch <- evt:
		return nil
	case <-b.stopCh:
		return fmt.Errorf("bus: closed")
	default:
		logger.Warnf("bus: %s queue full, event %s dropped", topic, evt.ID)
		return fmt.Errorf("bus: topic %s: %w", topic, ErrQueueFull)
	}
}

// Close stops all topic dispatchers and waits for in-flight events to finish.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.stopCh)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) ensureTopicLocked(topic Topic) *topicQueue {
	q, ok := b.topics[topic]
	if !ok {
		q = &topicQueue{ch: make(chan Event, b.bufferScale)}
		b.topics[topic] = q
		b.wg.Add(1)
		go b.runTopic(topic, q)
	}
	return q
}

func (b *Bus) runTopic(topic Topic, q *topicQueue) {
	defer b.wg.Done()
	for {
		select {
		case evt := <-q.ch:
			b.dispatch(q, evt)
		case <-b.stopCh:
			// Drain what was accepted before shutdown.
			for {
				select {
				case evt := <-q.ch:
					b.dispatch(q, evt)
				default:
					return
				}
			}
		}
	}
}

// dispatch invokes every current subscriber sequentially with isolated
// failure handling: an erroring or panicking handler does not prevent later
// handlers from seeing the event.
func (b *Bus) dispatch(q *topicQueue, evt Event) {
	b.mu.Lock()
	subs := make([]subscriber, len(q.subs))
	copy(subs, q.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(sub, evt)
	}
}

func (b *Bus) invoke(sub subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("bus: handler panic on %s: %v", evt.Topic, r)
			debug.PrintStack()
		}
	}()
	start := time.Now()
	if err := sub.h.Handle(context.Background(), evt); err != nil {
		logger.Warnf("bus: handler error on %s: %v", evt.Topic, err)
	}
	if dur := time.Since(start); dur > 100*time.Millisecond {
		logger.Warnf("bus: slow handler on %s took %v", evt.Topic, dur)
	}
}
