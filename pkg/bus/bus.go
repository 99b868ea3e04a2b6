// Package bus is the process-local publish/subscribe fabric. Session, raid,
// and agent events fan out to subscribers over bounded per-subscription
// queues, each drained by its own goroutine, so one slow consumer never
// delays the others.
package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rallyhouse/rally/pkg/metrics"
)

// Sink receives events for one subscription. Deliver is called from the
// subscription's drain goroutine, one event at a time, in publish order.
// A Deliver error counts as a drop for that subscription only.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Event is the envelope delivered to subscribers.
type Event struct {
	Event   string    `json:"event"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	TS      time.Time `json:"ts"`
	Seq     uint64    `json:"seq"`
}

// Topic constructors.
func SessionTopic(id string) string { return "session:" + id }
func RaidTopic(id string) string    { return "raid:" + id }
func AgentTopic(id string) string   { return "agent:" + id }

// subscription is one live interest in a topic. Its queue is bounded; a
// full queue drops the incoming event for this subscription only.
type subscription struct {
	id     string
	connID string
	topic  string
	filter map[string]struct{} // nil means all events
	sink   Sink
	queue  chan Event
	done   chan struct{}
}

func (s *subscription) wants(event string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[event]
	return ok
}

// Bus owns all subscriptions. Zero-value is not usable; call New.
type Bus struct {
	queueSize    int
	writeTimeout time.Duration
	log          *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[string]*subscription // topic → sub id → sub
	subs   map[string]*subscription            // sub id → sub
	conns  map[string]map[string]struct{}      // conn id → sub ids
	seq    map[string]uint64                   // topic → last sequence
	closed bool

	wg sync.WaitGroup
}

// New creates a Bus. queueSize bounds each subscription's delivery queue;
// writeTimeout bounds one Deliver call.
func New(queueSize int, writeTimeout time.Duration) *Bus {
	return &Bus{
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		log:          slog.With("component", "bus"),
		topics:       make(map[string]map[string]*subscription),
		subs:         make(map[string]*subscription),
		conns:        make(map[string]map[string]struct{}),
		seq:          make(map[string]uint64),
	}
}

// Subscribe registers sink for a topic and returns the subscription id.
// filter, when non-empty, is an event-name allow-list. The returned id is
// also echoed on every future Unsubscribe.
func (b *Bus) Subscribe(connID, topic string, filter []string, sink Sink) (string, error) {
	sub := &subscription{
		id:     gonanoid.Must(12),
		connID: connID,
		topic:  topic,
		sink:   sink,
		queue:  make(chan Event, b.queueSize),
		done:   make(chan struct{}),
	}
	if len(filter) > 0 {
		sub.filter = make(map[string]struct{}, len(filter))
		for _, f := range filter {
			sub.filter[f] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrBusClosed
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*subscription)
	}
	b.topics[topic][sub.id] = sub
	b.subs[sub.id] = sub
	if b.conns[connID] == nil {
		b.conns[connID] = make(map[string]struct{})
	}
	b.conns[connID][sub.id] = struct{}{}
	b.mu.Unlock()

	metrics.Subscriptions.Inc()
	b.wg.Add(1)
	go b.drain(sub)
	return sub.id, nil
}

// Unsubscribe removes a subscription and stops its drain goroutine. The
// delivery queue is discarded; no residual state remains.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	if ok {
		b.remove(sub)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// CloseConn drops every subscription held by a connection.
func (b *Bus) CloseConn(connID string) {
	b.mu.Lock()
	var dropped []*subscription
	for subID := range b.conns[connID] {
		if sub, ok := b.subs[subID]; ok {
			b.remove(sub)
			dropped = append(dropped, sub)
		}
	}
	delete(b.conns, connID)
	b.mu.Unlock()

	for _, sub := range dropped {
		close(sub.done)
	}
}

// remove unlinks sub from all maps. Caller holds b.mu.
func (b *Bus) remove(sub *subscription) {
	delete(b.subs, sub.id)
	if subs := b.topics[sub.topic]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	if subs := b.conns[sub.connID]; subs != nil {
		delete(subs, sub.id)
	}
	metrics.Subscriptions.Dec()
}

// Publish enqueues an event for every subscription on the topic. A full
// subscription queue drops the event for that subscription and bumps the
// delivery_dropped counter; other subscriptions are unaffected.
//
// The enqueue happens under b.mu so that queue order matches seq order
// when publishers race. The sends are non-blocking, so the mutex is never
// held across a slow consumer.
func (b *Bus) Publish(topic, event string, payload any) {
	var dropped []string
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq[topic]++
	ev := Event{
		Event:   event,
		Topic:   topic,
		Payload: payload,
		TS:      time.Now().UTC(),
		Seq:     b.seq[topic],
	}
	for _, sub := range b.topics[topic] {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			dropped = append(dropped, sub.id)
		}
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(topicKind(topic)).Inc()
	for _, id := range dropped {
		metrics.DeliveryDropped.WithLabelValues("queue_full").Inc()
		b.log.Warn("Delivery queue full, dropping event",
			"subscription_id", id, "topic", topic, "event", event)
	}
}

// drain delivers a subscription's queue in order, one event at a time.
func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
			err := sub.sink.Deliver(ctx, ev)
			cancel()
			if err != nil {
				metrics.DeliveryDropped.WithLabelValues("write_timeout").Inc()
				b.log.Warn("Delivery failed, event dropped",
					"subscription_id", sub.id, "topic", sub.topic,
					"event", ev.Event, "error", err)
			}
		}
	}
}

// SubscriberCount reports live subscriptions for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Subscriptions reports the total number of live subscriptions.
func (b *Bus) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown sends a shutdown event to every subscriber, then stops all drain
// goroutines. It waits for in-flight deliveries up to the context deadline.
func (b *Bus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		all = append(all, sub)
	}
	b.topics = make(map[string]map[string]*subscription)
	b.subs = make(map[string]*subscription)
	b.conns = make(map[string]map[string]struct{})
	b.mu.Unlock()

	ev := Event{Event: EventShutdown, TS: time.Now().UTC()}
	for _, sub := range all {
		select {
		case sub.queue <- ev:
		default:
		}
	}

	// Let queued events (including the shutdown notice) flush before the
	// drains are stopped. One write timeout is enough for the tail event.
	flush := time.NewTimer(b.writeTimeout)
	defer flush.Stop()
	select {
	case <-flush.C:
	case <-ctx.Done():
	}

	for _, sub := range all {
		close(sub.done)
		metrics.Subscriptions.Dec()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.log.Warn("Bus shutdown exceeded grace, abandoning drains")
	}
}

func topicKind(topic string) string {
	if i := strings.IndexByte(topic, ':'); i > 0 {
		return topic[:i]
	}
	return "other"
}
