package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectSink records delivered events and optionally blocks each delivery
// until released.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{} // nil: deliver immediately
}

func (s *collectSink) Deliver(ctx context.Context, ev Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *collectSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(16, time.Second)
	defer b.Shutdown(context.Background())

	sink := &collectSink{}
	_, err := b.Subscribe("conn-1", SessionTopic("s1"), nil, sink)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish(SessionTopic("s1"), EventSessionMessage, i)
	}

	waitFor(t, func() bool { return len(sink.snapshot()) == 5 })
	evs := sink.snapshot()
	for i, ev := range evs {
		assert.Equal(t, i, ev.Payload)
		assert.Equal(t, uint64(i+1), ev.Seq, "per-topic sequence must be contiguous")
	}
}

func TestSlowSubscriberDoesNotDelayOthers(t *testing.T) {
	b := New(1, 50*time.Millisecond)
	defer b.Shutdown(context.Background())

	slow := &collectSink{block: make(chan struct{})}
	fast := &collectSink{}
	_, err := b.Subscribe("conn-slow", RaidTopic("r1"), nil, slow)
	require.NoError(t, err)
	_, err = b.Subscribe("conn-fast", RaidTopic("r1"), nil, fast)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		b.Publish(RaidTopic("r1"), EventRaidProgress, i)
	}

	// The fast subscriber got everything while the slow one is stuck.
	waitFor(t, func() bool { return len(fast.snapshot()) == 10 })
	close(slow.block)
}

func TestFullQueueDropsForThatSubscriptionOnly(t *testing.T) {
	b := New(2, 50*time.Millisecond)
	defer b.Shutdown(context.Background())

	blocked := &collectSink{block: make(chan struct{})}
	healthy := &collectSink{}
	_, err := b.Subscribe("c1", SessionTopic("s1"), nil, blocked)
	require.NoError(t, err)
	_, err = b.Subscribe("c2", SessionTopic("s1"), nil, healthy)
	require.NoError(t, err)

	// Queue size 2 plus one in-flight delivery: anything beyond is dropped
	// for the blocked subscription.
	for i := 0; i < 20; i++ {
		b.Publish(SessionTopic("s1"), EventSessionMessage, i)
	}
	waitFor(t, func() bool { return len(healthy.snapshot()) == 20 })

	close(blocked.block)
	waitFor(t, func() bool { return len(blocked.snapshot()) >= 1 })
	assert.Less(t, len(blocked.snapshot()), 20, "blocked subscription must have dropped events")
}

func TestUnsubscribeLeavesNoResidue(t *testing.T) {
	b := New(16, time.Second)
	defer b.Shutdown(context.Background())

	sink := &collectSink{}
	subID, err := b.Subscribe("conn-1", SessionTopic("s1"), nil, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount(SessionTopic("s1")))

	b.Unsubscribe(subID)
	assert.Equal(t, 0, b.SubscriberCount(SessionTopic("s1")))
	assert.Equal(t, 0, b.Subscriptions())

	b.Publish(SessionTopic("s1"), EventSessionMessage, "late")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

func TestCloseConnDropsAllSubscriptions(t *testing.T) {
	b := New(16, time.Second)
	defer b.Shutdown(context.Background())

	sink := &collectSink{}
	_, err := b.Subscribe("conn-1", SessionTopic("s1"), nil, sink)
	require.NoError(t, err)
	_, err = b.Subscribe("conn-1", RaidTopic("r1"), nil, sink)
	require.NoError(t, err)
	_, err = b.Subscribe("conn-2", RaidTopic("r1"), nil, sink)
	require.NoError(t, err)

	b.CloseConn("conn-1")
	assert.Equal(t, 0, b.SubscriberCount(SessionTopic("s1")))
	assert.Equal(t, 1, b.SubscriberCount(RaidTopic("r1")))
}

func TestFilterLimitsDeliveredEvents(t *testing.T) {
	b := New(16, time.Second)
	defer b.Shutdown(context.Background())

	sink := &collectSink{}
	_, err := b.Subscribe("conn-1", RaidTopic("r1"), []string{EventRaidEnded}, sink)
	require.NoError(t, err)

	b.Publish(RaidTopic("r1"), EventRaidProgress, nil)
	b.Publish(RaidTopic("r1"), EventRaidEnded, nil)

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })
	assert.Equal(t, EventRaidEnded, sink.snapshot()[0].Event)
}

func TestShutdownSendsShutdownEventAndRejectsNewSubscribes(t *testing.T) {
	b := New(16, 50*time.Millisecond)

	sink := &collectSink{}
	_, err := b.Subscribe("conn-1", SessionTopic("s1"), nil, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Shutdown(ctx)

	evs := sink.snapshot()
	require.NotEmpty(t, evs)
	assert.Equal(t, EventShutdown, evs[len(evs)-1].Event)

	_, err = b.Subscribe("conn-2", SessionTopic("s1"), nil, sink)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestConcurrentPublishersKeepSeqOrder(t *testing.T) {
	const publishers = 8
	const perPublisher = 50

	b := New(publishers*perPublisher, time.Second)
	defer b.Shutdown(context.Background())

	sink := &collectSink{}
	_, err := b.Subscribe("conn-1", SessionTopic("s1"), nil, sink)
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perPublisher; j++ {
				b.Publish(SessionTopic("s1"), EventSessionMessage, nil)
			}
		}()
	}
	close(start)
	wg.Wait()

	waitFor(t, func() bool { return len(sink.snapshot()) == publishers*perPublisher })
	for i, ev := range sink.snapshot() {
		require.Equal(t, uint64(i+1), ev.Seq, "queue order must match seq order")
	}
}
