package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("a"))
	hub.Emit(sampleEvent("b"))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Notify(context.Background(), sampleEvent("a"))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan watchlist.RefreshEvent), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent("a"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHubFlushOnCloseAndIgnoresLateEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent("a"))
	hub.Emit(watchlist.RefreshEvent{})

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent("late"))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, "a", batches[0][0].Item.ID)
	require.True(t, sink.closed)
}

func TestBrokerDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBroker(1, zap.NewNop())
	first, cancelFirst := broker.Subscribe()
	second, cancelSecond := broker.Subscribe()
	require.Equal(t, 2, broker.Subscribers())

	require.NoError(t, broker.Consume(context.Background(), []watchlist.RefreshEvent{sampleEvent("a"), sampleEvent("b")}))
	require.Equal(t, "a", (<-first).Item.ID)
	require.Equal(t, "a", (<-second).Item.ID)

	cancelFirst()
	cancelFirst()
	_, open := <-first
	require.False(t, open)
	require.Equal(t, 1, broker.Subscribers())

	require.NoError(t, broker.Close(context.Background()))
	_, open = <-second
	require.False(t, open)
	cancelSecond()

	late, cancelLate := broker.Subscribe()
	defer cancelLate()
	_, open = <-late
	require.False(t, open)
}

func TestPublisherSinkPublishesEachEvent(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{failFor: "b"}
	sink := NewPublisherSink(pub, "price-refreshed")
	err := sink.Consume(context.Background(), []watchlist.RefreshEvent{sampleEvent("a"), sampleEvent("b"), sampleEvent("c")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "publish b")
	require.Equal(t, []string{"price-refreshed/a", "price-refreshed/c"}, pub.published)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]watchlist.RefreshEvent
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []watchlist.RefreshEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]watchlist.RefreshEvent(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]watchlist.RefreshEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]watchlist.RefreshEvent, len(s.batches))
	copy(out, s.batches)
	return out
}

type stubPublisher struct {
	failFor   string
	published []string
}

func (p *stubPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	evt := payload.(watchlist.RefreshEvent)
	if evt.Item.ID == p.failFor {
		return "", errors.New("broker unavailable")
	}
	p.published = append(p.published, topic+"/"+evt.Item.ID)
	return "msg-" + evt.Item.ID, nil
}

func sampleEvent(id string) watchlist.RefreshEvent {
	return watchlist.RefreshEvent{
		Item:      watchlist.Item{ID: id, URL: "https://shop.example/" + id, CurrentPrice: watchlist.Cents(1999)},
		Domain:    "shop.example",
		Refreshed: time.Unix(1700000000, 0).UTC(),
	}
}
