package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const defaultSubscriberBuffer = 64

// Broker is a Sink that delivers events to live subscribers such as SSE
// clients. A slow subscriber loses events instead of stalling the others.
type Broker struct {
	mu      sync.Mutex
	subs    map[chan watchlist.RefreshEvent]struct{}
	buffer  int
	closed  bool
	logger  *zap.Logger
	dropLog rate.Sometimes
}

// NewBroker creates a Broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:    make(map[chan watchlist.RefreshEvent]struct{}),
		buffer:  buffer,
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel. The channel is also closed when the broker closes.
func (b *Broker) Subscribe() (<-chan watchlist.RefreshEvent, func()) {
	ch := make(chan watchlist.RefreshEvent, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Consume implements Sink.
func (b *Broker) Consume(_ context.Context, batch []watchlist.RefreshEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		for ch := range b.subs {
			select {
			case ch <- evt:
			default:
				b.dropLog.Do(func() {
					b.logger.Warn("slow event subscriber dropped an event", zap.String("item_id", evt.Item.ID))
				})
			}
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}
