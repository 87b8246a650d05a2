package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

// LogSink writes one structured log line per refresh.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []watchlist.RefreshEvent) error {
	for _, evt := range batch {
		s.logger.Info("item refreshed",
			zap.String("item_id", evt.Item.ID),
			zap.String("domain", evt.Domain),
			zap.String("current_price", watchlist.FormatPrice(evt.Item.CurrentPrice)),
			zap.String("lowest_price", watchlist.FormatPrice(evt.Item.LowestPrice)),
			zap.Time("refreshed", evt.Refreshed),
		)
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// PublisherSink forwards every event to a message bus topic.
type PublisherSink struct {
	publisher watchlist.Publisher
	topic     string
}

// NewPublisherSink builds a sink publishing to topic.
func NewPublisherSink(publisher watchlist.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes each event, continuing past individual failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []watchlist.RefreshEvent) error {
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Item.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
