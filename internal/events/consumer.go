package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const readRetryDelay = time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// OrderPlacedHandler reacts to an order placed by any instance.
type OrderPlacedHandler func(ctx context.Context, ev OrderPlaced) error

// Consumer reads OrderPlaced events so that instances other than the one
// that placed the order can drop stale cart mirrors.
type Consumer struct {
	reader messageReader
	handle OrderPlacedHandler
	logger *slog.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, handle OrderPlacedHandler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(reader, handle, logger)
}

func newConsumer(r messageReader, handle OrderPlacedHandler, logger *slog.Logger) *Consumer {
	return &Consumer{reader: r, handle: handle, logger: logger}
}

// Run processes messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		c.processMessage(ctx)
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("error reading message", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(readRetryDelay):
		}
		return
	}
	if t := headerValue(m, "event_type"); t != "" && t != EventTypeOrderPlaced {
		return
	}

	var ev OrderPlaced
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		c.logger.Warn("error parsing message", "offset", m.Offset, "error", err)
		return
	}
	if ev.UserID == "" {
		c.logger.Warn("order placed event without user id", "offset", m.Offset, "order_id", ev.OrderID)
		return
	}
	if err := c.handle(ctx, ev); err != nil {
		c.logger.Error("failed to handle order placed event", "order_id", ev.OrderID, "user_id", ev.UserID, "error", err)
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
