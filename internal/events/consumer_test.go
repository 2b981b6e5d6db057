package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReader hands out queued messages, then blocks until ctx is done.
type mockReader struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	closed   bool
}

func (m *mockReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	m.mu.Lock()
	if len(m.messages) > 0 {
		msg := m.messages[0]
		m.messages = m.messages[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (m *mockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func eventMessage(t *testing.T, ev OrderPlaced, eventType string) kafkaGo.Message {
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	msg := kafkaGo.Message{Key: []byte(ev.OrderID), Value: payload}
	if eventType != "" {
		msg.Headers = []kafkaGo.Header{{Key: "event_type", Value: []byte(eventType)}}
	}
	return msg
}

func TestConsumer_DispatchesOrderPlaced(t *testing.T) {
	other := sampleEvent()
	other.OrderID, other.UserID = "order-2", "u2"
	noUser := sampleEvent()
	noUser.UserID = ""

	r := &mockReader{messages: []kafkaGo.Message{
		eventMessage(t, sampleEvent(), EventTypeOrderPlaced),
		{Value: []byte("not json")},
		eventMessage(t, noUser, EventTypeOrderPlaced),
		eventMessage(t, sampleEvent(), "SomethingElse"),
		eventMessage(t, other, ""),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got []OrderPlaced
	)
	c := newConsumer(r, func(_ context.Context, ev OrderPlaced) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		if len(got) == 2 {
			cancel()
		}
		return nil
	}, discardLogger())

	c.Run(ctx)
	require.NoError(t, c.Close())

	require.Len(t, got, 2)
	assert.Equal(t, sampleEvent(), got[0])
	assert.Equal(t, "u2", got[1].UserID)
	assert.True(t, r.closed)
}

func TestConsumer_HandlerErrorDoesNotStop(t *testing.T) {
	r := &mockReader{messages: []kafkaGo.Message{
		eventMessage(t, sampleEvent(), EventTypeOrderPlaced),
		eventMessage(t, sampleEvent(), EventTypeOrderPlaced),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := newConsumer(r, func(context.Context, OrderPlaced) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("reload failed")
	}, discardLogger())

	c.Run(ctx)
	assert.Equal(t, 2, calls)
}
