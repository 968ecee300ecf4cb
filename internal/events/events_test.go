package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	w := &memWriter{}
	p := NewPublisher(w, zap.NewNop().Sugar())
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), Event{
		Type: PaymentCompleted, Key: "LW-1001", OccurredAt: at,
		Data: map[string]any{"transaction_id": "TX-1", "amount": 499.0},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "LW-1001", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte(PaymentCompleted)}}, msg.Headers)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, PaymentCompleted, got.Type)
	assert.True(t, at.Equal(got.OccurredAt))
	assert.Equal(t, "TX-1", got.Data["transaction_id"])
}

func TestPublishStampsOccurredAt(t *testing.T) {
	w := &memWriter{}
	before := time.Now().UTC()
	require.NoError(t, NewPublisher(w, zap.NewNop().Sugar()).Publish(context.Background(), Event{Type: PaymentFailed, Key: "LW-2"}))

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.False(t, got.OccurredAt.Before(before.Truncate(time.Second)))
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	w := &memWriter{err: boom}
	p := NewPublisher(w, zap.NewNop().Sugar())

	err := p.Publish(context.Background(), Event{Type: PaymentRefunded, Key: "LW-3"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), PaymentRefunded)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNopAcceptsEverything(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: InvoiceSynced}))
	assert.NoError(t, p.Close())
}
