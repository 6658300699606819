package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/pannadata/consolidator/common"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestPublishOutcome(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "events")

	err := p.PublishOutcome(context.Background(), "WRITTEN", "player_stats", map[string]string{"coordinate": "player_stats/EPL/2024-2025"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, "events", sent.exchange)
	assert.Equal(t, "unit.written.player_stats", sent.key)
	assert.Equal(t, uint8(amqp.Persistent), sent.msg.DeliveryMode)

	var payload map[string]string
	msgType, err := common.DecodeFromByteArray(sent.msg.Body, &payload)
	require.NoError(t, err)
	assert.Equal(t, byte(common.MessageTypeUnitOutcome), msgType)
	assert.Equal(t, "player_stats/EPL/2024-2025", payload["coordinate"])
}

func TestPublishSummary(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "events")

	require.NoError(t, p.PublishSummary(context.Background(), map[string]int{"written": 2}))
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "run.summary", ch.sent[0].key)
	assert.Equal(t, byte(common.MessageTypeRunSummary), ch.sent[0].msg.Body[0])
}

func TestPublishFailure(t *testing.T) {
	p := NewPublisher(&fakeChannel{err: errors.New("channel closed")}, "events")
	assert.Error(t, p.PublishSummary(context.Background(), struct{}{}))
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	assert.NoError(t, p.PublishOutcome(context.Background(), "SKIPPED", "shots", nil))
	assert.NoError(t, p.PublishSummary(context.Background(), nil))
}
