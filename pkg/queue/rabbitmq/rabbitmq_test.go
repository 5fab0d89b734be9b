package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/ta-collector/pkg/models"
	"github.com/husmancristian/ta-collector/pkg/queue"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	broker *fakeBroker
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.broker.declared = append(c.broker.declared, name+"/"+kind)
	c.broker.durable = durable
	return c.broker.declareErr
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.broker.publishErr != nil {
		return c.broker.publishErr
	}
	c.broker.published = append(c.broker.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.broker.closed++
	return nil
}

type fakeBroker struct {
	declared   []string
	durable    bool
	published  []published
	closed     int
	declareErr error
	publishErr error
}

func (b *fakeBroker) open() (channel, error) { return &fakeChannel{broker: b}, nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyPublishesDelivery(t *testing.T) {
	broker := &fakeBroker{}
	n := newNotifier(broker.open, discard())

	d := queue.Delivery{
		RunID:   "0b7e3d0c-8d1f-4f57-9d0a-6a3e2a9a1c11",
		Project: "demo",
		Sinks:   []queue.SinkOutcome{{Sink: "archive", Success: true, Locators: []string{"/tmp/x.tar.gz"}}},
		Summary: models.Summary{Tests: 2, Collected: 2, Failures: 1, Passed: 1},
	}
	require.NoError(t, n.Notify(context.Background(), d))
	require.NoError(t, n.Notify(context.Background(), d))

	assert.Equal(t, []string{"ta_deliveries/direct"}, broker.declared, "exchange is declared once")
	assert.True(t, broker.durable)
	require.Len(t, broker.published, 2)

	p := broker.published[0]
	assert.Equal(t, "ta_deliveries", p.exchange)
	assert.Equal(t, queue.DeliveredEvent, p.key)
	assert.EqualValues(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, d.RunID, p.msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(p.msg.Body, &body))
	assert.Equal(t, d.RunID, body["run_id"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["failures"])
	assert.NotContains(t, summary, "passed")
	assert.Equal(t, 3, broker.closed, "every temporary channel is closed")
}

func TestNotifyPropagatesErrors(t *testing.T) {
	broker := &fakeBroker{declareErr: errors.New("access refused")}
	err := newNotifier(broker.open, discard()).Notify(context.Background(), queue.Delivery{RunID: "r"})
	assert.ErrorIs(t, err, broker.declareErr)

	broker = &fakeBroker{publishErr: errors.New("channel closed")}
	err = newNotifier(broker.open, discard()).Notify(context.Background(), queue.Delivery{RunID: "r"})
	assert.ErrorIs(t, err, broker.publishErr)
}
