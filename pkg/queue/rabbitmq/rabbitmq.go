package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/husmancristian/ta-collector/pkg/queue"

	amqp "github.com/rabbitmq/amqp091-go" // RabbitMQ client
)

const (
	// Exchange name for delivery notifications
	deliveriesExchange = "ta_deliveries"
	// Type of exchange (direct allows routing based on key)
	exchangeType = "direct"
	// Content type for messages
	contentTypeJSON = "application/json"
)

// Ensure Notifier implements queue.Notifier interface at compile time
var _ queue.Notifier = (*Notifier)(nil)

// channel is the part of *amqp.Channel the notifier uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Notifier publishes run.delivered messages to a durable direct exchange.
// Channels are opened per operation.
type Notifier struct {
	conn        *amqp.Connection
	openChannel func() (channel, error)
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	declared bool
}

// NewNotifier dials url and declares the deliveries exchange.
func NewNotifier(url string, logger *slog.Logger) (*Notifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	// Setup close handler to log unexpected connection closures
	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go func() {
		amqpErr := <-closeChan
		if amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.String("error", amqpErr.Error()))
		} else {
			logger.Info("RabbitMQ connection closed normally")
		}
	}()

	n := newNotifier(func() (channel, error) { return conn.Channel() }, logger)
	n.conn = conn
	if err := n.declareExchange(); err != nil {
		conn.Close()
		return nil, err
	}
	return n, nil
}

func newNotifier(open func() (channel, error), logger *slog.Logger) *Notifier {
	return &Notifier{
		openChannel: open,
		logger:      logger.With(slog.String("component", "notifier")),
		now:         time.Now,
	}
}

// declareExchange ensures the exchange exists. Uses a temporary channel.
func (n *Notifier) declareExchange() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.declared {
		return nil
	}

	ch, err := n.openChannel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for exchange declare: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		deliveriesExchange, // name
		exchangeType,       // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", deliveriesExchange, err)
	}
	n.declared = true
	n.logger.Info("Declared exchange", slog.String("exchange", deliveriesExchange))
	return nil
}

// Notify publishes d as a persistent JSON message routed by run.delivered.
func (n *Notifier) Notify(ctx context.Context, d queue.Delivery) error {
	if err := n.declareExchange(); err != nil {
		return err
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery for run %s: %w", d.RunID, err)
	}

	ch, err := n.openChannel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for publish: %w", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		deliveriesExchange,   // exchange
		queue.DeliveredEvent, // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.RunID,
			Timestamp:    n.now(),
			Type:         queue.DeliveredEvent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish delivery for run %s: %w", d.RunID, err)
	}
	n.logger.Info("Published delivery notification", slog.String("run_id", d.RunID))
	return nil
}

// Close closes the RabbitMQ connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	n.logger.Info("Closing RabbitMQ connection")
	if err := n.conn.Close(); err != nil {
		n.logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
		return err
	}
	return nil
}
