// Package bus is the durable transaction bus between the signature
// producers and the enrichment workers. It declares a main queue, a
// TTL-gated retry queue, and a terminal dead-letter queue on RabbitMQ.
package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	// Exchange is the main topic exchange ingest messages are published to.
	Exchange = "dln.tx"
	// DLX receives explicit retry republishes and broker dead-letters.
	DLX = "dln.tx.dlx"

	// RoutingKeyIngest routes fresh and replayed messages to the main queue.
	RoutingKeyIngest = "tx.ingest"
	// routingKeyRetry routes a failed delivery into the retry queue.
	routingKeyRetry = "retry.message"

	headerRetryCount = "x-retry-count"
	headerSource     = "x-source"
	headerPriority   = "x-priority"
)

// Config holds the broker settings.
type Config struct {
	URL        string
	QueueName  string
	RetryDelay time.Duration
	MaxRetries int
	Prefetch   int
}

// Bus owns one connection and one confirm-mode channel.
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cfg  Config
	log  zerolog.Logger

	// publish performs one confirmed publish; indirected so delivery
	// handling can be exercised without a broker.
	publish func(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) (bool, error)
}

// Connect dials the broker, enables publisher confirms, and declares
// the full topology. Safe to call from multiple processes; all
// declarations are idempotent.
func Connect(cfg Config, log zerolog.Logger) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	b := &Bus{conn: conn, ch: ch, cfg: cfg, log: log}
	b.publish = b.channelPublish
	if err := b.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Info().
		Str("queue", cfg.QueueName).
		Dur("retry_delay", cfg.RetryDelay).
		Int("max_retries", cfg.MaxRetries).
		Msg("connected to broker")

	return b, nil
}

// declareTopology sets up:
//
//	dln.tx (topic) -- tx.#    --> {queue}           (main)
//	dln.tx.dlx     -- retry.# --> {queue}.retry     (TTL, dead-letters back to dln.tx/tx.ingest)
//	dln.tx.dlx     -- dlq.#   --> {queue}.dlq       (terminal)
//
// A broker nack on the main queue dead-letters straight to the DLQ;
// the retry path is always an explicit republish to the DLX.
func (b *Bus) declareTopology() error {
	if err := b.ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}
	if err := b.ch.ExchangeDeclare(DLX, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", DLX, err)
	}

	mainArgs := amqp.Table{
		"x-dead-letter-exchange":    DLX,
		"x-dead-letter-routing-key": b.dlqRoutingKey(),
	}
	if _, err := b.ch.QueueDeclare(b.cfg.QueueName, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", b.cfg.QueueName, err)
	}
	if err := b.ch.QueueBind(b.cfg.QueueName, "tx.#", Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", b.cfg.QueueName, err)
	}

	retryQueue := b.retryQueueName()
	retryArgs := amqp.Table{
		"x-message-ttl":             b.cfg.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    Exchange,
		"x-dead-letter-routing-key": RoutingKeyIngest,
	}
	if _, err := b.ch.QueueDeclare(retryQueue, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", retryQueue, err)
	}
	if err := b.ch.QueueBind(retryQueue, "retry.#", DLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", retryQueue, err)
	}

	dlq := b.dlqName()
	if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
	}
	if err := b.ch.QueueBind(dlq, "dlq.#", DLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", dlq, err)
	}

	return nil
}

// channelPublish publishes on the confirm-mode channel and waits for
// the broker's acknowledgement.
func (b *Bus) channelPublish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) (bool, error) {
	confirm, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, pub)
	if err != nil {
		return false, err
	}
	return confirm.Wait(), nil
}

func (b *Bus) retryQueueName() string { return b.cfg.QueueName + ".retry" }
func (b *Bus) dlqName() string        { return b.cfg.QueueName + ".dlq" }
func (b *Bus) dlqRoutingKey() string  { return "dlq." + b.cfg.QueueName }

// Close shuts down the channel and then the connection.
func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
