package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the enqueue surface the producers depend on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg *IngestMessage) (bool, error)
	PublishBatch(ctx context.Context, routingKey string, msgs []*IngestMessage) (success, failed int)
}

// Publish validates and publishes one message, then waits for the
// broker confirm. It returns true once the broker has acknowledged the
// persistent publish, false when the broker nacks (back-pressure), and
// an error only for validation or channel failures.
func (b *Bus) Publish(ctx context.Context, routingKey string, msg *IngestMessage) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}
	body, err := msg.marshal()
	if err != nil {
		return false, err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Signature,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			headerRetryCount: int32(msg.Attempt),
			headerSource:     string(msg.Source),
			headerPriority:   string(msg.Priority),
		},
		Body: body,
	}

	ok, err := b.publish(ctx, Exchange, routingKey, pub)
	if err != nil {
		return false, fmt.Errorf("failed to publish %s: %w", msg.Signature, err)
	}
	return ok, nil
}

// PublishBatch publishes a slice of messages and reports per-message
// outcomes. Broker rejections count as failed; they never abort the
// batch.
func (b *Bus) PublishBatch(ctx context.Context, routingKey string, msgs []*IngestMessage) (success, failed int) {
	for _, msg := range msgs {
		ok, err := b.Publish(ctx, routingKey, msg)
		if err != nil || !ok {
			failed++
			b.log.Warn().
				Str("signature", msg.Signature).
				Err(err).
				Msg("batch publish rejected")
			continue
		}
		success++
	}
	return success, failed
}
