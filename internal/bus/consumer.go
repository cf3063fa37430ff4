package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Meta carries delivery metadata alongside the decoded message.
type Meta struct {
	// Attempt is the effective attempt count: the maximum of the body
	// field and the x-retry-count header.
	Attempt int
	// Redelivered reports broker-side redelivery.
	Redelivered bool
}

// Handler processes one message. Returning (true, nil) acks. Returning
// false or an error routes the message through the retry queue with an
// incremented attempt count. Panics are treated as failures.
type Handler func(ctx context.Context, msg *IngestMessage, meta Meta) (bool, error)

// Consume installs the prefetch limit and delivers messages one at a
// time until the context ends. Messages that arrive already at or past
// MaxRetries are nacked without requeue so the broker dead-letters them
// to the DLQ.
func (b *Bus) Consume(ctx context.Context, handler Handler) error {
	if err := b.ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	tag := "dln-worker-" + uuid.NewString()
	deliveries, err := b.ch.ConsumeWithContext(ctx, b.cfg.QueueName, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	b.log.Info().
		Str("queue", b.cfg.QueueName).
		Int("prefetch", b.cfg.Prefetch).
		Msg("consumer started")

	return b.consumeLoop(ctx, deliveries, handler)
}

func (b *Bus) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				// Cancellation closes the channel too; report the
				// cancellation, not a broker failure.
				if err := ctx.Err(); err != nil {
					return err
				}
				return fmt.Errorf("delivery channel closed")
			}
			b.handleDelivery(ctx, d, handler)
		}
	}
}

func (b *Bus) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	msg, err := unmarshalMessage(d.Body)
	if err != nil {
		// Bad shape is permanent: log and drop.
		b.log.Error().Err(err).Str("message_id", d.MessageId).Msg("discarding malformed message")
		if ackErr := d.Ack(false); ackErr != nil {
			b.log.Error().Err(ackErr).Msg("failed to ack malformed message")
		}
		return
	}

	attempt := msg.Attempt
	if headerAttempt, ok := retryCountHeader(d.Headers); ok && headerAttempt > attempt {
		attempt = headerAttempt
	}

	if attempt >= b.cfg.MaxRetries {
		b.log.Warn().
			Str("signature", msg.Signature).
			Int("attempt", attempt).
			Msg("max retries exceeded, routing to DLQ")
		if err := d.Nack(false, false); err != nil {
			b.log.Error().Err(err).Msg("failed to nack to DLQ")
		}
		return
	}

	ok, handlerErr := b.invoke(ctx, handler, msg, Meta{Attempt: attempt, Redelivered: d.Redelivered})
	if ok && handlerErr == nil {
		if err := d.Ack(false); err != nil {
			b.log.Error().Err(err).Str("signature", msg.Signature).Msg("failed to ack")
		}
		return
	}

	if handlerErr != nil {
		b.log.Warn().
			Err(handlerErr).
			Str("signature", msg.Signature).
			Int("attempt", attempt).
			Msg("handler failed, scheduling retry")
	}
	b.scheduleRetry(ctx, d, msg, attempt)
}

// invoke shields the consumer loop from handler panics; a panic is the
// same as returning false.
func (b *Bus) invoke(ctx context.Context, handler Handler, msg *IngestMessage, meta Meta) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg, meta)
}

// scheduleRetry republishes the message to the DLX retry route with an
// incremented attempt counter, then acks the original delivery. The
// retry queue's TTL enforces the delay before the message dead-letters
// back to the main queue.
func (b *Bus) scheduleRetry(ctx context.Context, d amqp.Delivery, msg *IngestMessage, attempt int) {
	retry := *msg
	retry.Attempt = attempt + 1

	body, err := retry.marshal()
	if err != nil {
		b.log.Error().Err(err).Str("signature", msg.Signature).Msg("failed to marshal retry, routing to DLQ")
		_ = d.Nack(false, false)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    retry.Signature,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			headerRetryCount: int32(retry.Attempt),
			headerSource:     string(retry.Source),
			headerPriority:   string(retry.Priority),
		},
		Body: body,
	}

	ok, err := b.publish(ctx, DLX, routingKeyRetry, pub)
	if err != nil || !ok {
		// Could not hand off to the retry queue; leave redelivery to the
		// broker instead of dropping the message.
		b.log.Error().Err(err).Str("signature", msg.Signature).Msg("retry republish failed, nacking with requeue")
		_ = d.Nack(false, true)
		return
	}

	if err := d.Ack(false); err != nil {
		b.log.Error().Err(err).Str("signature", msg.Signature).Msg("failed to ack after retry republish")
	}
}

func retryCountHeader(headers amqp.Table) (int, bool) {
	if headers == nil {
		return 0, false
	}
	switch v := headers[headerRetryCount].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
