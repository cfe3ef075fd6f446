package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

// acknowledger is the subset of amqp.Delivery the consumer settles with.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// inbound is one delivery as the settlement logic sees it.
type inbound struct {
	body        []byte
	redelivered bool
	ack         acknowledger
}

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// RabbitMQConsumer feeds outcome tasks to a handler. A task that fails on
// its first delivery is requeued once; a second failure, a malformed body or
// an ErrDeadLetter from the handler sends it to the dead-letter exchange.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{client: client, prefetch: prefetch, logger: logger}
}

// Consume blocks until ctx is done, re-subscribing with backoff whenever the
// channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if err == nil {
			wait = reconnectBackoff
			continue
		}
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("outcome subscription dropped", zap.String("queue", queue), zap.Duration("retryIn", wait), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, consumerTag(queue), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("channel for %q closed: %w", queue, amqpErr)
			}
			return fmt.Errorf("channel for %q closed", queue)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			in := inbound{body: d.Body, redelivered: d.Redelivered, ack: d}
			if err := c.handleDelivery(ctx, in, handler); err != nil {
				return err
			}
		}
	}
}

func consumerTag(queue string) string {
	return connectionName + ":" + queue
}

// handleDelivery runs handler and settles the delivery. Only a failed
// settlement is returned; the subscription is rebuilt on that error.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, in inbound, handler MessageHandler) error {
	msg, verdict, cause := c.decide(ctx, in, handler)

	if verdict != settleAck {
		c.logger.Warn("outcome task not completed",
			zap.String("settlement", verdict.String()),
			zap.Bool("redelivered", in.redelivered),
			zap.String("issuanceId", msg.IssuanceID),
			zap.Int64("activityId", msg.ActivityID),
			zap.String("kind", msg.Kind.String()),
			zap.Error(cause),
		)
	}

	var err error
	switch verdict {
	case settleAck:
		err = in.ack.Ack(false)
	case settleRequeue:
		err = in.ack.Nack(false, true)
	default:
		err = in.ack.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", verdict, err)
	}
	return nil
}

func (c *RabbitMQConsumer) decide(ctx context.Context, in inbound, handler MessageHandler) (OutcomeMessage, settlement, error) {
	var msg OutcomeMessage
	if err := json.Unmarshal(in.body, &msg); err != nil {
		return msg, settleDeadLetter, fmt.Errorf("invalid json: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, settleDeadLetter, err
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		return msg, settleAck, nil
	case errors.Is(err, ErrDeadLetter), in.redelivered:
		return msg, settleDeadLetter, err
	default:
		return msg, settleRequeue, err
	}
}

// Close is a no-op; the connection belongs to the RabbitMQ client and
// consumers stop when their context is done.
func (c *RabbitMQConsumer) Close() error {
	return nil
}
