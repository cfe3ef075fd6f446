package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerActivityID = "x-activity-id"
	headerOutcome    = "x-outcome"
)

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher publishes outcome tasks in confirm mode: Publish returns
// only after the broker has taken the message.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg OutcomeMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("%w: publish to %q: %v", domain.ErrStoreUnavailable, queue, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: confirm from %q: %v", domain.ErrStoreUnavailable, queue, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked message %s", domain.ErrStoreUnavailable, msg.MessageID())
	}

	return nil
}

func (p *RabbitMQPublisher) publishing(msg OutcomeMessage) (amqp.Publishing, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal outcome message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     msg.MessageID(),
		CorrelationId: msg.CorrelationID,
		Type:          msg.Kind.String(),
		Priority:      PriorityValue(msg.Kind),
		Headers: amqp.Table{
			headerActivityID: msg.ActivityID,
			headerOutcome:    msg.Outcome.String(),
		},
		Body: payload,
	}, nil
}

// Close is a no-op; the connection belongs to the RabbitMQ client.
func (p *RabbitMQPublisher) Close() error {
	return nil
}
