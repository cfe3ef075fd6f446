package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// ErrDeadLetter marks a handler failure that retrying cannot fix. The consumer
// rejects such deliveries to the DLQ instead of requeueing them.
var ErrDeadLetter = errors.New("dead letter")

// Publisher publishes outcome task messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg OutcomeMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg OutcomeMessage) error

// Consumer consumes outcome task messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedTasks = []domain.TaskKind{
	domain.TaskEscalation,
	domain.TaskDownstream,
}

const (
	queuePrefix = "feedback."

	// queueMaxPriority is the RabbitMQ x-max-priority value for task queues.
	queueMaxPriority int32 = 2
)

// QueueName returns the task work queue name, e.g. feedback.escalation.
func QueueName(kind domain.TaskKind) string {
	return queuePrefix + kind.String()
}

// DLQName returns the dead-letter queue name for a task, e.g. dlq.feedback.escalation.
func DLQName(kind domain.TaskKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedTasks))
	for _, kind := range supportedTasks {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(supportedTasks))
	for _, kind := range supportedTasks {
		queues = append(queues, DLQName(kind))
	}
	return queues
}

// PriorityValue maps a task kind to RabbitMQ message priority.
// Supervisor escalations jump ahead of downstream notifications.
func PriorityValue(kind domain.TaskKind) uint8 {
	switch kind {
	case domain.TaskEscalation:
		return 2
	case domain.TaskDownstream:
		return 1
	default:
		return 0
	}
}
