package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName   = "feedback.dlx"
	connectionName    = "feedback-engine"
	connectTimeout    = 15 * time.Second
	heartbeatInterval = 10 * time.Second
	reconnectBackoff  = time.Second
	maxBackoff        = 30 * time.Second
)

// RabbitMQ owns the broker connection shared by the outcome publisher and the
// outcome worker. Task queues and their dead-letter queues are declared every
// time a connection is established.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	dial        func(url string) (*amqp.Connection, error)
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: dialNamed}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func dialNamed(url string) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeatInterval,
		Properties: props,
	})
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Healthy reports whether the broker connection is currently open.
func (r *RabbitMQ) Healthy() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			continue
		}

		ch, err := conn.Channel()
		if err == nil {
			return ch, nil
		}
		if !conn.IsClosed() {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to open rabbitmq channel: connection keeps closing")
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	if r.Healthy() {
		return nil
	}
	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if r.Healthy() {
		return nil
	}

	wait := reconnectBackoff
	for {
		conn, err := r.connect()
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = conn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: rabbitmq unreachable: %v", domain.ErrStoreUnavailable, err)
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (r *RabbitMQ) connect() (*amqp.Connection, error) {
	conn, err := r.dial(r.url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open topology channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := declareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// declareTopology declares, per task kind, a priority work queue that
// dead-letters into dlq.<queue> through the feedback.dlx exchange.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, kind := range supportedTasks {
		dlqName := DLQName(kind)
		routingKey := taskRoutingKey(kind)

		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
		}
		if err := ch.QueueBind(dlqName, routingKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
		}

		queueName := QueueName(kind)
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, workQueueArgs(kind)); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
		}
	}

	return nil
}

func workQueueArgs(kind domain.TaskKind) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": taskRoutingKey(kind),
		"x-max-priority":            queueMaxPriority,
	}
}

func taskRoutingKey(kind domain.TaskKind) string {
	return strings.ToLower(kind.String())
}
