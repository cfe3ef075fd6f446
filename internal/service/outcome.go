package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/provider"
	"github.com/kursadbilgin/feedback-engine/internal/queue"
	"github.com/kursadbilgin/feedback-engine/internal/render"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultOutcomeTaskTimeout = 15 * time.Second
	maxInlineTaskAttempts     = 3
	baseInlineRetryDelay      = time.Second
)

// OutcomeDispatcher schedules a side effect after a verification commits.
type OutcomeDispatcher interface {
	Enqueue(ctx context.Context, task domain.OutcomeTask) error
}

// OutcomeTaskHandler executes one side effect.
type OutcomeTaskHandler interface {
	Handle(ctx context.Context, task domain.OutcomeTask) error
}

// OutcomeHandler sends the supervisor escalation mail and the downstream notification.
type OutcomeHandler struct {
	leads     repository.LeadRepository
	templates repository.TemplateRepository
	email     provider.EmailSender
	notifier  provider.OutcomeNotifier
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewOutcomeHandler(
	leads repository.LeadRepository,
	templates repository.TemplateRepository,
	email provider.EmailSender,
	notifier provider.OutcomeNotifier,
	logger *zap.Logger,
) (*OutcomeHandler, error) {
	if leads == nil {
		return nil, fmt.Errorf("lead repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutcomeHandler{
		leads:     leads,
		templates: templates,
		email:     email,
		notifier:  notifier,
		logger:    logger,
	}, nil
}

func (h *OutcomeHandler) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

func (h *OutcomeHandler) Handle(ctx context.Context, task domain.OutcomeTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	ctx = observability.WithActivityID(ctx, task.ActivityID)
	if task.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, task.CorrelationID)
	}
	logger := observability.WithContextLogger(h.logger, ctx).With(zap.String("task", task.Kind.String()))

	var err error
	switch task.Kind {
	case domain.TaskEscalation:
		err = h.escalate(ctx, task)
	case domain.TaskDownstream:
		err = h.notifyDownstream(ctx, task)
	}

	if err != nil {
		h.metrics.IncOutcomeTask(task.Kind.String(), "failed")
		logger.Warn("outcome task failed", zap.Error(err))
		return err
	}
	h.metrics.IncOutcomeTask(task.Kind.String(), "done")
	logger.Info("outcome task done", zap.String("outcome", task.Outcome.String()))
	return nil
}

func (h *OutcomeHandler) escalate(ctx context.Context, task domain.OutcomeTask) error {
	if task.Outcome != domain.OutcomeUnhappy {
		return nil
	}
	if h.email == nil {
		return fmt.Errorf("%w: no email provider for escalation", domain.ErrConfigMissing)
	}

	contact, err := h.leads.GetEscalationContact(ctx, task.ActivityID)
	if err != nil {
		return err
	}
	to := provider.ParseAddressList(contact.SupervisorEmail)
	if len(to) == 0 {
		return fmt.Errorf("%w: no supervisor email for activity %d", domain.ErrValidation, task.ActivityID)
	}

	tmpl, err := h.templates.GetTemplate(ctx, domain.TemplateEmailEscalation)
	if err != nil {
		return configError(err)
	}
	values := render.Values{
		"Supervisor":   contact.SupervisorName,
		"RMName":       contact.RMName,
		"LeadID":       strconv.FormatInt(contact.LeadID, 10),
		"CustomerName": contact.CustomerName,
		"LeaderName":   contact.LeaderName,
	}
	subject, err := render.Render(tmpl.Subject, values)
	if err != nil {
		return err
	}
	body, err := render.Render(tmpl.Body, values)
	if err != nil {
		return err
	}

	_, err = h.email.SendEmail(ctx, provider.EmailMessage{
		To:       to,
		Cc:       provider.ParseAddressList(contact.MailCc),
		Bcc:      provider.ParseAddressList(contact.MailBcc),
		Subject:  subject,
		HTMLBody: body,
	})
	return err
}

func (h *OutcomeHandler) notifyDownstream(ctx context.Context, task domain.OutcomeTask) error {
	if h.notifier == nil {
		return fmt.Errorf("%w: no downstream notification client", domain.ErrConfigMissing)
	}
	return h.notifier.NotifyOutcome(ctx, task.ActivityID, task.Outcome)
}

var _ OutcomeDispatcher = (*QueueOutcomeDispatcher)(nil)

// QueueOutcomeDispatcher publishes tasks to their RabbitMQ work queue.
type QueueOutcomeDispatcher struct {
	publisher queue.Publisher
}

func NewQueueOutcomeDispatcher(publisher queue.Publisher) (*QueueOutcomeDispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &QueueOutcomeDispatcher{publisher: publisher}, nil
}

func (d *QueueOutcomeDispatcher) Enqueue(ctx context.Context, task domain.OutcomeTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return d.publisher.Publish(ctx, queue.QueueName(task.Kind), queue.MessageFromTask(task))
}

var _ OutcomeDispatcher = (*InlineOutcomeDispatcher)(nil)

// InlineOutcomeDispatcher runs tasks on background goroutines, retrying
// transient failures. It stands in for the broker when none is configured.
type InlineOutcomeDispatcher struct {
	handler OutcomeTaskHandler
	timeout time.Duration
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	wg      sync.WaitGroup
}

func NewInlineOutcomeDispatcher(handler OutcomeTaskHandler, timeout time.Duration, logger *zap.Logger) (*InlineOutcomeDispatcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("outcome task handler is required")
	}
	if timeout <= 0 {
		timeout = defaultOutcomeTaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InlineOutcomeDispatcher{
		handler: handler,
		timeout: timeout,
		logger:  logger,
		sleep:   sleepWithContext,
	}, nil
}

func (d *InlineOutcomeDispatcher) Enqueue(ctx context.Context, task domain.OutcomeTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	taskCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(taskCtx, task)
	}()
	return nil
}

// Wait blocks until every enqueued task has finished.
func (d *InlineOutcomeDispatcher) Wait() {
	d.wg.Wait()
}

func (d *InlineOutcomeDispatcher) run(ctx context.Context, task domain.OutcomeTask) {
	delay := baseInlineRetryDelay
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.handler.Handle(attemptCtx, task)
		cancel()
		if err == nil {
			return
		}

		if !provider.IsTransient(err) || attempt >= maxInlineTaskAttempts {
			d.logger.Error("outcome task abandoned",
				zap.String("task", task.Kind.String()),
				zap.Int64("activityId", task.ActivityID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}

		if err := d.sleep(ctx, delay); err != nil {
			return
		}
		delay *= 2
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deadLetterUnlessTransient marks failures a redelivery cannot fix.
func deadLetterUnlessTransient(err error) error {
	if err == nil || provider.IsTransient(err) {
		return err
	}
	if isDeadLetter(err) {
		return err
	}
	return fmt.Errorf("%w: %w", queue.ErrDeadLetter, err)
}

func isDeadLetter(err error) bool {
	return errors.Is(err, queue.ErrDeadLetter)
}
