package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/provider"
	"github.com/kursadbilgin/feedback-engine/internal/queue"
)

func outcomeTask(kind domain.TaskKind, outcome domain.Outcome) domain.OutcomeTask {
	return domain.OutcomeTask{
		Kind:          kind,
		IssuanceID:    "iss-1",
		ActivityID:    42,
		Outcome:       outcome,
		CorrelationID: "corr-1",
	}
}

func TestOutcomeHandlerEscalation(t *testing.T) {
	t.Parallel()

	email := &fakeEmailSender{}
	handler, err := NewOutcomeHandler(&fakeLeadRepo{}, newFakeTemplateRepo(), email, &fakeNotifier{}, nil)
	if err != nil {
		t.Fatalf("NewOutcomeHandler() error = %v", err)
	}

	if err := handler.Handle(context.Background(), outcomeTask(domain.TaskEscalation, domain.OutcomeUnhappy)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	sent := email.sent()
	if len(sent) != 1 {
		t.Fatalf("mails = %d, want 1", len(sent))
	}
	want := provider.EmailMessage{
		To:       []string{"maryam@example.com"},
		Cc:       []string{"ops@example.com"},
		Bcc:      []string{},
		Subject:  "Unhappy customer on lead 420",
		HTMLBody: "Dear Maryam, Layla was unhappy with Omar Haddad. Leader: Khalid",
	}
	if !reflect.DeepEqual(sent[0], want) {
		t.Fatalf("mail = %+v, want %+v", sent[0], want)
	}
}

func TestOutcomeHandlerEscalationSkipsHappy(t *testing.T) {
	t.Parallel()

	email := &fakeEmailSender{}
	handler, err := NewOutcomeHandler(&fakeLeadRepo{}, newFakeTemplateRepo(), email, &fakeNotifier{}, nil)
	if err != nil {
		t.Fatalf("NewOutcomeHandler() error = %v", err)
	}

	if err := handler.Handle(context.Background(), outcomeTask(domain.TaskEscalation, domain.OutcomeHappy)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(email.sent()) != 0 {
		t.Fatal("happy outcome must not escalate")
	}
}

func TestOutcomeHandlerDownstream(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	handler, err := NewOutcomeHandler(&fakeLeadRepo{}, newFakeTemplateRepo(), nil, notifier, nil)
	if err != nil {
		t.Fatalf("NewOutcomeHandler() error = %v", err)
	}

	if err := handler.Handle(context.Background(), outcomeTask(domain.TaskDownstream, domain.OutcomeHappy)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if notifier.calls() != 1 || notifier.outcomes[0] != domain.OutcomeHappy {
		t.Fatalf("notifier outcomes = %v, want [happy]", notifier.outcomes)
	}
}

func TestOutcomeHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		leads    *fakeLeadRepo
		email    provider.EmailSender
		notifier provider.OutcomeNotifier
		task     domain.OutcomeTask
		wantErr  error
	}{
		{
			name:    "invalid task",
			leads:   &fakeLeadRepo{},
			task:    domain.OutcomeTask{Kind: domain.TaskDownstream},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "no email provider",
			leads:   &fakeLeadRepo{},
			task:    outcomeTask(domain.TaskEscalation, domain.OutcomeUnhappy),
			wantErr: domain.ErrConfigMissing,
		},
		{
			name:    "no downstream client",
			leads:   &fakeLeadRepo{},
			task:    outcomeTask(domain.TaskDownstream, domain.OutcomeUnhappy),
			wantErr: domain.ErrConfigMissing,
		},
		{
			name: "supervisor without email",
			leads: &fakeLeadRepo{getEscalationContactFn: func(ctx context.Context, activityID int64) (*domain.EscalationContact, error) {
				return &domain.EscalationContact{LeadID: 1, ActivityID: activityID}, nil
			}},
			email:   &fakeEmailSender{},
			task:    outcomeTask(domain.TaskEscalation, domain.OutcomeUnhappy),
			wantErr: domain.ErrValidation,
		},
		{
			name: "contact lookup fails",
			leads: &fakeLeadRepo{getEscalationContactFn: func(ctx context.Context, activityID int64) (*domain.EscalationContact, error) {
				return nil, fmt.Errorf("%w: timeout", domain.ErrStoreUnavailable)
			}},
			email:   &fakeEmailSender{},
			task:    outcomeTask(domain.TaskEscalation, domain.OutcomeUnhappy),
			wantErr: domain.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler, err := NewOutcomeHandler(tt.leads, newFakeTemplateRepo(), tt.email, tt.notifier, nil)
			if err != nil {
				t.Fatalf("NewOutcomeHandler() error = %v", err)
			}
			if err := handler.Handle(context.Background(), tt.task); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Handle() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInlineOutcomeDispatcherRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "success", err: nil, wantCalls: 1},
		{name: "transient", err: &provider.ProviderError{StatusCode: 503, Transient: true}, wantCalls: maxInlineTaskAttempts},
		{name: "permanent", err: &provider.ProviderError{StatusCode: 400}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := &fakeTaskHandler{handleFn: func(ctx context.Context, task domain.OutcomeTask) error {
				return tt.err
			}}
			inline, err := NewInlineOutcomeDispatcher(handler, time.Second, nil)
			if err != nil {
				t.Fatalf("NewInlineOutcomeDispatcher() error = %v", err)
			}
			var delays []time.Duration
			inline.sleep = func(ctx context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			}

			if err := inline.Enqueue(context.Background(), outcomeTask(domain.TaskDownstream, domain.OutcomeHappy)); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			inline.Wait()

			if got := handler.callCount(); got != tt.wantCalls {
				t.Fatalf("handler calls = %d, want %d", got, tt.wantCalls)
			}
			if len(delays) != tt.wantCalls-1 {
				t.Fatalf("sleeps = %v, want %d", delays, tt.wantCalls-1)
			}
			for i, d := range delays {
				if want := baseInlineRetryDelay << i; d != want {
					t.Fatalf("delay[%d] = %s, want %s", i, d, want)
				}
			}
		})
	}
}

func TestInlineOutcomeDispatcherRunsAfterCallerCancels(t *testing.T) {
	t.Parallel()

	handler := &fakeTaskHandler{handleFn: func(ctx context.Context, task domain.OutcomeTask) error {
		return ctx.Err()
	}}
	inline, err := NewInlineOutcomeDispatcher(handler, time.Second, nil)
	if err != nil {
		t.Fatalf("NewInlineOutcomeDispatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := inline.Enqueue(ctx, outcomeTask(domain.TaskDownstream, domain.OutcomeHappy)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	inline.Wait()

	if handler.callCount() != 1 {
		t.Fatalf("handler calls = %d, want 1", handler.callCount())
	}
}

func TestInlineOutcomeDispatcherRejectsInvalidTask(t *testing.T) {
	t.Parallel()

	handler := &fakeTaskHandler{}
	inline, err := NewInlineOutcomeDispatcher(handler, 0, nil)
	if err != nil {
		t.Fatalf("NewInlineOutcomeDispatcher() error = %v", err)
	}
	if inline.timeout != defaultOutcomeTaskTimeout {
		t.Fatalf("timeout = %s, want default", inline.timeout)
	}

	err = inline.Enqueue(context.Background(), domain.OutcomeTask{Kind: domain.TaskEscalation, IssuanceID: "iss-1", ActivityID: 42, Outcome: domain.OutcomeUnresolved})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Enqueue() error = %v, want ErrValidation", err)
	}
	inline.Wait()
	if handler.callCount() != 0 {
		t.Fatal("invalid task reached the handler")
	}
}

func TestQueueOutcomeDispatcherPublishesToTaskQueue(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	dispatcher, err := NewQueueOutcomeDispatcher(publisher)
	if err != nil {
		t.Fatalf("NewQueueOutcomeDispatcher() error = %v", err)
	}

	task := outcomeTask(domain.TaskEscalation, domain.OutcomeUnhappy)
	if err := dispatcher.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if len(publisher.queues) != 1 || publisher.queues[0] != queue.QueueName(domain.TaskEscalation) {
		t.Fatalf("queues = %v, want %s", publisher.queues, queue.QueueName(domain.TaskEscalation))
	}
	if got := publisher.messages[0].Task(); got != task {
		t.Fatalf("published task = %+v, want %+v", got, task)
	}

	if _, err := NewQueueOutcomeDispatcher(nil); err == nil {
		t.Fatal("expected error for nil publisher")
	}
}

func TestDeadLetterUnlessTransient(t *testing.T) {
	t.Parallel()

	permanent := fmt.Errorf("%w: no supervisor email", domain.ErrValidation)
	transient := &provider.ProviderError{StatusCode: 503, Transient: true}

	tests := []struct {
		name           string
		err            error
		wantNil        bool
		wantDeadLetter bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "transient provider", err: transient},
		{name: "store unavailable", err: fmt.Errorf("%w: timeout", domain.ErrStoreUnavailable)},
		{name: "deadline", err: context.DeadlineExceeded},
		{name: "permanent", err: permanent, wantDeadLetter: true},
		{name: "already dead letter", err: fmt.Errorf("%w: bad", queue.ErrDeadLetter), wantDeadLetter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := deadLetterUnlessTransient(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				return
			}
			if isDeadLetter(got) != tt.wantDeadLetter {
				t.Fatalf("isDeadLetter(%v) = %v, want %v", got, isDeadLetter(got), tt.wantDeadLetter)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("%v does not wrap %v", got, tt.err)
			}
		})
	}
}
