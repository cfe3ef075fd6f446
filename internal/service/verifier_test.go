package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var verifyIssuedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func unresolvedIssuance(id string, activityID int64) domain.FeedbackIssuance {
	return domain.FeedbackIssuance{
		ID:          id,
		ActivityID:  activityID,
		HappyCode:   "4821",
		UnhappyCode: "7305",
		IssuedAt:    verifyIssuedAt,
		TryCount:    1,
		Outcome:     domain.OutcomeUnresolved,
	}
}

func newTestVerifier(t *testing.T, issuances *memIssuanceRepo, outcomes OutcomeDispatcher, logger *zap.Logger) *Verifier {
	t.Helper()

	verifier, err := NewVerifier(issuances, outcomes, 72*time.Hour, logger)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	verifier.now = func() time.Time { return verifyIssuedAt.Add(time.Hour) }
	verifier.SetMetrics(observability.NewMetrics())
	return verifier
}

func TestVerifyResolvesOnceAndEscalatesOnce(t *testing.T) {
	t.Parallel()

	issuances := newMemIssuanceRepo(unresolvedIssuance("iss-1", 42))
	email := &fakeEmailSender{}
	notifier := &fakeNotifier{}
	handler, err := NewOutcomeHandler(&fakeLeadRepo{}, newFakeTemplateRepo(), email, notifier, nil)
	if err != nil {
		t.Fatalf("NewOutcomeHandler() error = %v", err)
	}
	inline, err := NewInlineOutcomeDispatcher(handler, time.Second, nil)
	if err != nil {
		t.Fatalf("NewInlineOutcomeDispatcher() error = %v", err)
	}
	verifier := newTestVerifier(t, issuances, inline, nil)

	result, err := verifier.Verify(context.Background(), 42, "7305")
	if err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if result.Outcome != domain.OutcomeUnhappy || result.IssuanceID != "iss-1" {
		t.Fatalf("result = %+v, want unhappy for iss-1", result)
	}

	_, err = verifier.Verify(context.Background(), 42, "7305")
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second Verify() error = %v, want ErrAlreadyResolved", err)
	}

	inline.Wait()

	if got := len(email.sent()); got != 1 {
		t.Fatalf("escalation mails = %d, want 1", got)
	}
	if got := notifier.calls(); got != 1 {
		t.Fatalf("downstream notifications = %d, want 1", got)
	}

	stored := issuances.get("iss-1")
	if !stored.Resolved || stored.Outcome != domain.OutcomeUnhappy || stored.ResolvedAt == nil {
		t.Fatalf("stored = %+v, want resolved unhappy", stored)
	}
}

func TestVerifyMismatchKeepsIssuanceOpen(t *testing.T) {
	t.Parallel()

	issuances := newMemIssuanceRepo(unresolvedIssuance("iss-1", 42))
	outcomes := &fakeOutcomeDispatcher{}
	verifier := newTestVerifier(t, issuances, outcomes, nil)

	_, err := verifier.Verify(context.Background(), 42, "000000")
	if !errors.Is(err, domain.ErrCodeMismatch) {
		t.Fatalf("Verify() error = %v, want ErrCodeMismatch", err)
	}
	if stored := issuances.get("iss-1"); stored.Resolved {
		t.Fatal("mismatch resolved the issuance")
	}
	if len(outcomes.enqueued()) != 0 {
		t.Fatal("mismatch enqueued outcome tasks")
	}

	result, err := verifier.Verify(context.Background(), 42, "4821")
	if err != nil {
		t.Fatalf("Verify() after mismatch error = %v", err)
	}
	if result.Outcome != domain.OutcomeHappy {
		t.Fatalf("outcome = %s, want happy", result.Outcome)
	}

	tasks := outcomes.enqueued()
	if len(tasks) != 1 || tasks[0].Kind != domain.TaskDownstream || tasks[0].Outcome != domain.OutcomeHappy {
		t.Fatalf("tasks = %+v, want one downstream task", tasks)
	}
	if tasks[0].CorrelationID == "" {
		t.Fatal("task correlation id is empty")
	}
}

func TestVerifyUsesContextCorrelationID(t *testing.T) {
	t.Parallel()

	issuances := newMemIssuanceRepo(unresolvedIssuance("iss-1", 42))
	outcomes := &fakeOutcomeDispatcher{}
	verifier := newTestVerifier(t, issuances, outcomes, nil)

	ctx := observability.WithCorrelationID(context.Background(), "corr-9")
	if _, err := verifier.Verify(ctx, 42, "7305"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	tasks := outcomes.enqueued()
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want escalation and downstream", len(tasks))
	}
	for _, task := range tasks {
		if task.CorrelationID != "corr-9" || task.IssuanceID != "iss-1" {
			t.Fatalf("task = %+v, want correlation corr-9", task)
		}
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	resolvedAt := verifyIssuedAt.Add(time.Minute)
	resolved := unresolvedIssuance("iss-old", 42)
	resolved.Resolved = true
	resolved.Outcome = domain.OutcomeHappy
	resolved.ResolvedAt = &resolvedAt

	expired := unresolvedIssuance("iss-exp", 42)
	expired.IssuedAt = verifyIssuedAt.Add(-72 * time.Hour)

	tests := []struct {
		name    string
		seed    []domain.FeedbackIssuance
		code    string
		wantErr error
	}{
		{name: "no issuance at all", code: "4821", wantErr: domain.ErrNoActiveIssuance},
		{name: "already resolved", seed: []domain.FeedbackIssuance{resolved}, code: "4821", wantErr: domain.ErrAlreadyResolved},
		{name: "expired", seed: []domain.FeedbackIssuance{expired}, code: "4821", wantErr: domain.ErrCodeExpired},
		{name: "blank code", seed: []domain.FeedbackIssuance{unresolvedIssuance("iss-1", 42)}, code: "  ", wantErr: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			outcomes := &fakeOutcomeDispatcher{}
			verifier := newTestVerifier(t, newMemIssuanceRepo(tt.seed...), outcomes, nil)

			_, err := verifier.Verify(context.Background(), 42, tt.code)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if len(outcomes.enqueued()) != 0 {
				t.Fatal("rejected verification enqueued tasks")
			}
		})
	}
}

func TestVerifyExpiredIssuanceStaysOpen(t *testing.T) {
	t.Parallel()

	expired := unresolvedIssuance("iss-exp", 42)
	expired.IssuedAt = verifyIssuedAt.Add(-80 * time.Hour)
	issuances := newMemIssuanceRepo(expired)
	verifier := newTestVerifier(t, issuances, &fakeOutcomeDispatcher{}, nil)

	if _, err := verifier.Verify(context.Background(), 42, "4821"); !errors.Is(err, domain.ErrCodeExpired) {
		t.Fatalf("Verify() error = %v, want ErrCodeExpired", err)
	}
	if issuances.get("iss-exp").Resolved {
		t.Fatal("expired verification resolved the issuance")
	}
}

func TestVerifyConcurrentSubmissionsResolveOnce(t *testing.T) {
	t.Parallel()

	issuances := newMemIssuanceRepo(unresolvedIssuance("iss-1", 42))
	outcomes := &fakeOutcomeDispatcher{}
	verifier := newTestVerifier(t, issuances, outcomes, nil)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		resolved  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := verifier.Verify(context.Background(), 42, "7305")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAlreadyResolved):
				resolved++
			}
		}()
	}
	wg.Wait()

	if successes != 1 || resolved != callers-1 {
		t.Fatalf("successes=%d alreadyResolved=%d, want 1 and %d", successes, resolved, callers-1)
	}
	if got := len(outcomes.enqueued()); got != 2 {
		t.Fatalf("enqueued tasks = %d, want 2", got)
	}
}

func TestVerifyEnqueueFailureDoesNotFailVerification(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	outcomes := &fakeOutcomeDispatcher{
		enqueueFn: func(ctx context.Context, task domain.OutcomeTask) error {
			return errors.New("broker unavailable")
		},
	}
	verifier := newTestVerifier(t, newMemIssuanceRepo(unresolvedIssuance("iss-1", 42)), outcomes, zap.New(core))

	result, err := verifier.Verify(context.Background(), 42, "7305")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Outcome != domain.OutcomeUnhappy {
		t.Fatalf("outcome = %s, want unhappy", result.Outcome)
	}

	entries := logs.FilterMessage("failed to enqueue outcome task").All()
	if len(entries) != 2 {
		t.Fatalf("enqueue failure logs = %d, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["activityId"]; got != int64(42) {
		t.Fatalf("activityId log field = %v, want 42", got)
	}
}

func TestVerifyAfterReissueRejectsSupersededCode(t *testing.T) {
	t.Parallel()

	issuances := newMemIssuanceRepo()
	issuer := newTestIssuer(t, &fakeLeadRepo{}, issuances)
	verifier := newTestVerifier(t, issuances, &fakeOutcomeDispatcher{}, nil)

	first, err := issuer.IssueOrReissue(context.Background(), 42)
	if err != nil {
		t.Fatalf("IssueOrReissue() error = %v", err)
	}
	second, err := issuer.IssueOrReissue(context.Background(), 42)
	if err != nil {
		t.Fatalf("IssueOrReissue() error = %v", err)
	}

	if _, err := verifier.Verify(context.Background(), 42, first.HappyCode); !errors.Is(err, domain.ErrCodeMismatch) {
		t.Fatalf("Verify(superseded) error = %v, want ErrCodeMismatch", err)
	}
	result, err := verifier.Verify(context.Background(), 42, second.HappyCode)
	if err != nil || result.Outcome != domain.OutcomeHappy {
		t.Fatalf("Verify(latest) = %+v, %v; want happy", result, err)
	}
}
