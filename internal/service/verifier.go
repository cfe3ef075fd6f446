package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type VerifyResult struct {
	Outcome    domain.Outcome
	IssuanceID string
	ActivityID int64
}

// Verifier resolves an issuance from a submitted code.
type Verifier struct {
	issuances repository.IssuanceRepository
	outcomes  OutcomeDispatcher
	codeTTL   time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// NewVerifier builds a Verifier. A non-positive codeTTL disables expiry.
func NewVerifier(
	issuances repository.IssuanceRepository,
	outcomes OutcomeDispatcher,
	codeTTL time.Duration,
	logger *zap.Logger,
) (*Verifier, error) {
	if issuances == nil {
		return nil, fmt.Errorf("issuance repository is required")
	}
	if outcomes == nil {
		return nil, fmt.Errorf("outcome dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		issuances: issuances,
		outcomes:  outcomes,
		codeTTL:   codeTTL,
		logger:    logger,
		tracer:    observability.Tracer(),
		now:       time.Now,
	}, nil
}

func (v *Verifier) SetMetrics(metrics *observability.Metrics) {
	if v == nil {
		return
	}
	v.metrics = metrics
}

// Verify resolves the unresolved issuance of an activity when code matches one
// of its pair. The row lock serializes it against a concurrent reissue, and
// the conditional resolve makes side effects fire once per issuance.
func (v *Verifier) Verify(ctx context.Context, activityID int64, code string) (*VerifyResult, error) {
	ctx, span := v.tracer.Start(ctx, "feedback.verify", trace.WithAttributes(
		attribute.Int64("feedback.activity_id", activityID),
	))
	defer span.End()

	result, err := v.verify(ctx, activityID, code)

	v.metrics.IncVerification(domain.CodeOf(err).String())
	if err != nil {
		span.SetStatus(codes.Error, domain.CodeOf(err).String())
		return nil, err
	}
	span.SetAttributes(attribute.String("feedback.outcome", result.Outcome.String()))

	v.enqueueOutcomeTasks(ctx, result)
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, activityID int64, code string) (*VerifyResult, error) {
	if activityID <= 0 {
		return nil, fmt.Errorf("%w: activity id must be positive", domain.ErrValidation)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: code is required", domain.ErrValidation)
	}
	ctx = observability.WithActivityID(ctx, activityID)
	logger := observability.WithContextLogger(v.logger, ctx)

	var result *VerifyResult
	err := v.issuances.Transact(ctx, func(tx repository.IssuanceRepository) error {
		current, err := tx.LockUnresolved(ctx, activityID)
		if errors.Is(err, domain.ErrNotFound) {
			return v.noUnresolved(ctx, tx, activityID)
		}
		if err != nil {
			return err
		}

		now := v.now().UTC()
		if current.Expired(now, v.codeTTL) {
			return fmt.Errorf("%w: issued at %s", domain.ErrCodeExpired, current.IssuedAt.Format(time.RFC3339))
		}

		outcome, ok := current.Match(code)
		if !ok {
			return fmt.Errorf("%w: activity %d", domain.ErrCodeMismatch, activityID)
		}

		if err := tx.Resolve(ctx, current.ID, outcome, now); err != nil {
			return err
		}
		result = &VerifyResult{Outcome: outcome, IssuanceID: current.ID, ActivityID: activityID}
		return nil
	})
	if err != nil {
		logger.Info("feedback code rejected", zap.String("code", domain.CodeOf(err).String()), zap.Error(err))
		return nil, err
	}

	logger.Info("feedback code matched",
		zap.String("issuanceId", result.IssuanceID),
		zap.String("outcome", result.Outcome.String()),
	)
	return result, nil
}

func (v *Verifier) noUnresolved(ctx context.Context, tx repository.IssuanceRepository, activityID int64) error {
	latest, err := tx.GetLatest(ctx, activityID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: activity %d", domain.ErrNoActiveIssuance, activityID)
	}
	if err != nil {
		return err
	}
	if latest.Resolved {
		return fmt.Errorf("%w: activity %d resolved as %s", domain.ErrAlreadyResolved, activityID, latest.Outcome)
	}
	return fmt.Errorf("%w: activity %d", domain.ErrNoActiveIssuance, activityID)
}

// enqueueOutcomeTasks runs after commit; a failed enqueue never fails the verification.
func (v *Verifier) enqueueOutcomeTasks(ctx context.Context, result *VerifyResult) {
	ctx = observability.WithActivityID(ctx, result.ActivityID)
	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}
	logger := observability.WithContextLogger(v.logger, ctx)

	for _, kind := range domain.TasksFor(result.Outcome) {
		task := domain.OutcomeTask{
			Kind:          kind,
			IssuanceID:    result.IssuanceID,
			ActivityID:    result.ActivityID,
			Outcome:       result.Outcome,
			CorrelationID: correlationID,
		}
		if err := v.outcomes.Enqueue(ctx, task); err != nil {
			logger.Error("failed to enqueue outcome task",
				zap.String("task", kind.String()),
				zap.Error(err),
			)
		}
	}
}
