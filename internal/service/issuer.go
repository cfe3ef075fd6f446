package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"go.uber.org/zap"
)

// Issuer creates or rotates the code pair for an activity.
type Issuer struct {
	leads     repository.LeadRepository
	issuances repository.IssuanceRepository
	digits    int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
	codes     func(digits int) (string, string, error)
}

func NewIssuer(
	leads repository.LeadRepository,
	issuances repository.IssuanceRepository,
	digits int,
	logger *zap.Logger,
) (*Issuer, error) {
	if leads == nil {
		return nil, fmt.Errorf("lead repository is required")
	}
	if issuances == nil {
		return nil, fmt.Errorf("issuance repository is required")
	}
	if digits == 0 {
		digits = defaultCodeDigits
	}
	if _, _, err := codePair(rand.Reader, digits); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Issuer{
		leads:     leads,
		issuances: issuances,
		digits:    digits,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		codes: func(digits int) (string, string, error) {
			return codePair(rand.Reader, digits)
		},
	}, nil
}

func (i *Issuer) SetMetrics(metrics *observability.Metrics) {
	if i == nil {
		return
	}
	i.metrics = metrics
}

// IssueOrReissue creates the first pair for an activity or rotates the pair of
// its unresolved issuance. A resolved history does not block a fresh record.
func (i *Issuer) IssueOrReissue(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	if activityID <= 0 {
		return nil, fmt.Errorf("%w: activity id must be positive", domain.ErrValidation)
	}
	ctx = observability.WithActivityID(ctx, activityID)
	logger := observability.WithContextLogger(i.logger, ctx)

	if _, err := i.leads.GetLeadActivity(ctx, activityID); err != nil {
		return nil, err
	}

	var (
		issued *domain.FeedbackIssuance
		kind   string
		err    error
	)
	// A concurrent first issue loses on the partial unique index; the retry
	// finds the winner's row and rotates it instead.
	for attempt := 0; attempt < 2; attempt++ {
		issued, kind, err = i.issueOnce(ctx, activityID)
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		logger.Info("concurrent issuance detected, retrying")
	}
	if err != nil {
		return nil, err
	}

	i.metrics.IncCodesIssued(kind)
	logger.Info("feedback code issued",
		zap.String("issuanceId", issued.ID),
		zap.Int("tryCount", issued.TryCount),
		zap.String("kind", kind),
	)
	return issued, nil
}

func (i *Issuer) issueOnce(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, string, error) {
	var (
		issued *domain.FeedbackIssuance
		kind   string
	)

	err := i.issuances.Transact(ctx, func(tx repository.IssuanceRepository) error {
		happy, unhappy, err := i.codes(i.digits)
		if err != nil {
			return err
		}
		now := i.now().UTC()

		current, err := tx.LockUnresolved(ctx, activityID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			current = &domain.FeedbackIssuance{
				ID:         i.newID(),
				ActivityID: activityID,
				TryCount:   1,
				Outcome:    domain.OutcomeUnresolved,
				CreatedAt:  now,
			}
			kind = "issue"
		case err != nil:
			return err
		default:
			current.TryCount++
			current.ChannelsSent = nil
			kind = "reissue"
		}

		current.HappyCode = happy
		current.UnhappyCode = unhappy
		current.IssuedAt = now
		current.UpdatedAt = now

		if err := tx.Upsert(ctx, current); err != nil {
			return err
		}
		issued = current
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return issued, kind, nil
}
