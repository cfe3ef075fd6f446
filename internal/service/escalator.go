package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"go.uber.org/zap"
)

// CodeIssuer creates or rotates an activity's code pair.
type CodeIssuer interface {
	IssueOrReissue(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error)
}

// FanOut delivers an issuance over every channel.
type FanOut interface {
	Dispatch(ctx context.Context, issuance *domain.FeedbackIssuance, profile *domain.RecipientProfile) domain.DispatchReport
}

var (
	_ CodeIssuer = (*Issuer)(nil)
	_ FanOut     = (*Dispatcher)(nil)
)

// ActivityUpdate is the trigger raised when a lead activity is saved.
type ActivityUpdate struct {
	ActivityID    int64
	NewActivity   bool
	UpdateEnabled bool
}

// Delivery is one issue-then-dispatch round.
type Delivery struct {
	Issuance *domain.FeedbackIssuance
	Report   domain.DispatchReport
}

// Escalator drives repeated rounds. Each round bumps tryCount, which moves a
// non-domestic recipient from the gcc gateway to the global one.
type Escalator struct {
	leads      repository.LeadRepository
	issuer     CodeIssuer
	dispatcher FanOut
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// Round triggers, as recorded on feedback_rounds_total.
const (
	triggerResend         = "resend"
	triggerActivityUpdate = "activity_update"
)

func NewEscalator(leads repository.LeadRepository, issuer CodeIssuer, dispatcher FanOut, logger *zap.Logger) (*Escalator, error) {
	if leads == nil {
		return nil, fmt.Errorf("lead repository is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("code issuer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Escalator{leads: leads, issuer: issuer, dispatcher: dispatcher, logger: logger}, nil
}

func (e *Escalator) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Resend rotates the code pair and delivers it again.
func (e *Escalator) Resend(ctx context.Context, activityID int64) (*Delivery, error) {
	return e.round(ctx, activityID, triggerResend)
}

func (e *Escalator) round(ctx context.Context, activityID int64, trigger string) (*Delivery, error) {
	ctx = observability.WithActivityID(ctx, activityID)

	profile, err := e.leads.GetRecipientProfile(ctx, activityID)
	if err != nil {
		return nil, err
	}
	issuance, err := e.issuer.IssueOrReissue(ctx, activityID)
	if err != nil {
		return nil, err
	}

	report := e.dispatcher.Dispatch(ctx, issuance, profile)
	e.metrics.IncFeedbackRound(trigger, report.AnySent())
	observability.WithContextLogger(e.logger, ctx).Info("feedback round dispatched",
		zap.String("trigger", trigger),
		zap.Int("tryCount", issuance.TryCount),
		zap.Bool("anySent", report.AnySent()),
	)
	return &Delivery{Issuance: issuance, Report: report}, nil
}

// HandleActivityUpdate starts a round only for a newly created activity with
// feedback enabled. It reports whether a round ran.
func (e *Escalator) HandleActivityUpdate(ctx context.Context, update ActivityUpdate) (*Delivery, bool, error) {
	if update.ActivityID <= 0 {
		return nil, false, fmt.Errorf("%w: activity id must be positive", domain.ErrValidation)
	}
	if !update.NewActivity || !update.UpdateEnabled {
		observability.WithContextLogger(e.logger, observability.WithActivityID(ctx, update.ActivityID)).
			Debug("activity update does not trigger feedback",
				zap.Bool("newActivity", update.NewActivity),
				zap.Bool("updateEnabled", update.UpdateEnabled),
			)
		return nil, false, nil
	}

	delivery, err := e.round(ctx, update.ActivityID, triggerActivityUpdate)
	if err != nil {
		return nil, false, err
	}
	return delivery, true, nil
}
