package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/policy"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	msgStatusesComputed = "Allowed statuses computed."
	msgCodeIssued       = "Feedback Code generated successfully."
	msgCodeSent         = "Feedback Code sms/mail/notification sent successfully."
	msgCodeNotSent      = "Feedback Code could not be delivered on any channel."
	msgCodeMatched      = "Feedback Code Matched Successfully"
	msgNoTrigger        = "Activity update does not require a feedback code."
	msgHistory          = "Delivery history loaded."
)

var resultMessages = map[domain.ResultCode]string{
	domain.ResultNotFound:          "Lead activity not found.",
	domain.ResultAlreadyResolved:   "Feedback Code already used.",
	domain.ResultCodeMismatch:      "Invalid Feedback Code.",
	domain.ResultCodeExpired:       "Feedback Code expired, please request a new one.",
	domain.ResultNoActiveIssuance:  "No active Feedback Code for this activity.",
	domain.ResultRouteUnavailable:  "No delivery route configured.",
	domain.ResultChannelSendFailed: msgCodeNotSent,
	domain.ResultStoreUnavailable:  "Storage is unavailable, please retry.",
	domain.ResultConfigMissing:     "Delivery configuration is missing.",
	domain.ResultInvalidRequest:    "Invalid request.",
	domain.ResultConflict:          "Concurrent update, please retry.",
	domain.ResultInternal:          "Internal error.",
}

// OperationResult is the structured reply of every engine operation.
type OperationResult[T any] struct {
	Code    domain.ResultCode
	Message string
	Data    T
}

func (r OperationResult[T]) OK() bool { return r.Code == domain.ResultOK }

// StatusesView is the reply of ComputeAllowedStatuses.
type StatusesView struct {
	ActivityID    int64
	Statuses      []domain.StatusOption
	ReturnApplies bool
	WindowEnd     time.Time
}

// IssuanceView exposes an issuance without its codes.
type IssuanceView struct {
	IssuanceID string
	ActivityID int64
	TryCount   int
	IssuedAt   time.Time
}

type DispatchView struct {
	Issuance IssuanceView
	Report   domain.DispatchReport
}

// HistoryView lists the provider calls made for an activity's latest issuance.
type HistoryView struct {
	Issuance IssuanceView
	Resolved bool
	Outcome  domain.Outcome
	Attempts []domain.DeliveryAttempt
}

type ActivityUpdateView struct {
	Triggered bool
	Delivery  *DispatchView
}

// Engine is the boundary the web layer calls. It maps every failure onto a
// result code and never returns a raw error.
type Engine struct {
	leads      repository.LeadRepository
	issuances  repository.IssuanceRepository
	attempts   repository.AttemptRepository
	issuer     CodeIssuer
	dispatcher FanOut
	verifier   *Verifier
	escalator  *Escalator
	logger     *zap.Logger
	now        func() time.Time
}

type EngineDeps struct {
	Leads      repository.LeadRepository
	Issuances  repository.IssuanceRepository
	Attempts   repository.AttemptRepository
	Issuer     CodeIssuer
	Dispatcher FanOut
	Verifier   *Verifier
	Escalator  *Escalator
}

func NewEngine(deps EngineDeps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Leads == nil:
		return nil, fmt.Errorf("lead repository is required")
	case deps.Issuances == nil:
		return nil, fmt.Errorf("issuance repository is required")
	case deps.Attempts == nil:
		return nil, fmt.Errorf("attempt repository is required")
	case deps.Issuer == nil:
		return nil, fmt.Errorf("code issuer is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("verifier is required")
	case deps.Escalator == nil:
		return nil, fmt.Errorf("escalator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		leads:      deps.Leads,
		issuances:  deps.Issuances,
		attempts:   deps.Attempts,
		issuer:     deps.Issuer,
		dispatcher: deps.Dispatcher,
		verifier:   deps.Verifier,
		escalator:  deps.Escalator,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (e *Engine) ComputeAllowedStatuses(ctx context.Context, activityID, currentUserID int64) OperationResult[*StatusesView] {
	if activityID <= 0 {
		return failure[*StatusesView](ctx, e.logger, "compute statuses", invalidActivity())
	}
	activity, err := e.leads.GetLeadActivity(observability.WithActivityID(ctx, activityID), activityID)
	if err != nil {
		return failure[*StatusesView](ctx, e.logger, "compute statuses", err)
	}

	decision := policy.AllowedStatuses(*activity, currentUserID, e.now())
	return OperationResult[*StatusesView]{
		Code:    domain.ResultOK,
		Message: msgStatusesComputed,
		Data: &StatusesView{
			ActivityID:    activityID,
			Statuses:      decision.Statuses,
			ReturnApplies: decision.ReturnApplies,
			WindowEnd:     decision.WindowEnd,
		},
	}
}

func (e *Engine) IssueFeedbackCode(ctx context.Context, activityID int64) OperationResult[*IssuanceView] {
	issuance, err := e.issuer.IssueOrReissue(ctx, activityID)
	if err != nil {
		return failure[*IssuanceView](ctx, e.logger, "issue feedback code", err)
	}
	view := newIssuanceView(issuance)
	return OperationResult[*IssuanceView]{Code: domain.ResultOK, Message: msgCodeIssued, Data: &view}
}

// DispatchFeedbackNotifications delivers the current unresolved pair.
func (e *Engine) DispatchFeedbackNotifications(ctx context.Context, activityID int64) OperationResult[*DispatchView] {
	if activityID <= 0 {
		return failure[*DispatchView](ctx, e.logger, "dispatch feedback code", invalidActivity())
	}
	ctx = observability.WithActivityID(ctx, activityID)

	issuance, err := e.issuances.GetUnresolved(ctx, activityID)
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("%w: activity %d", domain.ErrNoActiveIssuance, activityID)
	}
	if err != nil {
		return failure[*DispatchView](ctx, e.logger, "dispatch feedback code", err)
	}
	profile, err := e.leads.GetRecipientProfile(ctx, activityID)
	if err != nil {
		return failure[*DispatchView](ctx, e.logger, "dispatch feedback code", err)
	}

	report := e.dispatcher.Dispatch(ctx, issuance, profile)
	return dispatchResult(&Delivery{Issuance: issuance, Report: report})
}

func (e *Engine) VerifyFeedbackCode(ctx context.Context, activityID int64, code string) OperationResult[*VerifyResult] {
	result, err := e.verifier.Verify(ctx, activityID, code)
	if err != nil {
		return failure[*VerifyResult](ctx, e.logger, "verify feedback code", err)
	}
	return OperationResult[*VerifyResult]{Code: domain.ResultOK, Message: msgCodeMatched, Data: result}
}

// ResendFeedbackCode rotates the pair and delivers it again.
func (e *Engine) ResendFeedbackCode(ctx context.Context, activityID int64) OperationResult[*DispatchView] {
	if activityID <= 0 {
		return failure[*DispatchView](ctx, e.logger, "resend feedback code", invalidActivity())
	}
	delivery, err := e.escalator.Resend(ctx, activityID)
	if err != nil {
		return failure[*DispatchView](ctx, e.logger, "resend feedback code", err)
	}
	return dispatchResult(delivery)
}

func (e *Engine) ActivityUpdated(ctx context.Context, update ActivityUpdate) OperationResult[*ActivityUpdateView] {
	delivery, triggered, err := e.escalator.HandleActivityUpdate(ctx, update)
	if err != nil {
		return failure[*ActivityUpdateView](ctx, e.logger, "activity update", err)
	}
	if !triggered {
		return OperationResult[*ActivityUpdateView]{
			Code:    domain.ResultOK,
			Message: msgNoTrigger,
			Data:    &ActivityUpdateView{},
		}
	}

	dispatched := dispatchResult(delivery)
	return OperationResult[*ActivityUpdateView]{
		Code:    dispatched.Code,
		Message: dispatched.Message,
		Data:    &ActivityUpdateView{Triggered: true, Delivery: dispatched.Data},
	}
}

// DeliveryHistory returns the audit trail of the latest issuance, resolved or
// not. Codes are never part of the reply.
func (e *Engine) DeliveryHistory(ctx context.Context, activityID int64) OperationResult[*HistoryView] {
	if activityID <= 0 {
		return failure[*HistoryView](ctx, e.logger, "delivery history", invalidActivity())
	}
	ctx = observability.WithActivityID(ctx, activityID)

	issuance, err := e.issuances.GetLatest(ctx, activityID)
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("%w: activity %d", domain.ErrNoActiveIssuance, activityID)
	}
	if err != nil {
		return failure[*HistoryView](ctx, e.logger, "delivery history", err)
	}
	attempts, err := e.attempts.ListByIssuance(ctx, issuance.ID)
	if err != nil {
		return failure[*HistoryView](ctx, e.logger, "delivery history", err)
	}

	return OperationResult[*HistoryView]{
		Code:    domain.ResultOK,
		Message: msgHistory,
		Data: &HistoryView{
			Issuance: newIssuanceView(issuance),
			Resolved: issuance.Resolved,
			Outcome:  issuance.Outcome,
			Attempts: attempts,
		},
	}
}

func dispatchResult(delivery *Delivery) OperationResult[*DispatchView] {
	view := &DispatchView{Issuance: newIssuanceView(delivery.Issuance), Report: delivery.Report}
	if !delivery.Report.AnySent() {
		return OperationResult[*DispatchView]{Code: domain.ResultChannelSendFailed, Message: msgCodeNotSent, Data: view}
	}
	return OperationResult[*DispatchView]{Code: domain.ResultOK, Message: msgCodeSent, Data: view}
}

func newIssuanceView(issuance *domain.FeedbackIssuance) IssuanceView {
	return IssuanceView{
		IssuanceID: issuance.ID,
		ActivityID: issuance.ActivityID,
		TryCount:   issuance.TryCount,
		IssuedAt:   issuance.IssuedAt,
	}
}

func invalidActivity() error {
	return fmt.Errorf("%w: activity id must be positive", domain.ErrValidation)
}

func failure[T any](ctx context.Context, logger *zap.Logger, op string, err error) OperationResult[T] {
	code := domain.CodeOf(err)
	logger = observability.WithContextLogger(logger, ctx)
	switch code {
	case domain.ResultStoreUnavailable, domain.ResultInternal:
		logger.Error(op+" failed", zap.String("code", code.String()), zap.Error(err))
	default:
		logger.Info(op+" rejected", zap.String("code", code.String()), zap.Error(err))
	}

	var zero T
	return OperationResult[T]{Code: code, Message: MessageFor(code), Data: zero}
}

// MessageFor is the human readable message for a result code.
func MessageFor(code domain.ResultCode) string {
	if code == domain.ResultOK {
		return "OK"
	}
	if msg, ok := resultMessages[code]; ok {
		return msg
	}
	return resultMessages[domain.ResultInternal]
}
