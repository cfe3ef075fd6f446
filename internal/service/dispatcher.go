package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/provider"
	"github.com/kursadbilgin/feedback-engine/internal/ratelimit"
	"github.com/kursadbilgin/feedback-engine/internal/render"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"github.com/kursadbilgin/feedback-engine/internal/routing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultChannelTimeout = 8 * time.Second

// RouteResolver picks the SMS tier and gateway for a recipient.
type RouteResolver interface {
	ResolveRoute(ctx context.Context, countryCode string, tryCount int, hasDeepLink bool) (*routing.Decision, error)
}

var _ RouteResolver = (*routing.Router)(nil)

type DispatcherConfig struct {
	// ChannelTimeout bounds each channel independently.
	ChannelTimeout time.Duration
	// TestMobileNumber, when set, receives every SMS.
	TestMobileNumber string
	// FailureAlertTo receives a mail when a gcc gateway call fails.
	FailureAlertTo string
}

// DispatcherDeps wires the fan-out. Senders may be nil; the channel then fails with CONFIG_MISSING.
type DispatcherDeps struct {
	Router    RouteResolver
	Templates repository.TemplateRepository
	Issuances repository.IssuanceRepository
	Attempts  repository.AttemptRepository
	SMS       provider.SMSSender
	Email     provider.EmailSender
	Push      provider.PushSender
	Limiter   ratelimit.RateLimiter
}

// Dispatcher fans one issuance out to SMS, email and push concurrently.
type Dispatcher struct {
	router    RouteResolver
	templates repository.TemplateRepository
	issuances repository.IssuanceRepository
	attempts  repository.AttemptRepository
	sms       provider.SMSSender
	email     provider.EmailSender
	push      provider.PushSender
	limiter   ratelimit.RateLimiter
	cfg       DispatcherConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("route resolver is required")
	}
	if deps.Templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if deps.Issuances == nil {
		return nil, fmt.Errorf("issuance repository is required")
	}
	if deps.Attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = defaultChannelTimeout
	}
	cfg.TestMobileNumber = strings.TrimSpace(cfg.TestMobileNumber)
	cfg.FailureAlertTo = strings.TrimSpace(cfg.FailureAlertTo)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		router:    deps.Router,
		templates: deps.Templates,
		issuances: deps.Issuances,
		attempts:  deps.Attempts,
		sms:       deps.SMS,
		email:     deps.Email,
		push:      deps.Push,
		limiter:   deps.Limiter,
		cfg:       cfg,
		logger:    logger,
		tracer:    observability.Tracer(),
		now:       time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// waitTurn blocks until the gateway behind key has budget for one more call.
func (d *Dispatcher) waitTurn(ctx context.Context, key string) error {
	start := d.now()
	err := d.limiter.Wait(ctx, key)
	d.metrics.ObserveRateLimitWait(key, d.now().Sub(start))
	if err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

// Dispatch never fails. Channels still running when ctx ends stay pending in
// the report and finish in the background under their own timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, issuance *domain.FeedbackIssuance, profile *domain.RecipientProfile) domain.DispatchReport {
	if issuance == nil {
		return domain.DispatchReport{}
	}
	report := domain.NewPendingReport(issuance.ActivityID, issuance.TryCount)
	ctx = observability.WithActivityID(ctx, issuance.ActivityID)
	logger := observability.WithContextLogger(d.logger, ctx)

	if profile == nil {
		err := fmt.Errorf("%w: recipient profile for activity %d", domain.ErrNotFound, issuance.ActivityID)
		for _, ch := range domain.Channels {
			report.Set(domain.FailedResult(ch, 0, err))
		}
		return report
	}

	// Channel work outlives the caller; the buffer lets late senders finish without a reader.
	detached := context.WithoutCancel(ctx)
	results := make(chan domain.ChannelResult, len(domain.Channels))

	var g errgroup.Group
	for _, ch := range domain.Channels {
		g.Go(func() error {
			results <- d.runChannel(detached, ch, issuance, profile, logger)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for {
		select {
		case result, ok := <-results:
			if !ok {
				return report
			}
			report.Set(result)
		case <-ctx.Done():
			logger.Warn("dispatch caller gone, returning partial report", zap.Error(ctx.Err()))
			return report
		}
	}
}

func (d *Dispatcher) runChannel(
	ctx context.Context,
	ch domain.Channel,
	issuance *domain.FeedbackIssuance,
	profile *domain.RecipientProfile,
	logger *zap.Logger,
) (result domain.ChannelResult) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "feedback.dispatch."+ch.String(), trace.WithAttributes(
		attribute.Int64("feedback.activity_id", issuance.ActivityID),
		attribute.Int("feedback.try_count", issuance.TryCount),
	))
	defer span.End()

	logger = logger.With(zap.String("channel", ch.String()))
	start := d.now()

	defer func() {
		if r := recover(); r != nil {
			result = domain.FailedResult(ch, result.Attempts, fmt.Errorf("%s channel panicked: %v", ch, r))
		}

		d.metrics.ObserveChannelSendDuration(ch.String(), d.now().Sub(start))
		d.metrics.IncChannelSend(ch.String(), result.Status.String())
		span.SetAttributes(attribute.String("feedback.status", result.Status.String()))

		switch result.Status {
		case domain.DeliverySent:
			err := d.issuances.MarkChannelSent(context.WithoutCancel(ctx), issuance.ID, issuance.TryCount, ch)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				logger.Info("issuance reissued during delivery, sent channel not recorded")
			case err != nil:
				logger.Warn("failed to record sent channel", zap.Error(err))
			}
			logger.Info("feedback code delivered",
				zap.Int("attempts", result.Attempts),
				zap.String("tier", result.Tier.String()),
				zap.String("region", result.Region),
			)
		case domain.DeliverySkipped:
			logger.Info("channel skipped", zap.String("reason", result.Detail))
		default:
			span.SetStatus(codes.Error, result.Detail)
			logger.Warn("channel delivery failed",
				zap.String("code", result.Code.String()),
				zap.String("detail", result.Detail),
				zap.String("tier", result.Tier.String()),
				zap.String("region", result.Region),
			)
		}
	}()

	switch ch {
	case domain.ChannelSMS:
		return d.sendSMS(ctx, issuance, profile, logger)
	case domain.ChannelEmail:
		return d.sendEmail(ctx, issuance, profile)
	default:
		return d.sendPush(ctx, issuance, profile)
	}
}

func (d *Dispatcher) sendSMS(
	ctx context.Context,
	issuance *domain.FeedbackIssuance,
	profile *domain.RecipientProfile,
	logger *zap.Logger,
) domain.ChannelResult {
	if !profile.SMSEnabled {
		return domain.SkippedResult(domain.ChannelSMS, "sms disabled for recipient")
	}
	if d.sms == nil {
		return domain.FailedResult(domain.ChannelSMS, 0, fmt.Errorf("%w: no sms gateway client", domain.ErrConfigMissing))
	}

	decision, err := d.router.ResolveRoute(ctx, profile.CountryCode, issuance.TryCount, profile.HasDeepLink())
	if err != nil {
		return domain.FailedResult(domain.ChannelSMS, 0, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("feedback.tier", decision.Tier.String()),
		attribute.String("feedback.region", decision.Region),
	)

	mobile := d.cfg.TestMobileNumber
	if mobile == "" {
		mobile, err = routing.NationalNumber(decision.CountryCode, profile.PhoneNumber)
		if err != nil {
			return routed(domain.FailedResult(domain.ChannelSMS, 0, err), decision)
		}
	}

	endpoints, err := d.smsEndpoints(ctx, decision, issuance, profile, mobile)
	if err != nil {
		return routed(domain.FailedResult(domain.ChannelSMS, 0, err), decision)
	}

	// Global sends each code on its own; the channel counts as sent only if every call succeeds.
	var sendErrs []error
	for _, endpoint := range endpoints {
		resp, sendErr := d.sendOneSMS(ctx, decision.Tier, endpoint)
		d.recordAttempt(ctx, issuance, domain.ChannelSMS, &decision.Tier, resp, sendErr)
		if sendErr != nil {
			sendErrs = append(sendErrs, sendErr)
			if decision.Tier == domain.TierGCC {
				d.alertGatewayFailure(ctx, issuance, decision, sendErr, logger)
			}
		}
	}

	if len(sendErrs) > 0 {
		return routed(domain.FailedResult(domain.ChannelSMS, len(endpoints), errors.Join(sendErrs...)), decision)
	}
	return routed(domain.SentResult(domain.ChannelSMS, len(endpoints)), decision)
}

func routed(result domain.ChannelResult, decision *routing.Decision) domain.ChannelResult {
	result.Tier = decision.Tier
	result.Region = decision.Region
	return result
}

func (d *Dispatcher) sendOneSMS(ctx context.Context, tier domain.RoutingTier, endpoint string) (*provider.ProviderResponse, error) {
	if err := d.waitTurn(ctx, ratelimit.SMSKey(tier)); err != nil {
		return nil, err
	}
	return d.sms.SendSMS(ctx, endpoint)
}

func (d *Dispatcher) smsEndpoints(
	ctx context.Context,
	decision *routing.Decision,
	issuance *domain.FeedbackIssuance,
	profile *domain.RecipientProfile,
	mobile string,
) ([]string, error) {
	endpoints := make([]string, 0, decision.Dispatches())

	if decision.Tier == domain.TierGlobal {
		otps := []string{issuance.HappyCode, issuance.UnhappyCode}
		for i, key := range decision.TemplateKeys {
			tmpl, err := d.template(ctx, key)
			if err != nil {
				return nil, err
			}
			endpoint, err := render.RenderEscaped(decision.Route.EndpointPattern, render.Values{
				"ApiKey":      decision.Route.APIKey,
				"MobileNo":    mobile,
				"Otp":         otps[i%len(otps)],
				"MsgTemplate": strings.TrimSpace(tmpl.Body),
				"CountryCode": decision.CountryCode,
			}, url.QueryEscape)
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, endpoint)
		}
		return endpoints, nil
	}

	tmpl, err := d.template(ctx, decision.TemplateKeys[0])
	if err != nil {
		return nil, err
	}
	message, err := render.Render(tmpl.Body, render.Values{
		"HappyOtp":    issuance.HappyCode,
		"UnHappyOtp":  issuance.UnhappyCode,
		"RMShortName": profile.RMShortName,
		"PWAUrl":      profile.PWAUrl,
		"CountryCode": decision.CountryCode,
	})
	if err != nil {
		return nil, err
	}
	endpoint, err := render.RenderEscaped(decision.Route.EndpointPattern, render.Values{
		"MobileNo":    mobile,
		"Message":     strings.TrimSpace(message),
		"CountryCode": decision.CountryCode,
		"RMShortName": profile.RMShortName,
		"PWAUrl":      profile.PWAUrl,
		"ApiKey":      decision.Route.APIKey,
	}, url.QueryEscape)
	if err != nil {
		return nil, err
	}
	return append(endpoints, endpoint), nil
}

func (d *Dispatcher) alertGatewayFailure(
	ctx context.Context,
	issuance *domain.FeedbackIssuance,
	decision *routing.Decision,
	sendErr error,
	logger *zap.Logger,
) {
	if d.cfg.FailureAlertTo == "" || d.email == nil {
		return
	}

	body := sendErr.Error()
	var providerErr *provider.ProviderError
	if errors.As(sendErr, &providerErr) && providerErr.Message != "" {
		body = providerErr.Message
	}

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ChannelTimeout)
	defer cancel()

	_, err := d.email.SendEmail(alertCtx, provider.EmailMessage{
		To:       provider.ParseAddressList(d.cfg.FailureAlertTo),
		Subject:  fmt.Sprintf("SMS gateway failed for country code %s activity %d", decision.CountryCode, issuance.ActivityID),
		HTMLBody: "<pre>" + html.EscapeString(body) + "</pre>",
	})
	if err != nil {
		logger.Warn("failed to send gateway failure alert", zap.Error(err))
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, issuance *domain.FeedbackIssuance, profile *domain.RecipientProfile) domain.ChannelResult {
	to := provider.ParseAddressList(profile.Email)
	if len(to) == 0 {
		return domain.SkippedResult(domain.ChannelEmail, "recipient has no email address")
	}
	if d.email == nil {
		return domain.FailedResult(domain.ChannelEmail, 0, fmt.Errorf("%w: no email provider", domain.ErrConfigMissing))
	}

	key := domain.TemplateEmailOTP
	if profile.HasDeepLink() {
		key = domain.TemplateEmailOTPWithLink
	}
	tmpl, err := d.template(ctx, key)
	if err != nil {
		return domain.FailedResult(domain.ChannelEmail, 0, err)
	}

	values := render.Values{
		"CustomerName": profile.CustomerName,
		"RMName":       profile.RMName,
		"RMShortName":  profile.RMShortName,
		"HappyOtp":     issuance.HappyCode,
		"UnHappyOtp":   issuance.UnhappyCode,
		"PWAUrl":       profile.PWAUrl,
		"ActivityType": profile.ActivityName,
	}
	subject, err := render.Render(tmpl.Subject, values)
	if err != nil {
		return domain.FailedResult(domain.ChannelEmail, 0, err)
	}
	body, err := render.RenderEscaped(tmpl.Body, values, html.EscapeString)
	if err != nil {
		return domain.FailedResult(domain.ChannelEmail, 0, err)
	}

	if err := d.waitTurn(ctx, ratelimit.ChannelKey(domain.ChannelEmail)); err != nil {
		return domain.FailedResult(domain.ChannelEmail, 0, err)
	}
	resp, sendErr := d.email.SendEmail(ctx, provider.EmailMessage{
		To:       to,
		Cc:       provider.ParseAddressList(profile.MailCc),
		Bcc:      provider.ParseAddressList(profile.MailBcc),
		Subject:  subject,
		HTMLBody: body,
	})
	d.recordAttempt(ctx, issuance, domain.ChannelEmail, nil, resp, sendErr)
	if sendErr != nil {
		return domain.FailedResult(domain.ChannelEmail, 1, sendErr)
	}
	return domain.SentResult(domain.ChannelEmail, 1)
}

func (d *Dispatcher) sendPush(ctx context.Context, issuance *domain.FeedbackIssuance, profile *domain.RecipientProfile) domain.ChannelResult {
	if !profile.PushEnabled {
		return domain.SkippedResult(domain.ChannelPush, "push disabled for recipient")
	}
	if strings.TrimSpace(profile.PushUserID) == "" {
		return domain.SkippedResult(domain.ChannelPush, "recipient has no push subscription")
	}
	if d.push == nil {
		return domain.FailedResult(domain.ChannelPush, 0, fmt.Errorf("%w: no push provider", domain.ErrConfigMissing))
	}

	notificationCopy, err := d.templates.GetNotificationCopy(ctx, domain.CopyFeedbackCode)
	if err != nil {
		return domain.FailedResult(domain.ChannelPush, 0, configError(err))
	}

	firstName := strings.TrimSpace(profile.RMShortName)
	if firstName == "" {
		firstName = profile.RMFirstName()
	}
	values := render.Values{
		"FirstName":  firstName,
		"HappyOtp":   issuance.HappyCode,
		"UnHappyOtp": issuance.UnhappyCode,
	}
	title, err := render.Render(notificationCopy.Title, values)
	if err != nil {
		return domain.FailedResult(domain.ChannelPush, 0, err)
	}
	message, err := render.Render(notificationCopy.Message, values)
	if err != nil {
		return domain.FailedResult(domain.ChannelPush, 0, err)
	}

	if err := d.waitTurn(ctx, ratelimit.ChannelKey(domain.ChannelPush)); err != nil {
		return domain.FailedResult(domain.ChannelPush, 0, err)
	}
	resp, sendErr := d.push.SendPush(ctx, provider.PushMessage{
		Title:   title,
		Message: message,
		URL:     profile.PWAUrl,
		UserID:  profile.PushUserID,
	})
	d.recordAttempt(ctx, issuance, domain.ChannelPush, nil, resp, sendErr)
	if sendErr != nil {
		return domain.FailedResult(domain.ChannelPush, 1, sendErr)
	}
	return domain.SentResult(domain.ChannelPush, 1)
}

func (d *Dispatcher) template(ctx context.Context, key string) (*domain.MessageTemplate, error) {
	tmpl, err := d.templates.GetTemplate(ctx, key)
	if err != nil {
		return nil, configError(err)
	}
	return tmpl, nil
}

// configError turns a missing template row into CONFIG_MISSING for the channel.
func configError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrConfigMissing, err)
	}
	return err
}

func (d *Dispatcher) recordAttempt(
	ctx context.Context,
	issuance *domain.FeedbackIssuance,
	ch domain.Channel,
	tier *domain.RoutingTier,
	resp *provider.ProviderResponse,
	sendErr error,
) {
	var statusCode *int
	var attemptErr *string

	if resp != nil && resp.StatusCode > 0 {
		value := resp.StatusCode
		statusCode = &value
	}
	if sendErr != nil {
		value := provider.Detail(sendErr)
		attemptErr = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 && statusCode == nil {
			value := providerErr.StatusCode
			statusCode = &value
		}
	}

	attempt := &domain.DeliveryAttempt{
		ID:         uuid.NewString(),
		IssuanceID: issuance.ID,
		ActivityID: issuance.ActivityID,
		Channel:    ch,
		Tier:       tier,
		TryCount:   issuance.TryCount,
		StatusCode: statusCode,
		Error:      attemptErr,
		CreatedAt:  d.now().UTC(),
	}
	if err := d.attempts.Create(context.WithoutCancel(ctx), attempt); err != nil {
		observability.WithContextLogger(d.logger, ctx).Warn("failed to record delivery attempt",
			zap.String("channel", ch.String()),
			zap.Error(err),
		)
	}
}
