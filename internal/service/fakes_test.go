package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/provider"
	"github.com/kursadbilgin/feedback-engine/internal/queue"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
)

var (
	_ repository.IssuanceRepository = (*memIssuanceRepo)(nil)
	_ repository.LeadRepository     = (*fakeLeadRepo)(nil)
	_ repository.TemplateRepository = (*fakeTemplateRepo)(nil)
	_ repository.AttemptRepository  = (*fakeAttemptRepo)(nil)
)

// memIssuanceRepo keeps issuances in memory. Transact serializes callers and
// restores the previous rows when the callback fails.
type memIssuanceRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex
	rows map[string]domain.FeedbackIssuance

	upsertErrs []error
	upserts    int
}

func newMemIssuanceRepo(seed ...domain.FeedbackIssuance) *memIssuanceRepo {
	r := &memIssuanceRepo{rows: make(map[string]domain.FeedbackIssuance)}
	for _, f := range seed {
		r.rows[f.ID] = f
	}
	return r
}

func (r *memIssuanceRepo) Transact(ctx context.Context, fn func(tx repository.IssuanceRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[string]domain.FeedbackIssuance, len(r.rows))
	for id, row := range r.rows {
		snapshot[id] = row
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.rows = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memIssuanceRepo) LockUnresolved(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	return r.GetUnresolved(ctx, activityID)
}

func (r *memIssuanceRepo) GetUnresolved(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.ActivityID == activityID && !row.Resolved {
			found := row
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: unresolved issuance for activity %d", domain.ErrNotFound, activityID)
}

func (r *memIssuanceRepo) GetLatest(ctx context.Context, activityID int64) (*domain.FeedbackIssuance, error) {
	rows := r.forActivity(activityID)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: issuance for activity %d", domain.ErrNotFound, activityID)
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func (r *memIssuanceRepo) Upsert(ctx context.Context, f *domain.FeedbackIssuance) error {
	if err := f.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.upserts++
	if len(r.upsertErrs) > 0 {
		err := r.upsertErrs[0]
		r.upsertErrs = r.upsertErrs[1:]
		if err != nil {
			return err
		}
	}
	for id, row := range r.rows {
		if id != f.ID && row.ActivityID == f.ActivityID && !row.Resolved && !f.Resolved {
			return fmt.Errorf("%w: unresolved issuance exists for activity %d", domain.ErrConflict, f.ActivityID)
		}
	}
	stored := *f
	stored.ChannelsSent = append([]domain.Channel(nil), f.ChannelsSent...)
	r.rows[f.ID] = stored
	return nil
}

func (r *memIssuanceRepo) Resolve(ctx context.Context, id string, outcome domain.Outcome, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Resolved {
		return fmt.Errorf("%w: issuance %s", domain.ErrAlreadyResolved, id)
	}
	row.Resolved = true
	row.Outcome = outcome
	row.ResolvedAt = &resolvedAt
	r.rows[id] = row
	return nil
}

func (r *memIssuanceRepo) MarkChannelSent(ctx context.Context, id string, tryCount int, ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.TryCount != tryCount {
		return fmt.Errorf("%w: issuance %s at try %d", domain.ErrNotFound, id, tryCount)
	}
	row.AddChannel(ch)
	r.rows[id] = row
	return nil
}

// forActivity returns the rows of an activity oldest first.
func (r *memIssuanceRepo) forActivity(activityID int64) []domain.FeedbackIssuance {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rows []domain.FeedbackIssuance
	for _, row := range r.rows {
		if row.ActivityID == activityID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].IssuedAt.Before(rows[j].IssuedAt) })
	return rows
}

func (r *memIssuanceRepo) get(id string) domain.FeedbackIssuance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

type fakeLeadRepo struct {
	getLeadActivityFn      func(ctx context.Context, activityID int64) (*domain.LeadActivity, error)
	getRecipientProfileFn  func(ctx context.Context, activityID int64) (*domain.RecipientProfile, error)
	getEscalationContactFn func(ctx context.Context, activityID int64) (*domain.EscalationContact, error)
}

func (f *fakeLeadRepo) GetLeadActivity(ctx context.Context, activityID int64) (*domain.LeadActivity, error) {
	if f.getLeadActivityFn != nil {
		return f.getLeadActivityFn(ctx, activityID)
	}
	return &domain.LeadActivity{
		LeadID:         activityID * 10,
		ActivityID:     activityID,
		GenerationDate: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeLeadRepo) GetRecipientProfile(ctx context.Context, activityID int64) (*domain.RecipientProfile, error) {
	if f.getRecipientProfileFn != nil {
		return f.getRecipientProfileFn(ctx, activityID)
	}
	profile := testProfile(activityID)
	return &profile, nil
}

func (f *fakeLeadRepo) GetEscalationContact(ctx context.Context, activityID int64) (*domain.EscalationContact, error) {
	if f.getEscalationContactFn != nil {
		return f.getEscalationContactFn(ctx, activityID)
	}
	return &domain.EscalationContact{
		LeadID:          activityID * 10,
		ActivityID:      activityID,
		SupervisorName:  "Maryam",
		SupervisorEmail: "maryam@example.com",
		MailCc:          "ops@example.com",
		RMName:          "Omar Haddad",
		CustomerName:    "Layla",
		LeaderName:      "Khalid",
	}, nil
}

func testProfile(activityID int64) domain.RecipientProfile {
	return domain.RecipientProfile{
		ActivityID:   activityID,
		CustomerName: "Layla",
		Email:        "layla@example.com",
		MailCc:       "rm@example.com",
		CountryCode:  "971",
		PhoneNumber:  "501234567",
		RMName:       "Omar Haddad",
		RMShortName:  "Omar",
		ActivityName: "Site Visit",
		SMSEnabled:   true,
		PushEnabled:  true,
		PushUserID:   "push-user-1",
	}
}

type fakeTemplateRepo struct {
	mu        sync.Mutex
	templates map[string]domain.MessageTemplate
	routes    map[domain.RoutingTier]domain.RouteConfig
	copies    map[string]domain.NotificationCopy
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{
		templates: map[string]domain.MessageTemplate{
			domain.TemplateSMSDomestic:      {Key: domain.TemplateSMSDomestic, Body: "Happy {HappyOtp} Unhappy {UnHappyOtp} from {RMShortName}"},
			domain.TemplateSMSGCC:           {Key: domain.TemplateSMSGCC, Body: "Happy {HappyOtp} Unhappy {UnHappyOtp} from {RMShortName}"},
			domain.TemplateSMSWithLink:      {Key: domain.TemplateSMSWithLink, Body: "Rate {RMShortName}: {PWAUrl} ({HappyOtp}/{UnHappyOtp})"},
			domain.TemplateSMSGlobalHappy:   {Key: domain.TemplateSMSGlobalHappy, Body: "happy-template"},
			domain.TemplateSMSGlobalUnhappy: {Key: domain.TemplateSMSGlobalUnhappy, Body: "unhappy-template"},
			domain.TemplateEmailOTP: {
				Key:     domain.TemplateEmailOTP,
				Subject: "Feedback for your {ActivityType} with {RMName}",
				Body:    "<p>Dear {CustomerName}, reply {HappyOtp} or {UnHappyOtp}.</p>",
			},
			domain.TemplateEmailOTPWithLink: {
				Key:     domain.TemplateEmailOTPWithLink,
				Subject: "Feedback for your {ActivityType} with {RMName}",
				Body:    "<p>Dear {CustomerName}, open {PWAUrl} or reply {HappyOtp} / {UnHappyOtp}.</p>",
			},
			domain.TemplateEmailEscalation: {
				Key:     domain.TemplateEmailEscalation,
				Subject: "Unhappy customer on lead {LeadID}",
				Body:    "Dear {Supervisor}, {CustomerName} was unhappy with {RMName}. Leader: {LeaderName}",
			},
		},
		routes: map[domain.RoutingTier]domain.RouteConfig{
			domain.TierDomestic: {Tier: domain.TierDomestic, EndpointPattern: "https://sms.in/send?to={MobileNo}&text={Message}&key={ApiKey}", APIKey: "in-key"},
			domain.TierGCC:      {Tier: domain.TierGCC, EndpointPattern: "https://sms.gcc/send?to={CountryCode}{MobileNo}&text={Message}", APIKey: "gcc-key"},
			domain.TierGlobal:   {Tier: domain.TierGlobal, EndpointPattern: "https://sms.global/otp?key={ApiKey}&to={MobileNo}&otp={Otp}&tpl={MsgTemplate}", APIKey: "gl-key"},
		},
		copies: map[string]domain.NotificationCopy{
			domain.CopyFeedbackCode: {Key: domain.CopyFeedbackCode, Title: "Feedback for {FirstName}", Message: "Happy {HappyOtp} / Unhappy {UnHappyOtp}"},
		},
	}
}

func (f *fakeTemplateRepo) GetTemplate(ctx context.Context, key string) (*domain.MessageTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tmpl, ok := f.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, key)
	}
	return &tmpl, nil
}

func (f *fakeTemplateRepo) GetRoute(ctx context.Context, tier domain.RoutingTier) (*domain.RouteConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	route, ok := f.routes[tier]
	if !ok {
		return nil, fmt.Errorf("%w: route %s", domain.ErrNotFound, tier)
	}
	return &route, nil
}

func (f *fakeTemplateRepo) GetNotificationCopy(ctx context.Context, key string) (*domain.NotificationCopy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.copies[key]
	if !ok {
		return nil, fmt.Errorf("%w: notification copy %s", domain.ErrNotFound, key)
	}
	return &c, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
	createFn func(ctx context.Context, a *domain.DeliveryAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByIssuance(ctx context.Context, issuanceID string) ([]domain.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, a := range f.attempts {
		if a.IssuanceID == issuanceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) byChannel(ch domain.Channel) []domain.DeliveryAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, a := range f.attempts {
		if a.Channel == ch {
			out = append(out, a)
		}
	}
	return out
}

type fakeSMSSender struct {
	mu        sync.Mutex
	endpoints []string
	sendFn    func(ctx context.Context, endpoint string) (*provider.ProviderResponse, error)
}

func (f *fakeSMSSender) SendSMS(ctx context.Context, endpoint string) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, endpoint)
	}
	return &provider.ProviderResponse{StatusCode: 200}, nil
}

func (f *fakeSMSSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endpoints...)
}

type fakeEmailSender struct {
	mu       sync.Mutex
	messages []provider.EmailMessage
	sendFn   func(ctx context.Context, msg provider.EmailMessage) (*provider.ProviderResponse, error)
}

func (f *fakeEmailSender) SendEmail(ctx context.Context, msg provider.EmailMessage) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{StatusCode: 250}, nil
}

func (f *fakeEmailSender) sent() []provider.EmailMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.EmailMessage(nil), f.messages...)
}

type fakePushSender struct {
	mu       sync.Mutex
	messages []provider.PushMessage
	sendFn   func(ctx context.Context, msg provider.PushMessage) (*provider.ProviderResponse, error)
}

func (f *fakePushSender) SendPush(ctx context.Context, msg provider.PushMessage) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{StatusCode: 201}, nil
}

func (f *fakePushSender) sent() []provider.PushMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.PushMessage(nil), f.messages...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	notifyFn func(ctx context.Context, activityID int64, outcome domain.Outcome) error
}

func (f *fakeNotifier) NotifyOutcome(ctx context.Context, activityID int64, outcome domain.Outcome) error {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, outcome)
	f.mu.Unlock()
	if f.notifyFn != nil {
		return f.notifyFn(ctx, activityID, outcome)
	}
	return nil
}

func (f *fakeNotifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	keys   []string
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

func (f *fakeRateLimiter) waited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := append([]string(nil), f.keys...)
	sort.Strings(keys)
	return keys
}

type fakeOutcomeDispatcher struct {
	mu        sync.Mutex
	tasks     []domain.OutcomeTask
	enqueueFn func(ctx context.Context, task domain.OutcomeTask) error
}

func (f *fakeOutcomeDispatcher) Enqueue(ctx context.Context, task domain.OutcomeTask) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, task)
	}
	return nil
}

func (f *fakeOutcomeDispatcher) enqueued() []domain.OutcomeTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OutcomeTask(nil), f.tasks...)
}

type fakeTaskHandler struct {
	mu       sync.Mutex
	calls    int
	handleFn func(ctx context.Context, task domain.OutcomeTask) error
}

func (f *fakeTaskHandler) Handle(ctx context.Context, task domain.OutcomeTask) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.handleFn != nil {
		return f.handleFn(ctx, task)
	}
	return nil
}

func (f *fakeTaskHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu        sync.Mutex
	queues    []string
	messages  []queue.OutcomeMessage
	publishFn func(ctx context.Context, queueName string, msg queue.OutcomeMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.OutcomeMessage) error {
	f.mu.Lock()
	f.queues = append(f.queues, queueName)
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	mu        sync.Mutex
	queues    []string
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	f.mu.Lock()
	f.queues = append(f.queues, queueName)
	f.mu.Unlock()
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func (f *fakeConsumer) consumed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	queues := append([]string(nil), f.queues...)
	sort.Strings(queues)
	return queues
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }
