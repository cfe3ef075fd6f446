package repository

import (
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// LeadActivityModel reads the CRM's lead_activities view.
type LeadActivityModel struct {
	ActivityID       int64      `gorm:"column:activity_id;primaryKey"`
	LeadID           int64      `gorm:"column:lead_id"`
	AssignedTo       int64      `gorm:"column:assigned_to"`
	SharedWith       *int64     `gorm:"column:shared_with"`
	SegmentID        int        `gorm:"column:segment_id"`
	GenerationDate   time.Time  `gorm:"column:generation_date"`
	ReassignmentDate *time.Time `gorm:"column:reassignment_date"`
	StatusID         int        `gorm:"column:status_id"`
}

func (LeadActivityModel) TableName() string {
	return "lead_activities"
}

// RecipientProfileModel reads the CRM's feedback_recipient_profiles view.
type RecipientProfileModel struct {
	ActivityID   int64  `gorm:"column:activity_id;primaryKey"`
	CustomerName string `gorm:"column:customer_name"`
	Email        string `gorm:"column:email"`
	MailCc       string `gorm:"column:mail_cc"`
	MailBcc      string `gorm:"column:mail_bcc"`
	CountryCode  string `gorm:"column:country_code"`
	PhoneNumber  string `gorm:"column:phone_number"`
	RMName       string `gorm:"column:rm_name"`
	RMShortName  string `gorm:"column:rm_short_name"`
	ActivityName string `gorm:"column:activity_name"`
	PWAUrl       string `gorm:"column:pwa_url"`
	SendOTPSMS   bool   `gorm:"column:send_otp_sms"`
	WebPush      bool   `gorm:"column:web_push"`
	PushUserID   string `gorm:"column:push_user_id"`
}

func (RecipientProfileModel) TableName() string {
	return "feedback_recipient_profiles"
}

// EscalationContactModel reads the CRM's feedback_escalation_contacts view.
type EscalationContactModel struct {
	ActivityID      int64  `gorm:"column:activity_id;primaryKey"`
	LeadID          int64  `gorm:"column:lead_id"`
	SupervisorName  string `gorm:"column:supervisor_name"`
	SupervisorEmail string `gorm:"column:supervisor_email"`
	MailCc          string `gorm:"column:mail_cc"`
	MailBcc         string `gorm:"column:mail_bcc"`
	RMName          string `gorm:"column:rm_name"`
	CustomerName    string `gorm:"column:customer_name"`
	LeaderName      string `gorm:"column:leader_name"`
}

func (EscalationContactModel) TableName() string {
	return "feedback_escalation_contacts"
}

// FeedbackIssuanceModel is the persistence model for feedback_issuances.
type FeedbackIssuanceModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	ActivityID  int64          `gorm:"not null"`
	HappyCode   string         `gorm:"type:varchar(12);not null"`
	UnhappyCode string         `gorm:"type:varchar(12);not null"`
	IssuedAt    time.Time      `gorm:"type:timestamptz;not null"`
	TryCount    int            `gorm:"not null"`
	Resolved    bool           `gorm:"not null"`
	Outcome     domain.Outcome `gorm:"type:varchar(16);not null"`
	ResolvedAt  *time.Time     `gorm:"type:timestamptz"`
	SMSSent     bool           `gorm:"column:sms_sent;not null"`
	EmailSent   bool           `gorm:"not null"`
	PushSent    bool           `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (FeedbackIssuanceModel) TableName() string {
	return "feedback_issuances"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID         string              `gorm:"type:uuid;primaryKey"`
	IssuanceID string              `gorm:"type:uuid;not null"`
	ActivityID int64               `gorm:"not null"`
	Channel    domain.Channel      `gorm:"type:varchar(10);not null"`
	Tier       *domain.RoutingTier `gorm:"type:varchar(16)"`
	TryCount   int                 `gorm:"not null"`
	StatusCode *int                `gorm:"type:int"`
	Error      *string             `gorm:"type:text"`
	CreatedAt  time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// MessageTemplateModel is the persistence model for message_templates.
type MessageTemplateModel struct {
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Subject   string `gorm:"type:text"`
	Body      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (MessageTemplateModel) TableName() string {
	return "message_templates"
}

// SMSRouteModel is the persistence model for sms_routes.
type SMSRouteModel struct {
	Tier            domain.RoutingTier `gorm:"type:varchar(16);primaryKey"`
	EndpointPattern string             `gorm:"type:text;not null"`
	APIKey          string             `gorm:"column:api_key;type:varchar(255)"`
	UpdatedAt       time.Time
}

func (SMSRouteModel) TableName() string {
	return "sms_routes"
}

// NotificationCopyModel is the persistence model for notification_copies.
type NotificationCopyModel struct {
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Title     string `gorm:"type:text;not null"`
	Message   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (NotificationCopyModel) TableName() string {
	return "notification_copies"
}

func leadActivityModelToDomain(m *LeadActivityModel) *domain.LeadActivity {
	if m == nil {
		return nil
	}

	activity := &domain.LeadActivity{
		LeadID:           m.LeadID,
		ActivityID:       m.ActivityID,
		AssignedToUserID: m.AssignedTo,
		SegmentID:        m.SegmentID,
		GenerationDate:   m.GenerationDate,
		ReassignmentDate: m.ReassignmentDate,
		CurrentStatus:    domain.LeadStatus(m.StatusID),
	}
	if m.SharedWith != nil {
		activity.SharedWithUserID = *m.SharedWith
	}
	return activity
}

func recipientProfileModelToDomain(m *RecipientProfileModel) *domain.RecipientProfile {
	if m == nil {
		return nil
	}

	return &domain.RecipientProfile{
		ActivityID:   m.ActivityID,
		CustomerName: m.CustomerName,
		Email:        m.Email,
		MailCc:       m.MailCc,
		MailBcc:      m.MailBcc,
		CountryCode:  m.CountryCode,
		PhoneNumber:  m.PhoneNumber,
		RMName:       m.RMName,
		RMShortName:  m.RMShortName,
		ActivityName: m.ActivityName,
		PWAUrl:       m.PWAUrl,
		SMSEnabled:   m.SendOTPSMS,
		PushEnabled:  m.WebPush,
		PushUserID:   m.PushUserID,
	}
}

func escalationContactModelToDomain(m *EscalationContactModel) *domain.EscalationContact {
	if m == nil {
		return nil
	}

	return &domain.EscalationContact{
		LeadID:          m.LeadID,
		ActivityID:      m.ActivityID,
		SupervisorName:  m.SupervisorName,
		SupervisorEmail: m.SupervisorEmail,
		MailCc:          m.MailCc,
		MailBcc:         m.MailBcc,
		RMName:          m.RMName,
		CustomerName:    m.CustomerName,
		LeaderName:      m.LeaderName,
	}
}

func issuanceModelFromDomain(f *domain.FeedbackIssuance) *FeedbackIssuanceModel {
	if f == nil {
		return nil
	}

	return &FeedbackIssuanceModel{
		ID:          f.ID,
		ActivityID:  f.ActivityID,
		HappyCode:   f.HappyCode,
		UnhappyCode: f.UnhappyCode,
		IssuedAt:    f.IssuedAt,
		TryCount:    f.TryCount,
		Resolved:    f.Resolved,
		Outcome:     f.Outcome,
		ResolvedAt:  f.ResolvedAt,
		SMSSent:     f.HasChannel(domain.ChannelSMS),
		EmailSent:   f.HasChannel(domain.ChannelEmail),
		PushSent:    f.HasChannel(domain.ChannelPush),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func issuanceModelToDomain(m *FeedbackIssuanceModel) *domain.FeedbackIssuance {
	if m == nil {
		return nil
	}

	f := &domain.FeedbackIssuance{
		ID:          m.ID,
		ActivityID:  m.ActivityID,
		HappyCode:   m.HappyCode,
		UnhappyCode: m.UnhappyCode,
		IssuedAt:    m.IssuedAt,
		TryCount:    m.TryCount,
		Resolved:    m.Resolved,
		Outcome:     m.Outcome,
		ResolvedAt:  m.ResolvedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.SMSSent {
		f.AddChannel(domain.ChannelSMS)
	}
	if m.EmailSent {
		f.AddChannel(domain.ChannelEmail)
	}
	if m.PushSent {
		f.AddChannel(domain.ChannelPush)
	}
	return f
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:         a.ID,
		IssuanceID: a.IssuanceID,
		ActivityID: a.ActivityID,
		Channel:    a.Channel,
		Tier:       a.Tier,
		TryCount:   a.TryCount,
		StatusCode: a.StatusCode,
		Error:      a.Error,
		CreatedAt:  a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:         m.ID,
		IssuanceID: m.IssuanceID,
		ActivityID: m.ActivityID,
		Channel:    m.Channel,
		Tier:       m.Tier,
		TryCount:   m.TryCount,
		StatusCode: m.StatusCode,
		Error:      m.Error,
		CreatedAt:  m.CreatedAt,
	}
}
