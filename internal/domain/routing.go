package domain

import (
	"fmt"
	"strings"
)

// RoutingTier selects the SMS gateway and message shape for a country code.
type RoutingTier string

const (
	TierDomestic RoutingTier = "domestic"
	TierGCC      RoutingTier = "gcc"
	TierGlobal   RoutingTier = "global"
)

func (t RoutingTier) String() string { return string(t) }

func (t RoutingTier) IsValid() bool {
	switch t {
	case TierDomestic, TierGCC, TierGlobal:
		return true
	}
	return false
}

func ParseRoutingTierFromString(s string) (RoutingTier, error) {
	t := RoutingTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid routing tier %q", ErrValidation, s)
	}
	return t, nil
}

// Template keys understood by the engine.
const (
	TemplateSMSDomestic      = "sms.domestic"
	TemplateSMSGCC           = "sms.gcc"
	TemplateSMSWithLink      = "sms.otp_pwa"
	TemplateSMSGlobalHappy   = "sms.global.happy"
	TemplateSMSGlobalUnhappy = "sms.global.unhappy"

	TemplateEmailOTP         = "OTP"
	TemplateEmailOTPWithLink = "OTP_PWA"
	TemplateEmailEscalation  = "UNHAPPY_MAIL_TO_SUP"

	CopyFeedbackCode = "FEEDBACK_CODE"
)

// MessageTemplate is a subject/body pair with {Name} placeholders.
type MessageTemplate struct {
	Key     string
	Subject string
	Body    string
}

// RouteConfig is the gateway URL pattern for a tier.
type RouteConfig struct {
	Tier            RoutingTier
	EndpointPattern string
	APIKey          string
}

// NotificationCopy is the push title/message pair.
type NotificationCopy struct {
	Key     string
	Title   string
	Message string
}
