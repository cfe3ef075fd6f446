// Package provider holds the channel senders used by the fan-out and outcome tasks.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// ProviderResponse stores provider call metadata for audit.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}

// SMSSender calls a fully rendered gateway URL.
type SMSSender interface {
	SendSMS(ctx context.Context, endpoint string) (*ProviderResponse, error)
}

type EmailMessage struct {
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	HTMLBody string
}

func (m EmailMessage) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.HTMLBody) == "" {
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}
	return nil
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (*ProviderResponse, error)
}

type PushMessage struct {
	Title   string
	Message string
	URL     string
	UserID  string
}

func (m PushMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("%w: push user id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Message) == "" {
		return fmt.Errorf("%w: push message is required", domain.ErrValidation)
	}
	return nil
}

type PushSender interface {
	SendPush(ctx context.Context, msg PushMessage) (*ProviderResponse, error)
}

// OutcomeNotifier informs the downstream notification center of a resolved code.
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, activityID int64, outcome domain.Outcome) error
}

// ParseAddressList splits a comma or semicolon separated address list.
func ParseAddressList(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';'
	})
	addresses := make([]string, 0, len(fields))
	for _, f := range fields {
		if addr := strings.TrimSpace(f); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	return addresses
}
