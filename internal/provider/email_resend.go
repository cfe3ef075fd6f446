package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

var _ EmailSender = (*ResendEmailSender)(nil)

// ResendEmailSender delivers mail through the Resend API.
type ResendEmailSender struct {
	client *resend.Client
	from   string
}

func NewResendEmailSender(apiKey, from string) (*ResendEmailSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	return NewResendEmailSenderWithClient(resend.NewClient(apiKey), from)
}

func NewResendEmailSenderWithClient(client *resend.Client, from string) (*ResendEmailSender, error) {
	if client == nil {
		return nil, fmt.Errorf("resend client is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("resend from address is required")
	}
	return &ResendEmailSender{client: client, from: from}, nil
}

func (s *ResendEmailSender) SendEmail(ctx context.Context, msg EmailMessage) (*ProviderResponse, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("resend sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
	})
	if err != nil {
		return nil, sendFailure("resend", "send failed", err)
	}

	resp := &ProviderResponse{}
	if sent != nil {
		resp.MessageID = sent.Id
	}
	return resp, nil
}
