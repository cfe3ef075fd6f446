package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	gomail "github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 15 * time.Second

var _ EmailSender = (*SMTPEmailSender)(nil)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SMTPEmailSender delivers HTML mail through an SMTP relay.
type SMTPEmailSender struct {
	cfg SMTPConfig
}

func NewSMTPEmailSender(cfg SMTPConfig) (*SMTPEmailSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &SMTPEmailSender{cfg: cfg}, nil
}

func (s *SMTPEmailSender) SendEmail(ctx context.Context, msg EmailMessage) (*ProviderResponse, error) {
	if s == nil {
		return nil, fmt.Errorf("smtp sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	m, err := s.buildMessage(msg)
	if err != nil {
		return nil, err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return nil, sendFailure("smtp", "send failed", err)
	}

	resp := &ProviderResponse{}
	if ids := m.GetGenHeader(gomail.HeaderMessageID); len(ids) > 0 {
		resp.MessageID = ids[0]
	}
	return resp, nil
}

func (s *SMTPEmailSender) buildMessage(msg EmailMessage) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("%w: smtp from: %v", domain.ErrConfigMissing, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("%w: smtp to: %v", domain.ErrValidation, err)
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, fmt.Errorf("%w: smtp cc: %v", domain.ErrValidation, err)
		}
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return nil, fmt.Errorf("%w: smtp bcc: %v", domain.ErrValidation, err)
		}
	}
	m.SetMessageID()
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTMLBody)
	return m, nil
}
