package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"go.uber.org/zap"
)

var _ EmailSender = (*FailoverEmailSender)(nil)

// FailoverEmailSender tries each sender in order until one accepts the message.
type FailoverEmailSender struct {
	senders []EmailSender
	logger  *zap.Logger
}

func NewFailoverEmailSender(logger *zap.Logger, senders ...EmailSender) (*FailoverEmailSender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	configured := make([]EmailSender, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			configured = append(configured, s)
		}
	}
	if len(configured) == 0 {
		return nil, fmt.Errorf("at least one email sender is required")
	}

	return &FailoverEmailSender{senders: configured, logger: logger}, nil
}

func (f *FailoverEmailSender) SendEmail(ctx context.Context, msg EmailMessage) (*ProviderResponse, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	errs := make([]error, 0, len(f.senders))
	for i, sender := range f.senders {
		resp, err := sender.SendEmail(ctx, msg)
		if err == nil {
			if i > 0 {
				f.logger.Info("email delivered by fallback provider", zap.Int("provider", i))
			}
			return resp, nil
		}
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}

		errs = append(errs, err)
		f.logger.Warn("email provider failed",
			zap.Int("provider", i),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all email providers failed: %w", errors.Join(errs...))
}
