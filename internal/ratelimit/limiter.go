package ratelimit

import (
	"context"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// RateLimiter controls outbound throughput per gateway key, e.g. "sms:gcc" or "email".
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// SMSKey is the limiter key of one SMS gateway tier.
func SMSKey(tier domain.RoutingTier) string {
	return domain.ChannelSMS.String() + ":" + tier.String()
}

// ChannelKey is the limiter key of a single-gateway channel.
func ChannelKey(ch domain.Channel) string {
	return ch.String()
}

var _ RateLimiter = Unlimited{}

// Unlimited never throttles. It stands in when no shared limiter is configured.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (Unlimited) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
