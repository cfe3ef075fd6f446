package domain

import (
	"fmt"
	"time"
)

// DeliveryAttempt audits a single provider call made for an issuance. Tier is
// set for SMS only.
type DeliveryAttempt struct {
	ID         string
	IssuanceID string
	ActivityID int64
	Channel    Channel
	Tier       *RoutingTier
	TryCount   int
	StatusCode *int
	Error      *string
	CreatedAt  time.Time
}

func (a *DeliveryAttempt) Validate() error {
	switch {
	case a.IssuanceID == "":
		return fmt.Errorf("%w: attempt issuance id is required", ErrValidation)
	case a.ActivityID <= 0:
		return fmt.Errorf("%w: attempt activity id must be positive", ErrValidation)
	case !a.Channel.IsValid():
		return fmt.Errorf("%w: invalid attempt channel %q", ErrValidation, a.Channel)
	case a.Tier != nil && !a.Tier.IsValid():
		return fmt.Errorf("%w: invalid attempt tier %q", ErrValidation, *a.Tier)
	case a.TryCount < 1:
		return fmt.Errorf("%w: attempt try count must be at least 1", ErrValidation)
	}
	return nil
}

// Succeeded reports whether the provider accepted the call.
func (a DeliveryAttempt) Succeeded() bool {
	return a.Error == nil
}
