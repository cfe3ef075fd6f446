package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// ProviderError classifies channel provider failures as transient/permanent.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if name := strings.TrimSpace(e.Provider); name != "" {
		parts = append(parts, name+" provider error")
	} else {
		parts = append(parts, "provider error")
	}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// sendFailure wraps a transport-level failure of one provider call. Only
// cancellation by the caller is final.
func sendFailure(provider, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   message,
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// statusFailure wraps a non-2xx gateway reply. Throttling and server errors are retryable.
func statusFailure(provider string, statusCode int, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Transient:  statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError,
	}
}

// Detail renders err for a delivery audit row: the provider's own message when
// there is one, otherwise the full error text.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && strings.TrimSpace(providerErr.Message) != "" {
		if providerErr.StatusCode > 0 {
			return fmt.Sprintf("%s: %s", providerErr.Provider, providerErr.Message)
		}
		if providerErr.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", providerErr.Provider, providerErr.Message, providerErr.Cause)
		}
	}
	return err.Error()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is makes every provider failure a domain.ErrChannelSendFailed.
func (e *ProviderError) Is(target error) bool {
	return target == domain.ErrChannelSendFailed
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	if errors.Is(err, domain.ErrStoreUnavailable) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
