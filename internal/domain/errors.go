package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	ErrAlreadyResolved   = errors.New("feedback code already resolved")
	ErrCodeMismatch      = errors.New("feedback code mismatch")
	ErrCodeExpired       = errors.New("feedback code expired")
	ErrNoActiveIssuance  = errors.New("no active feedback code")
	ErrRouteUnavailable  = errors.New("route unavailable")
	ErrChannelSendFailed = errors.New("channel send failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrConfigMissing     = errors.New("config missing")
)
