package domain

import "errors"

// ResultCode is the stable outcome code returned across the engine boundary.
type ResultCode string

const (
	ResultOK                ResultCode = "OK"
	ResultNotFound          ResultCode = "NOT_FOUND"
	ResultAlreadyResolved   ResultCode = "ALREADY_RESOLVED"
	ResultCodeMismatch      ResultCode = "CODE_MISMATCH"
	ResultCodeExpired       ResultCode = "CODE_EXPIRED"
	ResultNoActiveIssuance  ResultCode = "NO_ACTIVE_ISSUANCE"
	ResultRouteUnavailable  ResultCode = "ROUTE_UNAVAILABLE"
	ResultChannelSendFailed ResultCode = "CHANNEL_SEND_FAILED"
	ResultStoreUnavailable  ResultCode = "STORE_UNAVAILABLE"
	ResultConfigMissing     ResultCode = "CONFIG_MISSING"
	ResultInvalidRequest    ResultCode = "INVALID_REQUEST"
	ResultConflict          ResultCode = "CONFLICT"
	ResultInternal          ResultCode = "INTERNAL"
)

func (c ResultCode) String() string { return string(c) }

var resultCodes = []struct {
	err  error
	code ResultCode
}{
	{ErrAlreadyResolved, ResultAlreadyResolved},
	{ErrCodeMismatch, ResultCodeMismatch},
	{ErrCodeExpired, ResultCodeExpired},
	{ErrNoActiveIssuance, ResultNoActiveIssuance},
	{ErrRouteUnavailable, ResultRouteUnavailable},
	{ErrChannelSendFailed, ResultChannelSendFailed},
	{ErrConfigMissing, ResultConfigMissing},
	{ErrStoreUnavailable, ResultStoreUnavailable},
	{ErrNotFound, ResultNotFound},
	{ErrValidation, ResultInvalidRequest},
	{ErrConflict, ResultConflict},
}

// CodeOf maps an error onto the result taxonomy. Nil maps to ResultOK.
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResultOK
	}
	for _, rc := range resultCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return ResultInternal
}
