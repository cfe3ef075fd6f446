package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"go.uber.org/zap"
)

var resultStatuses = map[domain.ResultCode]int{
	domain.ResultOK:                fiber.StatusOK,
	domain.ResultNotFound:          fiber.StatusNotFound,
	domain.ResultAlreadyResolved:   fiber.StatusConflict,
	domain.ResultCodeMismatch:      fiber.StatusUnprocessableEntity,
	domain.ResultCodeExpired:       fiber.StatusGone,
	domain.ResultNoActiveIssuance:  fiber.StatusNotFound,
	domain.ResultRouteUnavailable:  fiber.StatusBadGateway,
	domain.ResultChannelSendFailed: fiber.StatusBadGateway,
	domain.ResultStoreUnavailable:  fiber.StatusServiceUnavailable,
	domain.ResultConfigMissing:     fiber.StatusInternalServerError,
	domain.ResultInvalidRequest:    fiber.StatusBadRequest,
	domain.ResultConflict:          fiber.StatusConflict,
	domain.ResultInternal:          fiber.StatusInternalServerError,
}

// StatusFor maps a result code onto an HTTP status.
func StatusFor(code domain.ResultCode) int {
	if status, ok := resultStatuses[code]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := domain.CodeOf(err)
		message := err.Error()

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			code = codeForStatus(status)
		} else {
			status = StatusFor(code)
		}
		if status >= fiber.StatusInternalServerError && code == domain.ResultInternal {
			message = "internal error"
		}

		logger.Error("request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.String("code", code.String()),
			zap.Error(err),
		)

		return c.Status(status).JSON(fiber.Map{
			"code":    code,
			"message": message,
		})
	}
}

func codeForStatus(status int) domain.ResultCode {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity, fiber.StatusMethodNotAllowed:
		return domain.ResultInvalidRequest
	case fiber.StatusNotFound:
		return domain.ResultNotFound
	case fiber.StatusConflict:
		return domain.ResultConflict
	case fiber.StatusServiceUnavailable:
		return domain.ResultStoreUnavailable
	}
	return domain.ResultInternal
}
