package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/service"
	"github.com/kursadbilgin/feedback-engine/internal/transport"
)

// FeedbackEngine is the operation surface the routes call.
type FeedbackEngine interface {
	ComputeAllowedStatuses(ctx context.Context, activityID, currentUserID int64) service.OperationResult[*service.StatusesView]
	IssueFeedbackCode(ctx context.Context, activityID int64) service.OperationResult[*service.IssuanceView]
	DispatchFeedbackNotifications(ctx context.Context, activityID int64) service.OperationResult[*service.DispatchView]
	VerifyFeedbackCode(ctx context.Context, activityID int64, code string) service.OperationResult[*service.VerifyResult]
	ResendFeedbackCode(ctx context.Context, activityID int64) service.OperationResult[*service.DispatchView]
	ActivityUpdated(ctx context.Context, update service.ActivityUpdate) service.OperationResult[*service.ActivityUpdateView]
	DeliveryHistory(ctx context.Context, activityID int64) service.OperationResult[*service.HistoryView]
}

var _ FeedbackEngine = (*service.Engine)(nil)

type FeedbackHandler struct {
	engine FeedbackEngine
}

func NewFeedbackHandler(engine FeedbackEngine) (*FeedbackHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("feedback engine is required")
	}
	return &FeedbackHandler{engine: engine}, nil
}

func RegisterFeedbackRoutes(router fiber.Router, engine FeedbackEngine) error {
	h, err := NewFeedbackHandler(engine)
	if err != nil {
		return err
	}

	activities := router.Group("/v1/activities/:activityId")
	activities.Get("/statuses", h.GetAllowedStatuses)
	activities.Post("/feedback-codes", h.IssueFeedbackCode)
	activities.Post("/feedback-codes/dispatch", h.DispatchFeedbackCode)
	activities.Post("/feedback-codes/resend", h.ResendFeedbackCode)
	activities.Post("/feedback-codes/verify", h.VerifyFeedbackCode)
	activities.Get("/feedback-codes/attempts", h.DeliveryHistory)
	activities.Post("/updated", h.ActivityUpdated)

	return nil
}

type envelope struct {
	Code    domain.ResultCode `json:"code"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type activityUpdatedRequest struct {
	NewActivity   bool `json:"newActivity"`
	UpdateEnabled bool `json:"updateEnabled"`
}

type statusOptionResponse struct {
	StatusID   int    `json:"statusId"`
	StatusName string `json:"statusName"`
}

type statusesResponse struct {
	ActivityID    int64                  `json:"activityId"`
	Statuses      []statusOptionResponse `json:"statuses"`
	ReturnApplies bool                   `json:"returnApplies"`
	WindowEnd     time.Time              `json:"windowEnd"`
}

type issuanceResponse struct {
	IssuanceID string    `json:"issuanceId"`
	ActivityID int64     `json:"activityId"`
	TryCount   int       `json:"tryCount"`
	IssuedAt   time.Time `json:"issuedAt"`
}

type channelResultResponse struct {
	Status   string `json:"status"`
	Tier     string `json:"tier,omitempty"`
	Attempts int    `json:"attempts"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type dispatchResponse struct {
	Issuance issuanceResponse                 `json:"issuance"`
	Channels map[string]channelResultResponse `json:"channels"`
}

type verifyResponse struct {
	IssuanceID string `json:"issuanceId"`
	ActivityID int64  `json:"activityId"`
	Outcome    string `json:"outcome"`
}

type attemptResponse struct {
	AttemptID  string    `json:"attemptId"`
	Channel    string    `json:"channel"`
	Tier       string    `json:"tier,omitempty"`
	TryCount   int       `json:"tryCount"`
	Succeeded  bool      `json:"succeeded"`
	StatusCode *int      `json:"statusCode,omitempty"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type historyResponse struct {
	Issuance issuanceResponse  `json:"issuance"`
	Resolved bool              `json:"resolved"`
	Outcome  string            `json:"outcome"`
	Attempts []attemptResponse `json:"attempts"`
}

type activityUpdatedResponse struct {
	Triggered bool              `json:"triggered"`
	Delivery  *dispatchResponse `json:"delivery,omitempty"`
}

func (h *FeedbackHandler) GetAllowedStatuses(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(c.Query("userId")), 10, 64)
	if err != nil || userID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "userId query parameter must be a positive integer")
	}

	result := h.engine.ComputeAllowedStatuses(requestContext(c), activityID, userID)
	var data any
	if result.Data != nil {
		data = toStatusesResponse(result.Data)
	}
	return writeResult(c, result.Code, result.Message, data)
}

func (h *FeedbackHandler) IssueFeedbackCode(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}

	result := h.engine.IssueFeedbackCode(requestContext(c), activityID)
	var data any
	if result.Data != nil {
		data = toIssuanceResponse(*result.Data)
	}
	return writeResult(c, result.Code, result.Message, data)
}

func (h *FeedbackHandler) DispatchFeedbackCode(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}

	result := h.engine.DispatchFeedbackNotifications(requestContext(c), activityID)
	return writeResult(c, result.Code, result.Message, toDispatchResponse(result.Data))
}

func (h *FeedbackHandler) ResendFeedbackCode(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}

	result := h.engine.ResendFeedbackCode(requestContext(c), activityID)
	return writeResult(c, result.Code, result.Message, toDispatchResponse(result.Data))
}

func (h *FeedbackHandler) VerifyFeedbackCode(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Code) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "code is required")
	}

	result := h.engine.VerifyFeedbackCode(requestContext(c), activityID, req.Code)
	var data any
	if result.Data != nil {
		data = verifyResponse{
			IssuanceID: result.Data.IssuanceID,
			ActivityID: result.Data.ActivityID,
			Outcome:    result.Data.Outcome.String(),
		}
	}
	return writeResult(c, result.Code, result.Message, data)
}

func (h *FeedbackHandler) ActivityUpdated(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}
	var req activityUpdatedRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result := h.engine.ActivityUpdated(requestContext(c), service.ActivityUpdate{
		ActivityID:    activityID,
		NewActivity:   req.NewActivity,
		UpdateEnabled: req.UpdateEnabled,
	})
	var data any
	if result.Data != nil {
		resp := activityUpdatedResponse{Triggered: result.Data.Triggered}
		if result.Data.Delivery != nil {
			resp.Delivery = toDispatchResponse(result.Data.Delivery)
		}
		data = resp
	}
	return writeResult(c, result.Code, result.Message, data)
}

func (h *FeedbackHandler) DeliveryHistory(c *fiber.Ctx) error {
	activityID, err := activityIDParam(c)
	if err != nil {
		return err
	}

	result := h.engine.DeliveryHistory(requestContext(c), activityID)
	var data any
	if result.Data != nil {
		data = toHistoryResponse(result.Data)
	}
	return writeResult(c, result.Code, result.Message, data)
}

// writeResult renders an operation result. A failed dispatch still carries its
// per-channel report.
func writeResult(c *fiber.Ctx, code domain.ResultCode, message string, data any) error {
	return c.Status(transport.StatusFor(code)).JSON(envelope{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func activityIDParam(c *fiber.Ctx) (int64, error) {
	activityID, err := strconv.ParseInt(strings.TrimSpace(c.Params("activityId")), 10, 64)
	if err != nil || activityID <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "activityId must be a positive integer")
	}
	return activityID, nil
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

// requestCorrelationID copies the id out of fasthttp's pooled buffers; it
// outlives the request in outcome tasks and downstream headers.
func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return utils.CopyString(value)
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return utils.CopyString(strings.TrimSpace(value))
	}
	return ""
}

func toStatusesResponse(view *service.StatusesView) statusesResponse {
	statuses := make([]statusOptionResponse, 0, len(view.Statuses))
	for _, s := range view.Statuses {
		statuses = append(statuses, statusOptionResponse{StatusID: int(s.ID), StatusName: s.Name})
	}
	return statusesResponse{
		ActivityID:    view.ActivityID,
		Statuses:      statuses,
		ReturnApplies: view.ReturnApplies,
		WindowEnd:     view.WindowEnd,
	}
}

func toIssuanceResponse(view service.IssuanceView) issuanceResponse {
	return issuanceResponse{
		IssuanceID: view.IssuanceID,
		ActivityID: view.ActivityID,
		TryCount:   view.TryCount,
		IssuedAt:   view.IssuedAt,
	}
}

func toDispatchResponse(view *service.DispatchView) *dispatchResponse {
	if view == nil {
		return nil
	}

	channels := make(map[string]channelResultResponse, len(domain.Channels))
	for _, result := range view.Report.Results() {
		code := ""
		if result.Code != "" && result.Code != domain.ResultOK {
			code = result.Code.String()
		}
		channels[result.Channel.String()] = channelResultResponse{
			Status:   result.Status.String(),
			Tier:     result.Tier.String(),
			Attempts: result.Attempts,
			Code:     code,
			Detail:   result.Detail,
		}
	}
	return &dispatchResponse{
		Issuance: toIssuanceResponse(view.Issuance),
		Channels: channels,
	}
}

func toHistoryResponse(view *service.HistoryView) historyResponse {
	attempts := make([]attemptResponse, 0, len(view.Attempts))
	for _, a := range view.Attempts {
		resp := attemptResponse{
			AttemptID:  a.ID,
			Channel:    a.Channel.String(),
			TryCount:   a.TryCount,
			Succeeded:  a.Succeeded(),
			StatusCode: a.StatusCode,
			Error:      a.Error,
			CreatedAt:  a.CreatedAt,
		}
		if a.Tier != nil {
			resp.Tier = a.Tier.String()
		}
		attempts = append(attempts, resp)
	}
	return historyResponse{
		Issuance: toIssuanceResponse(view.Issuance),
		Resolved: view.Resolved,
		Outcome:  view.Outcome.String(),
		Attempts: attempts,
	}
}
