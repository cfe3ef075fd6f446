package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

var _ PushSender = (*WebPushSender)(nil)

type webPushRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
	UserID  string `json:"userId"`
}

// WebPushSender posts push notifications to the web-push API.
type WebPushSender struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewWebPushSender(client *resty.Client, endpoint, apiKey string) (*WebPushSender, error) {
	c, err := requireClient(client)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("push endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid push endpoint: %w", err)
	}

	return &WebPushSender{client: c, endpoint: trimmed, apiKey: apiKey}, nil
}

func (s *WebPushSender) SendPush(ctx context.Context, msg PushMessage) (*ProviderResponse, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("push sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid push message: %w", err)
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webPushRequest{
			Title:   msg.Title,
			Message: msg.Message,
			URL:     msg.URL,
			UserID:  msg.UserID,
		})
	if s.apiKey != "" {
		req.SetHeader("api_key", s.apiKey)
	}

	response, err := req.Post(s.endpoint)
	return classifyResponse("push", response, err)
}
