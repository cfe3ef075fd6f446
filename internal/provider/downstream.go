package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

const outcomeNotificationPath = "NotificationCenter/HappyandUnhappyNotification"

var _ OutcomeNotifier = (*NotificationCenterClient)(nil)

type outcomeNotificationRequest struct {
	LeadActivityID int64  `json:"leadActivityId"`
	Outcome        string `json:"outcome"`
}

// NotificationCenterClient tells the mobile notification center that a code was resolved.
type NotificationCenterClient struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewNotificationCenterClient(client *resty.Client, baseURL, apiKey string) (*NotificationCenterClient, error) {
	c, err := requireClient(client)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return nil, fmt.Errorf("notification center url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid notification center url: %w", err)
	}

	return &NotificationCenterClient{
		client:   c,
		endpoint: strings.TrimRight(base, "/") + "/" + outcomeNotificationPath,
		apiKey:   apiKey,
	}, nil
}

func (c *NotificationCenterClient) NotifyOutcome(ctx context.Context, activityID int64, outcome domain.Outcome) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("notification center client is not initialized")
	}

	response, reqErr := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("api_key", c.apiKey).
		SetBody(outcomeNotificationRequest{
			LeadActivityID: activityID,
			Outcome:        outcome.String(),
		}).
		Post(c.endpoint)
	_, err := classifyResponse("notification-center", response, reqErr)
	return err
}
