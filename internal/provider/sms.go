package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

var _ SMSSender = (*GatewaySMSSender)(nil)

// GatewaySMSSender calls URL-templated SMS gateways with a GET request.
type GatewaySMSSender struct {
	client *resty.Client
}

func NewGatewaySMSSender(client *resty.Client) (*GatewaySMSSender, error) {
	c, err := requireClient(client)
	if err != nil {
		return nil, err
	}
	return &GatewaySMSSender{client: c}, nil
}

func (s *GatewaySMSSender) SendSMS(ctx context.Context, endpoint string) (*ProviderResponse, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sms sender is not initialized")
	}

	target := strings.TrimSpace(endpoint)
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, &ProviderError{Provider: "sms", Message: "invalid gateway url", Cause: err}
	}

	response, err := s.client.R().
		SetContext(ctx).
		Get(target)
	return classifyResponse("sms", response, err)
}
