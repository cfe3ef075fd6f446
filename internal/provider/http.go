package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	userAgent          = "feedback-engine"
	maxErrorBody       = 512
)

// Response headers a gateway may use to identify the accepted message.
var messageIDHeaders = []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"}

// NewHTTPClient builds the resty client shared by the SMS, push and
// notification-center senders. It never retries; the escalator owns retries.
// Each request carries the caller's correlation id and trace context.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent)
	client.OnBeforeRequest(propagateContext)
	return client
}

func propagateContext(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.SetHeader("X-Request-ID", correlationID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return nil
}

func requireClient(client *resty.Client) (*resty.Client, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	return client, nil
}

// classifyResponse turns a resty round trip into a ProviderResponse, or a
// ProviderError for transport failures and non-2xx replies.
func classifyResponse(providerName string, resp *resty.Response, err error) (*ProviderResponse, error) {
	switch {
	case err != nil:
		return nil, sendFailure(providerName, "provider request failed", err)
	case resp == nil:
		return nil, &ProviderError{Provider: providerName, Message: "provider returned empty response", Transient: true}
	}

	status := resp.StatusCode()
	body := strings.TrimSpace(resp.String())
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, statusFailure(providerName, status, statusMessage(status, body))
	}

	return &ProviderResponse{
		StatusCode: status,
		Body:       body,
		MessageID:  messageID(resp.Header()),
	}, nil
}

func statusMessage(status int, body string) string {
	if body == "" {
		return fmt.Sprintf("provider returned status %d", status)
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("provider returned status %d: %s", status, body)
}

func messageID(header http.Header) string {
	for _, key := range messageIDHeaders {
		if value := strings.TrimSpace(header.Get(key)); value != "" {
			return value
		}
	}
	return ""
}
