package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsFeedbackCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncChannelSend("SMS", "sent")
	metrics.IncChannelSend("email", "failed")
	metrics.ObserveChannelSendDuration("sms", 120*time.Millisecond)
	metrics.ObserveRateLimitWait("sms:gcc", 5*time.Millisecond)
	metrics.IncCodesIssued("reissue")
	metrics.IncFeedbackRound("resend", false)
	metrics.IncFeedbackRound("activity_update", true)
	metrics.IncVerification("CODE_MISMATCH")
	metrics.IncTemplateCache("hit")
	metrics.IncOutcomeTask("escalation", "")
	metrics.IncWorkerInFlight("escalation")
	metrics.DecWorkerInFlight("escalation")

	counters := []struct {
		name string
		got  float64
	}{
		{"channel_sends_total{sms,sent}", testutil.ToFloat64(metrics.channelSends.WithLabelValues("sms", "sent"))},
		{"channel_sends_total{email,failed}", testutil.ToFloat64(metrics.channelSends.WithLabelValues("email", "failed"))},
		{"codes_issued_total{reissue}", testutil.ToFloat64(metrics.codesIssued.WithLabelValues("reissue"))},
		{"feedback_rounds_total{resend,false}", testutil.ToFloat64(metrics.feedbackRounds.WithLabelValues("resend", "false"))},
		{"feedback_rounds_total{activity_update,true}", testutil.ToFloat64(metrics.feedbackRounds.WithLabelValues("activity_update", "true"))},
		{"verifications_total{code_mismatch}", testutil.ToFloat64(metrics.verifications.WithLabelValues("code_mismatch"))},
		{"template_cache_requests_total{hit}", testutil.ToFloat64(metrics.templateCache.WithLabelValues("hit"))},
		{"outcome_tasks_total{escalation,unknown}", testutil.ToFloat64(metrics.outcomeTasks.WithLabelValues("escalation", "unknown"))},
	}
	for _, c := range counters {
		if c.got != 1 {
			t.Errorf("%s = %v, want 1", c.name, c.got)
		}
	}

	if got := testutil.ToFloat64(metrics.outcomeInFlight.WithLabelValues("escalation")); got != 0 {
		t.Fatalf("outcome_tasks_inflight = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(metrics.rateLimitWait); got != 1 {
		t.Fatalf("rate_limit_wait_seconds series = %d, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncChannelSend("sms", "sent")
	metrics.ObserveRateLimitWait("email", time.Second)
	metrics.IncCodesIssued("issue")
	metrics.IncFeedbackRound("resend", true)
	metrics.IncVerification("ok")
	metrics.IncTemplateCache("miss")
	metrics.ObserveChannelSendDuration("sms", time.Second)
	if metrics.Handler() == nil {
		t.Fatal("nil metrics should still expose a handler")
	}
}

func TestMetricsHTTPMiddleware(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/v1/activities/:activityId/statuses", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/v1/activities/:activityId/feedback-codes/verify", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "code is required")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for _, req := range []struct{ method, target string }{
		{"GET", "/v1/activities/1/statuses"},
		{"GET", "/v1/activities/2/statuses"},
		{"POST", "/v1/activities/3/feedback-codes/verify"},
		{"GET", "/boom"},
		{"GET", "/livez"},
	} {
		if _, err := app.Test(httptest.NewRequest(req.method, req.target, nil)); err != nil {
			t.Fatalf("app.Test(%s %s) error = %v", req.method, req.target, err)
		}
	}

	tests := []struct {
		method, path, status string
		want                 float64
	}{
		{"GET", "/v1/activities/:activityId/statuses", "200", 2},
		{"POST", "/v1/activities/:activityId/feedback-codes/verify", "400", 1},
		{"GET", "/boom", "500", 1},
		{"GET", "/livez", "200", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(tt.method, tt.path, tt.status))
		if got != tt.want {
			t.Errorf("http_requests_total{%s,%s,%s} = %v, want %v", tt.method, tt.path, tt.status, got, tt.want)
		}
	}
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.IncCodesIssued("issue")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `feedback_engine_codes_issued_total{kind="issue"} 1`) {
		t.Fatalf("metrics output missing codes_issued_total:\n%s", body)
	}
}
