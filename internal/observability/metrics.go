package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "feedback_engine"

// Probe and scrape routes are left out of the HTTP request series.
var unmeteredPaths = map[string]struct{}{
	"/metrics": {},
	"/livez":   {},
	"/readyz":  {},
}

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	channelSends    *prometheus.CounterVec
	channelLatency  *prometheus.HistogramVec
	rateLimitWait   *prometheus.HistogramVec
	codesIssued     *prometheus.CounterVec
	feedbackRounds  *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	templateCache   *prometheus.CounterVec
	outcomeTasks    *prometheus.CounterVec
	outcomeInFlight *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: counterVec("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpLatency: histogramVec("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets, "method", "path"),
		channelSends: counterVec("channel_sends_total",
			"Code deliveries by channel and status (sent, failed, skipped).", "channel", "status"),
		channelLatency: histogramVec("channel_send_duration_seconds",
			"Time spent delivering over one channel.", prometheus.ExponentialBuckets(0.01, 2, 12), "channel"),
		rateLimitWait: histogramVec("rate_limit_wait_seconds",
			"Time a send waited for its gateway budget.", prometheus.ExponentialBuckets(0.001, 4, 8), "gateway"),
		codesIssued: counterVec("codes_issued_total",
			"Code pairs generated, split into issue and reissue.", "kind"),
		feedbackRounds: counterVec("feedback_rounds_total",
			"Issue-then-dispatch rounds by trigger and whether any channel delivered.", "trigger", "delivered"),
		verifications: counterVec("verifications_total",
			"Code verifications by result code.", "result"),
		templateCache: counterVec("template_cache_requests_total",
			"Template cache lookups by result (hit, miss, error).", "result"),
		outcomeTasks: counterVec("outcome_tasks_total",
			"Post-verification tasks by kind and status.", "task", "status"),
		outcomeInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outcome_tasks_inflight",
			Help:      "Outcome tasks currently being handled, by kind.",
		}, []string{"task"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpLatency,
		m.channelSends,
		m.channelLatency,
		m.rateLimitWait,
		m.codesIssued,
		m.feedbackRounds,
		m.verifications,
		m.templateCache,
		m.outcomeTasks,
		m.outcomeInFlight,
	)

	return m
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records request counts and latency labelled by route
// template, so /v1/activities/:activityId stays one series.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if _, skip := unmeteredPaths[path]; skip || m == nil {
			return err
		}

		method := strings.ToUpper(c.Method())
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(responseStatus(c, err))).Inc()
		m.httpLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) IncChannelSend(channel string, status string) {
	if m == nil {
		return
	}
	m.channelSends.WithLabelValues(label(channel), label(status)).Inc()
}

func (m *Metrics) ObserveChannelSendDuration(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.channelLatency.WithLabelValues(label(channel)).Observe(seconds(d))
}

// ObserveRateLimitWait records how long a send queued on gateway's budget.
func (m *Metrics) ObserveRateLimitWait(gateway string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.WithLabelValues(label(gateway)).Observe(seconds(d))
}

// IncCodesIssued counts a generated pair; kind is "issue" or "reissue".
func (m *Metrics) IncCodesIssued(kind string) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) IncFeedbackRound(trigger string, delivered bool) {
	if m == nil {
		return
	}
	m.feedbackRounds.WithLabelValues(label(trigger), strconv.FormatBool(delivered)).Inc()
}

func (m *Metrics) IncVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(label(result)).Inc()
}

// IncTemplateCache counts a cache lookup; result is "hit", "miss" or "error".
func (m *Metrics) IncTemplateCache(result string) {
	if m == nil {
		return
	}
	m.templateCache.WithLabelValues(label(result)).Inc()
}

func (m *Metrics) IncOutcomeTask(task string, status string) {
	if m == nil {
		return
	}
	m.outcomeTasks.WithLabelValues(label(task), label(status)).Inc()
}

func (m *Metrics) IncWorkerInFlight(task string) {
	if m == nil {
		return
	}
	m.outcomeInFlight.WithLabelValues(label(task)).Inc()
}

func (m *Metrics) DecWorkerInFlight(task string) {
	if m == nil {
		return
	}
	m.outcomeInFlight.WithLabelValues(label(task)).Dec()
}

func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && strings.TrimSpace(route.Path) != "" {
		return route.Path
	}
	return "unmatched"
}

// responseStatus resolves the status the error handler will write when the
// handler returned an error.
func responseStatus(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func label(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
