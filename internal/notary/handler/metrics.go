package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/challenge"
	"github.com/jmerrifield20/starregistry/internal/notary/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starregistry_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starregistry_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starregistry_submissions_total",
		Help: "Total star submissions by result.",
	}, []string{"result"})

	blocksAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starregistry_blocks_appended_total",
		Help: "Total star blocks appended to the ledger.",
	})

	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starregistry_chain_height",
		Help: "Height of the most recently appended block.",
	})

	auditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starregistry_audit_failures_total",
		Help: "Post-append chain audits that reported at least one integrity error.",
	})

	ledgerChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starregistry_ledger_checks_total",
		Help: "Periodic full-chain integrity checks by result.",
	}, []string{"result"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starregistry_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by scope (ip or address).",
	}, []string{"scope"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starregistry_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"success"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveAudit records the outcome of a post-append chain audit.
// It has the signature of service.AuditObserver.
func ObserveAudit(height int, errs []chain.ValidationError) {
	blocksAppendedTotal.Inc()
	chainHeight.Set(float64(height))
	if len(errs) > 0 {
		auditFailuresTotal.Inc()
	}
}

// RecordLedgerCheck counts a periodic integrity check.
// It has the signature of health.MetricsRecordFunc.
func RecordLedgerCheck(success bool) {
	result := "ok"
	if !success {
		result = "failed"
	}
	ledgerChecksTotal.WithLabelValues(result).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	webhookDeliveriesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetChainHeight sets the chain height gauge, e.g. after initialisation.
func SetChainHeight(height int) {
	chainHeight.Set(float64(height))
}

// recordSubmission counts a submission under a result label derived from err.
func recordSubmission(err error) {
	submissionsTotal.WithLabelValues(submissionResult(err)).Inc()
}

func submissionResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, service.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, service.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, service.ErrAddressMismatch):
		return "address_mismatch"
	case errors.Is(err, challenge.ErrMalformed):
		return "malformed_challenge"
	case errors.Is(err, service.ErrInvalidStar):
		return "invalid_star"
	default:
		return "error"
	}
}
