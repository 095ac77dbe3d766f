// Package metrics exposes Prometheus metrics for the API and the auth flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records every metric the service exports.
type Collector struct {
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	loginAttempts     *prometheus.CounterVec
	tokenRejections   *prometheus.CounterVec
	otpRequests       prometheus.Counter
	otpValidations    *prometheus.CounterVec
	otpDeliveryFailed prometheus.Counter
	authzDecisions    *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feed_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_token_rejections_total",
			Help: "Bearer tokens rejected by reason.",
		}, []string{"reason"}),
		otpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_otp_requests_total",
			Help: "One-time codes issued.",
		}),
		otpValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_otp_validations_total",
			Help: "One-time code redemptions by outcome.",
		}, []string{"outcome"}),
		otpDeliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_otp_delivery_failures_total",
			Help: "One-time codes the sender failed to deliver.",
		}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_authz_decisions_total",
			Help: "Authorization decisions by action and result.",
		}, []string{"action", "decision"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.loginAttempts,
		c.tokenRejections,
		c.otpRequests,
		c.otpValidations,
		c.otpDeliveryFailed,
		c.authzDecisions,
		c.rateLimited,
	)
	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// LoginAttempt records a login outcome ("success", "invalid_credential", "error").
func (c *Collector) LoginAttempt(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

// TokenRejected records a bearer token that failed validation.
func (c *Collector) TokenRejected(reason string) {
	c.tokenRejections.WithLabelValues(reason).Inc()
}

// OTPRequested records an issued code.
func (c *Collector) OTPRequested() {
	c.otpRequests.Inc()
}

// OTPValidated records a redemption outcome.
func (c *Collector) OTPValidated(outcome string) {
	c.otpValidations.WithLabelValues(outcome).Inc()
}

// OTPDeliveryFailed records a failed hand-off to the sender.
func (c *Collector) OTPDeliveryFailed() {
	c.otpDeliveryFailed.Inc()
}

// AuthzDecision records an authorization result ("allow", "deny", "not_found", "unknown_identity", "error").
func (c *Collector) AuthzDecision(action, decision string) {
	c.authzDecisions.WithLabelValues(action, decision).Inc()
}

// RateLimited records a rejected request.
func (c *Collector) RateLimited(route string) {
	c.rateLimited.WithLabelValues(route).Inc()
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
