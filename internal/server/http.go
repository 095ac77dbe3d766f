// Package server assembles the HTTP API router and the gRPC health server.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	adminhandler "message-feed/backend/internal/admin/handler"
	"message-feed/backend/internal/authz"
	devotphandler "message-feed/backend/internal/devotp/handler"
	healthhandler "message-feed/backend/internal/health/handler"
	identityhandler "message-feed/backend/internal/identity/handler"
	messagehandler "message-feed/backend/internal/message/handler"
	"message-feed/backend/internal/metrics"
	"message-feed/backend/internal/platform/rbac"
	"message-feed/backend/internal/security"
	"message-feed/backend/internal/server/middleware"
)

// Deps holds what the router wires together. Auth, Messages, Health and Tokens are required.
type Deps struct {
	Log      logrus.FieldLogger
	Tokens   middleware.TokenValidator
	Auth     *identityhandler.Handler
	Messages *messagehandler.Handler
	Health   *healthhandler.Handler
	// Metrics records HTTP, token and rate-limit metrics. Nil disables recording.
	Metrics *metrics.Collector
	// Gatherer serves /metrics. Nil leaves /metrics unmounted.
	Gatherer prometheus.Gatherer
	// RecoveryLimiter guards /v1/recovery by client IP. Nil disables limiting.
	RecoveryLimiter *middleware.RateLimiter
	// Admin serves /v1/admin behind Authorizer. Both must be set to mount it.
	Admin      *adminhandler.Handler
	Authorizer rbac.Authorizer
	// DevOTP serves GET /dev/otp. Set only in dev OTP mode.
	DevOTP *devotphandler.Handler
	// TrustProxy rewrites the client address from X-Forwarded-For / X-Real-IP.
	// Set it only behind a proxy that overwrites those headers.
	TrustProxy bool
	// Now is the clock used for token validation; defaults to time.Now.
	Now func() time.Time
}

// NewRouter returns the API handler.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	var (
		httpMetrics  middleware.HTTPMetrics
		tokenMetrics middleware.TokenMetrics
	)
	if d.Metrics != nil {
		httpMetrics = d.Metrics
		tokenMetrics = d.Metrics
	}
	access := middleware.Authenticate(d.Tokens, d.Now, tokenMetrics)
	accessOrRecovery := middleware.Authenticate(d.Tokens, d.Now, tokenMetrics, security.PurposeAccess, security.PurposeRecovery)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if d.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.StoreClientIP)
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestLogger(log, httpMetrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", d.Health.Live)
	r.Get("/readyz", d.Health.Ready)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", d.Auth.Register)
		r.Post("/login", d.Auth.Login)
		r.With(access).Get("/me", d.Auth.Me)
		r.With(accessOrRecovery).Post("/password", d.Auth.ChangePassword)
	})

	r.Route("/v1/recovery", func(r chi.Router) {
		if d.RecoveryLimiter != nil {
			r.Use(d.RecoveryLimiter.ByClientIP("/v1/recovery"))
		}
		r.Post("/", d.Auth.RequestRecovery)
		r.Post("/reset", d.Auth.ResetPassword)
		r.Post("/session", d.Auth.RecoverSession)
	})

	r.Route("/v1/messages", func(r chi.Router) {
		r.Use(access)
		d.Messages.Routes(r)
	})

	if d.Admin != nil && d.Authorizer != nil {
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(access, rbac.Require(d.Authorizer, authz.ReadAudit))
			r.Get("/audit", d.Admin.ListAudit)
		})
	}

	if d.DevOTP != nil {
		r.Get("/dev/otp", d.DevOTP.GetOTP)
	}
	return r
}
