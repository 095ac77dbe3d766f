// server runs the message feed HTTP API and the gRPC health service.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	adminhandler "message-feed/backend/internal/admin/handler"
	"message-feed/backend/internal/audit"
	auditrepo "message-feed/backend/internal/audit/repository"
	"message-feed/backend/internal/authz"
	"message-feed/backend/internal/config"
	"message-feed/backend/internal/db"
	"message-feed/backend/internal/devotp"
	devotphandler "message-feed/backend/internal/devotp/handler"
	"message-feed/backend/internal/health"
	healthhandler "message-feed/backend/internal/health/handler"
	identityhandler "message-feed/backend/internal/identity/handler"
	identityrepo "message-feed/backend/internal/identity/repository"
	identityservice "message-feed/backend/internal/identity/service"
	"message-feed/backend/internal/logging"
	messagehandler "message-feed/backend/internal/message/handler"
	messagerepo "message-feed/backend/internal/message/repository"
	messageservice "message-feed/backend/internal/message/service"
	"message-feed/backend/internal/metrics"
	"message-feed/backend/internal/otp"
	"message-feed/backend/internal/otp/email"
	"message-feed/backend/internal/security"
	"message-feed/backend/internal/server"
	"message-feed/backend/internal/server/middleware"
	feedotel "message-feed/backend/internal/telemetry/otel"
)

const (
	healthSchedule  = "@every 10s"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := feedotel.NewProviders(ctx, feedotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: "message-feed",
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	if cfg.OTLPEndpoint != "" {
		log.AddHook(feedotel.NewLogHook(providers.LoggerProvider, log.GetLevel()))
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer conn.Close()

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("signing keys: %v", err)
	}
	tokens, err := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL())
	if err != nil {
		log.Fatalf("token provider: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	identities := identityrepo.NewPostgresRepository(conn)
	messages := messagerepo.NewPostgresRepository(conn)
	auditRepo := auditrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(auditRepo, middleware.ClientIPFromContext, log)

	otpStore, closeStore, err := newOTPStore(ctx, cfg, conn)
	if err != nil {
		log.Fatalf("otp store: %v", err)
	}
	defer closeStore()

	otpOpts := []otp.Option{
		otp.WithCodeLength(cfg.OTPCodeLength),
		otp.WithWindow(cfg.OTPWindow()),
		otp.WithMaxAttempts(cfg.OTPMaxAttempts),
		otp.WithLogger(log),
		otp.WithMetrics(collector),
	}
	var (
		sender     otp.Sender
		devHandler *devotphandler.Handler
	)
	switch {
	case cfg.OTPReturnToClient:
		store := devotp.NewMemoryStore()
		sender = devotp.NewSender(store, nil)
		devHandler = devotphandler.NewHandler(store)
		// The code must be readable from /dev/otp as soon as the request returns.
		otpOpts = append(otpOpts, otp.WithSyncDelivery())
		log.Warn("dev OTP mode enabled: codes are served from GET /dev/otp and never emailed")
	case cfg.EmailAPIURL != "":
		sender = email.NewHTTPClient(cfg.EmailAPIKey, cfg.EmailAPIURL, cfg.EmailFrom)
	default:
		log.Fatal("EMAIL_API_URL must be set unless OTP_RETURN_TO_CLIENT=true")
	}

	otpManager := otp.NewManager(identities, otpStore, sender, otpOpts...)

	engine, err := authz.NewEngine(ctx, identities, messages,
		authz.WithLogger(log),
		authz.WithMetrics(collector),
	)
	if err != nil {
		log.Fatalf("authz: %v", err)
	}

	authSvc := identityservice.NewAuthService(identities, security.NewHasher(cfg.BcryptCost), tokens, otpManager,
		identityservice.WithRecoveryTTL(cfg.RecoveryTTL()),
		identityservice.WithAudit(auditLogger),
		identityservice.WithLogger(log),
		identityservice.WithMetrics(collector),
	)
	feed := messageservice.NewService(messages, engine, auditLogger)

	checker := health.NewChecker(conn, engine, log)
	checker.Refresh(ctx)

	scheduler := cron.New()
	if _, err := checker.Schedule(scheduler, healthSchedule); err != nil {
		log.Fatalf("schedule health refresh: %v", err)
	}
	if _, err := otp.NewPurger(otpStore, log).Schedule(scheduler, cfg.OTPPurgeSchedule); err != nil {
		log.Fatalf("schedule otp purge: %v", err)
	}
	scheduler.Start()

	limiter, err := middleware.NewRateLimiter(cfg.RecoveryRatePerMinute, middleware.DefaultLimiterKeys, collector)
	if err != nil {
		log.Fatalf("rate limiter: %v", err)
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Log:             log,
			Tokens:          tokens,
			Auth:            identityhandler.NewHandler(authSvc),
			Messages:        messagehandler.NewHandler(feed),
			Health:          healthhandler.NewHandler(checker),
			Metrics:         collector,
			Gatherer:        reg,
			RecoveryLimiter: limiter,
			Admin:           adminhandler.NewHandler(auditRepo),
			Authorizer:      engine,
			DevOTP:          devHandler,
			TrustProxy:      cfg.TrustProxyHeaders,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = server.NewGRPCServer(log, checker.Server())
		go func() {
			log.WithField("addr", cfg.GRPCAddr).Info("grpc health server listening")
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	shutdown(log, httpSrv, grpcSrv, scheduler, checker, otpManager, providers)
}

func shutdown(log *logrus.Logger, httpSrv *http.Server, grpcSrv *grpc.Server, scheduler *cron.Cron, checker *health.Checker, otpManager *otp.Manager, providers *feedotel.Providers) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	checker.Shutdown()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	<-scheduler.Stop().Done()
	otpManager.Wait()
	if err := providers.Shutdown(ctx); err != nil {
		log.WithError(err).Error("telemetry shutdown")
	}
	log.Info("stopped")
}
