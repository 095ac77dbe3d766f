// Package health tracks whether the process can serve traffic and publishes the result
// through the standard grpc.health.v1 service and an HTTP probe.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the grpc.health.v1 service name reported alongside the overall ("") status.
const ServiceName = "message-feed"

// DefaultCheckTimeout bounds each dependency probe.
const DefaultCheckTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is satisfied by the authorization engine.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker probes the database and the policy engine. Either may be nil, in which case it is skipped.
type Checker struct {
	db      Pinger
	policy  PolicyChecker
	log     logrus.FieldLogger
	timeout time.Duration
	srv     *grpchealth.Server
	serving atomic.Bool
	closed  atomic.Bool
}

// NewChecker returns a Checker whose gRPC status starts as NOT_SERVING until the first Refresh.
func NewChecker(db Pinger, policy PolicyChecker, log logrus.FieldLogger) *Checker {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	c := &Checker{
		db:      db,
		policy:  policy,
		log:     log.WithField("component", "health"),
		timeout: DefaultCheckTimeout,
		srv:     grpchealth.NewServer(),
	}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Check runs every configured probe and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	if c.db != nil {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.db.PingContext(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.policy != nil {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.policy.HealthCheck(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Refresh runs Check and publishes the outcome. Transitions are logged.
func (c *Checker) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	err := c.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	was := c.serving.Load()
	c.set(status)
	switch {
	case err != nil && was:
		c.log.WithError(err).Warn("health: not serving")
	case err == nil && !was:
		c.log.Info("health: serving")
	}
	return status
}

// Serving reports the result of the last Refresh.
func (c *Checker) Serving() bool {
	return c.serving.Load()
}

// Server returns the grpc.health.v1 implementation fed by Refresh.
func (c *Checker) Server() *grpchealth.Server {
	return c.srv
}

// Schedule registers Refresh on cr with the given cron spec.
func (c *Checker) Schedule(cr *cron.Cron, spec string) (cron.EntryID, error) {
	return cr.AddFunc(spec, func() { c.Refresh(context.Background()) })
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (c *Checker) Shutdown() {
	c.closed.Store(true)
	c.serving.Store(false)
	c.srv.Shutdown()
}

func (c *Checker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	if c.closed.Load() {
		return
	}
	c.serving.Store(status == healthpb.HealthCheckResponse_SERVING)
	c.srv.SetServingStatus("", status)
	c.srv.SetServingStatus(ServiceName, status)
}
