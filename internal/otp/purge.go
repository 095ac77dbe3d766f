package otp

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/otp/repository"
)

// Purger deletes expired OTP records on a schedule. Validation never depends on it.
type Purger struct {
	store   repository.Store
	log     logrus.FieldLogger
	now     func() time.Time
	timeout time.Duration
}

// NewPurger returns a Purger over store.
func NewPurger(store repository.Store, log logrus.FieldLogger) *Purger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Purger{
		store:   store,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 30 * time.Second,
	}
}

// RunOnce removes every record that expired before now.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	n, err := p.store.PurgeExpired(ctx, p.now())
	if err != nil {
		p.log.WithError(err).Error("otp purge failed")
		return 0, err
	}
	if n > 0 {
		p.log.WithField("purged", n).Info("expired otp records purged")
	}
	return n, nil
}

// Schedule registers RunOnce on c with the given cron spec (e.g. "@every 15m").
func (p *Purger) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		_, _ = p.RunOnce(context.Background())
	})
}
