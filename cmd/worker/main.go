// worker purges expired OTP records from Postgres on a schedule, for deployments that
// run the API with OTP_STORE=postgres and prefer to keep the purge out of the API process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/config"
	"message-feed/backend/internal/db"
	"message-feed/backend/internal/logging"
	"message-feed/backend/internal/otp"
	otprepo "message-feed/backend/internal/otp/repository"
)

func main() {
	runOnce := flag.Bool("run-once", false, "Purge once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	purger := otp.NewPurger(otprepo.NewPostgresStore(conn), log)

	if *runOnce {
		n, err := purger.RunOnce(ctx)
		if err != nil {
			log.Fatalf("purge: %v", err)
		}
		log.WithField("purged", n).Info("purge completed")
		return
	}

	c := cron.New()
	if _, err := purger.Schedule(c, cfg.OTPPurgeSchedule); err != nil {
		log.Fatalf("schedule purge: %v", err)
	}
	c.Start()
	log.WithField("schedule", cfg.OTPPurgeSchedule).Info("worker started")

	<-ctx.Done()
	log.Info("worker shutting down")
	<-c.Stop().Done()
	log.Info("worker stopped")
}
