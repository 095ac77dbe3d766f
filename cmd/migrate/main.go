// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/config"
	"message-feed/backend/internal/db/migrate"
	"message-feed/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	status := flag.Bool("status", false, "Print the applied schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if *status {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("schema version")
		return
	}

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		log.Fatal(err)
	}
	if err := migrate.Run(cfg.DatabaseURL, dir); err != nil {
		log.Fatalf("migrate %s: %v", dir, err)
	}
	log.WithField("direction", dir).Info("migrations applied")
}
