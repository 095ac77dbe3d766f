// seed inserts an admin, a standard user and a few messages for local testing.
// Idempotent: skips everything if the admin handle already exists.
package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/config"
	"message-feed/backend/internal/db"
	identitydomain "message-feed/backend/internal/identity/domain"
	identityrepo "message-feed/backend/internal/identity/repository"
	"message-feed/backend/internal/logging"
	messagedomain "message-feed/backend/internal/message/domain"
	messagerepo "message-feed/backend/internal/message/repository"
	"message-feed/backend/internal/role"
	"message-feed/backend/internal/security"
)

const (
	adminHandle = "admin"
	userHandle  = "alice"
	devPassword = "Feed-Dev-Passw0rd!"
)

var sampleMessages = []string{
	"Welcome to the feed.",
	"Messages are listed newest first.",
	"Only the author or an admin can delete a message.",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	identities := identityrepo.NewPostgresRepository(conn)
	messages := messagerepo.NewPostgresRepository(conn)

	existing, err := identities.GetByHandle(ctx, adminHandle)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Info("seed already applied, skipping")
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	admin := &identitydomain.Identity{
		ID:           uuid.New().String(),
		Handle:       adminHandle,
		Email:        "admin@feed.local",
		PasswordHash: hash,
		Roles:        []role.Name{role.User, role.Admin},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	user := &identitydomain.Identity{
		ID:           uuid.New().String(),
		Handle:       userHandle,
		Email:        "alice@feed.local",
		PasswordHash: hash,
		Roles:        []role.Name{role.User},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, i := range []*identitydomain.Identity{admin, user} {
		if err := identities.Create(ctx, i); err != nil {
			log.Fatalf("create %s: %v", i.Handle, err)
		}
	}

	for n, body := range sampleMessages {
		at := now.Add(time.Duration(n) * time.Second)
		m := &messagedomain.Message{
			ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
			OwnerID:   user.ID,
			Body:      body,
			CreatedAt: at,
		}
		if err := messages.Create(ctx, m); err != nil {
			log.Fatalf("create message: %v", err)
		}
	}

	log.WithFields(logrus.Fields{
		"admin":    adminHandle,
		"user":     userHandle,
		"messages": len(sampleMessages),
	}).Info("seed completed")
	log.Infof("both accounts use the development password %q", devPassword)
}
