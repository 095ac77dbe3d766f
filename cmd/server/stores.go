package main

import (
	"context"
	"database/sql"
	"fmt"

	"message-feed/backend/internal/config"
	otprepo "message-feed/backend/internal/otp/repository"
)

// newOTPStore builds the store selected by OTP_STORE. The returned func releases it.
func newOTPStore(ctx context.Context, cfg *config.Config, conn *sql.DB) (otprepo.Store, func(), error) {
	switch cfg.OTPStore {
	case config.OTPStorePostgres:
		return otprepo.NewPostgresStore(conn), func() {}, nil
	case config.OTPStoreRedis:
		client, err := otprepo.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return otprepo.NewRedisStore(client, 0), func() { _ = client.Close() }, nil
	case config.OTPStoreMemory:
		return otprepo.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown OTP_STORE %q", cfg.OTPStore)
	}
}
