package otp

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"message-feed/backend/internal/logging"
	"message-feed/backend/internal/otp/domain"
	"message-feed/backend/internal/otp/repository"
)

func TestPurger_RunOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Replace(ctx, &domain.Record{ID: "old", IdentityID: "u1", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-50 * time.Minute)})
	_ = store.Replace(ctx, &domain.Record{ID: "new", IdentityID: "u2", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)})

	p := NewPurger(store, logging.Discard())
	p.now = func() time.Time { return now }
	n, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if r, _ := store.Get(ctx, "new"); r == nil {
		t.Error("unexpired record was purged")
	}
}

func TestPurger_Schedule(t *testing.T) {
	p := NewPurger(repository.NewMemoryStore(), logging.Discard())
	c := cron.New()
	if _, err := p.Schedule(c, "@every 15m"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(c.Entries()))
	}
	if _, err := p.Schedule(c, "not a schedule"); err == nil {
		t.Error("Schedule with bad spec should fail")
	}
}
