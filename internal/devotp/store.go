// Package devotp captures plain one-time codes by correlation ID so they can be read back
// over GET /dev/otp when no email service is configured. Never enabled in production.
package devotp

import (
	"context"
	"sync"
	"time"

	"message-feed/backend/internal/otp"
)

// Store holds plain codes by correlation ID for dev-only retrieval.
type Store interface {
	// Put stores code for correlationID until expiresAt.
	Put(ctx context.Context, correlationID, code string, expiresAt time.Time)
	// Get returns the code for correlationID if present and not expired.
	Get(ctx context.Context, correlationID string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store. Expired entries are dropped on Get and swept on Put.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for correlationID until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, correlationID, code string, expiresAt time.Time) {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
		}
	}
	s.m[correlationID] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for correlationID if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, correlationID string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[correlationID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, correlationID)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

// Len returns the number of held entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Sender is an otp.Sender that records each code in a Store and then, if set, forwards it.
type Sender struct {
	store Store
	next  otp.Sender
}

// NewSender returns a Sender writing to store. next may be nil.
func NewSender(store Store, next otp.Sender) *Sender {
	return &Sender{store: store, next: next}
}

// SendCode implements otp.Sender.
func (s *Sender) SendCode(ctx context.Context, d otp.Delivery) error {
	s.store.Put(ctx, d.CorrelationID, d.Code, d.ExpiresAt)
	if s.next != nil {
		return s.next.SendCode(ctx, d)
	}
	return nil
}

var _ otp.Sender = (*Sender)(nil)
