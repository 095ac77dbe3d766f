package repository

import (
	"context"
	"sync"
	"time"

	"message-feed/backend/internal/otp/domain"
)

// MemoryStore is an in-process Store. Each identity's records live in their own
// bucket with its own mutex, so Replace and Consume for one identity never wait
// on another identity. The store-level lock only guards the bucket map and the
// record index and is never held while a bucket is being modified, except by
// Replace and PurgeExpired which take it after the bucket lock.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*identityBucket
	index   map[string]string // record ID -> identity ID
}

type identityBucket struct {
	mu         sync.Mutex
	identityID string
	records    map[string]*domain.Record
	removed    bool
}

// NewMemoryStore returns an empty in-memory OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*identityBucket),
		index:   make(map[string]string),
	}
}

// bucket returns the identity's bucket locked, creating it when create is set.
// It returns nil when the identity has no bucket and create is false.
func (s *MemoryStore) bucket(identityID string, create bool) *identityBucket {
	for {
		s.mu.Lock()
		b := s.buckets[identityID]
		if b == nil {
			if !create {
				s.mu.Unlock()
				return nil
			}
			b = &identityBucket{identityID: identityID, records: make(map[string]*domain.Record)}
			s.buckets[identityID] = b
		}
		s.mu.Unlock()

		b.mu.Lock()
		if !b.removed {
			return b
		}
		// Purged between lookup and lock; a fresh bucket replaces it.
		b.mu.Unlock()
	}
}

func (s *MemoryStore) identityOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identityID, ok := s.index[id]
	return identityID, ok
}

// locked returns the record for id with its bucket locked, or nil, nil.
func (s *MemoryStore) locked(id string) (*identityBucket, *domain.Record) {
	identityID, ok := s.identityOf(id)
	if !ok {
		return nil, nil
	}
	b := s.bucket(identityID, false)
	if b == nil {
		return nil, nil
	}
	r := b.records[id]
	if r == nil {
		b.mu.Unlock()
		return nil, nil
	}
	return b, r
}

// Replace supersedes the identity's unconsumed records and stores rec.
func (s *MemoryStore) Replace(ctx context.Context, rec *domain.Record) error {
	b := s.bucket(rec.IdentityID, true)
	defer b.mu.Unlock()

	for _, r := range b.records {
		if !r.Consumed {
			r.Superseded = true
		}
	}
	b.records[rec.ID] = rec.Clone()

	s.mu.Lock()
	s.index[rec.ID] = rec.IdentityID
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the record for id, or nil if not found.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	b, r := s.locked(id)
	if b == nil {
		return nil, nil
	}
	defer b.mu.Unlock()
	return r.Clone(), nil
}

// Consume marks id consumed iff it is neither consumed nor superseded.
func (s *MemoryStore) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	b, r := s.locked(id)
	if b == nil {
		return false, nil
	}
	defer b.mu.Unlock()
	if r.Consumed || r.Superseded {
		return false, nil
	}
	r.Consumed = true
	t := at
	r.ConsumedAt = &t
	return true, nil
}

// RecordFailure counts a wrong code against id and supersedes it at limit.
func (s *MemoryStore) RecordFailure(ctx context.Context, id string, limit int) (int, error) {
	b, r := s.locked(id)
	if b == nil {
		return 0, nil
	}
	defer b.mu.Unlock()
	if r.Consumed || r.Superseded {
		return 0, nil
	}
	r.FailedAttempts++
	if r.FailedAttempts >= limit {
		r.Superseded = true
	}
	return r.FailedAttempts, nil
}

// PurgeExpired removes records whose ExpiresAt is before the given time.
// Buckets left empty are dropped.
func (s *MemoryStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.RLock()
	buckets := make([]*identityBucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.mu.RUnlock()

	var n int64
	for _, b := range buckets {
		n += s.purgeBucket(b, before)
	}
	return n, nil
}

func (s *MemoryStore) purgeBucket(b *identityBucket, before time.Time) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed {
		return 0
	}
	var expired []string
	for id, r := range b.records {
		if r.ExpiresAt.Before(before) {
			expired = append(expired, id)
			delete(b.records, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range expired {
		delete(s.index, id)
	}
	if len(b.records) == 0 {
		b.removed = true
		if s.buckets[b.identityID] == b {
			delete(s.buckets, b.identityID)
		}
	}
	return int64(len(expired))
}
