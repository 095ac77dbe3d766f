package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/logging"
	"message-feed/backend/internal/otp/domain"
	"message-feed/backend/internal/otp/repository"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeIdentities struct {
	byHandle map[string]*identitydomain.Identity
	err      error
}

func (f *fakeIdentities) GetByHandle(ctx context.Context, handle string) (*identitydomain.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byHandle[handle], nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []Delivery
	err  error
}

func (f *fakeSender) SendCode(ctx context.Context, d Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d)
	return f.err
}

func (f *fakeSender) last() Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeMetrics struct {
	mu        sync.Mutex
	requested int
	failed    int
	outcomes  map[string]int
}

func (f *fakeMetrics) OTPRequested() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested++
}

func (f *fakeMetrics) OTPDeliveryFailed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
}

func (f *fakeMetrics) OTPValidated(o string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]int)
	}
	f.outcomes[o]++
}

// blockingSender waits for release or its context and reports the context error on got.
type blockingSender struct {
	release chan struct{}
	got     chan error
}

func (b *blockingSender) SendCode(ctx context.Context, d Delivery) error {
	select {
	case <-b.release:
		b.got <- ctx.Err()
		return nil
	case <-ctx.Done():
		b.got <- ctx.Err()
		return ctx.Err()
	}
}

type failingStore struct {
	repository.Store
	err error
}

func (f failingStore) Replace(ctx context.Context, rec *domain.Record) error { return f.err }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeSender, *repository.MemoryStore) {
	t.Helper()
	ids := &fakeIdentities{byHandle: map[string]*identitydomain.Identity{
		"alice": {ID: "u1", Handle: "alice", Email: "alice@example.com"},
	}}
	sender := &fakeSender{}
	store := repository.NewMemoryStore()
	base := []Option{WithClock(func() time.Time { return start }), WithLogger(logging.Discard()), WithSyncDelivery()}
	return NewManager(ids, store, sender, append(base, opts...)...), sender, store
}

func TestManager_RequestUnknownHandle(t *testing.T) {
	m, sender, _ := newTestManager(t)
	_, err := m.Request(context.Background(), "mallory")
	if !errors.Is(err, autherr.ErrUnknownHandle) {
		t.Fatalf("want ErrUnknownHandle, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be delivered for unknown handle")
	}
}

func TestManager_RequestAndValidate(t *testing.T) {
	ctx := context.Background()
	m, sender, store := newTestManager(t)

	id, err := m.Request(ctx, "alice")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	d := sender.last()
	if d.CorrelationID != id || d.To != "alice@example.com" || len(d.Code) != DefaultCodeLength {
		t.Fatalf("unexpected delivery %+v", d)
	}
	stored, _ := store.Get(ctx, id)
	if stored.CodeHash == d.Code || stored.CodeHash != HashCode(d.Code) {
		t.Error("store must hold the code hash, not the code")
	}
	if !stored.ExpiresAt.Equal(start.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want start+10m", stored.ExpiresAt)
	}

	rec, err := m.Validate(ctx, id, d.Code, start.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.IdentityID != "u1" || !rec.Consumed {
		t.Errorf("unexpected record %+v", rec)
	}

	if _, err := m.Validate(ctx, id, d.Code, start.Add(6*time.Minute)); !errors.Is(err, autherr.ErrAlreadyConsumed) {
		t.Errorf("second Validate: want ErrAlreadyConsumed, got %v", err)
	}
}

func TestManager_ValidateMismatchDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	m, sender, _ := newTestManager(t, WithCodeGenerator(func(int) (string, error) { return "123456", nil }))
	id, _ := m.Request(ctx, "alice")

	if _, err := m.Validate(ctx, id, "654321", start); !errors.Is(err, autherr.ErrCodeMismatch) {
		t.Fatalf("want ErrCodeMismatch, got %v", err)
	}
	if _, err := m.Validate(ctx, id, sender.last().Code, start); err != nil {
		t.Errorf("correct code after mismatch: %v", err)
	}
}

func TestManager_WrongCodesLockRecord(t *testing.T) {
	ctx := context.Background()
	metrics := &fakeMetrics{}
	m, sender, store := newTestManager(t, WithMaxAttempts(3), WithMetrics(metrics))
	id, _ := m.Request(ctx, "alice")
	code := sender.last().Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Validate(ctx, id, wrong, start); !errors.Is(err, autherr.ErrCodeMismatch) {
			t.Fatalf("attempt %d: want ErrCodeMismatch, got %v", i+1, err)
		}
	}
	rec, _ := store.Get(ctx, id)
	if rec.FailedAttempts != 3 || !rec.Superseded {
		t.Fatalf("record after 3 wrong codes: %+v", rec)
	}
	if _, err := m.Validate(ctx, id, code, start); !errors.Is(err, autherr.ErrExpired) {
		t.Errorf("correct code after lockout: want ErrExpired, got %v", err)
	}
	if metrics.outcomes["mismatch"] != 3 || metrics.outcomes["expired"] != 1 {
		t.Errorf("outcomes = %v", metrics.outcomes)
	}

	// A fresh request starts a new budget.
	id, _ = m.Request(ctx, "alice")
	if _, err := m.Validate(ctx, id, sender.last().Code, start); err != nil {
		t.Errorf("new code after lockout: %v", err)
	}
}

func TestManager_BackgroundDelivery(t *testing.T) {
	ids := &fakeIdentities{byHandle: map[string]*identitydomain.Identity{
		"alice": {ID: "u1", Handle: "alice", Email: "alice@example.com"},
	}}
	release := make(chan struct{})
	sender := &blockingSender{release: release, got: make(chan error, 1)}
	metrics := &fakeMetrics{}
	m := NewManager(ids, repository.NewMemoryStore(), sender,
		WithClock(func() time.Time { return start }), WithLogger(logging.Discard()), WithMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.Request(ctx, "alice"); err != nil {
			t.Errorf("Request: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Request waited for the sender")
	}

	// The caller's context ends with the HTTP request; delivery must not.
	cancel()
	close(release)
	m.Wait()
	if err := <-sender.got; err != nil {
		t.Errorf("delivery context: %v", err)
	}
	if metrics.failed != 0 {
		t.Errorf("delivery failures = %d, want 0", metrics.failed)
	}
}

func TestManager_BackgroundDeliveryTimeout(t *testing.T) {
	ids := &fakeIdentities{byHandle: map[string]*identitydomain.Identity{"alice": {ID: "u1"}}}
	metrics := &fakeMetrics{}
	sender := &blockingSender{release: make(chan struct{}), got: make(chan error, 1)}
	m := NewManager(ids, repository.NewMemoryStore(), sender,
		WithLogger(logging.Discard()), WithMetrics(metrics), WithDeliveryTimeout(20*time.Millisecond))

	if _, err := m.Request(context.Background(), "alice"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	m.Wait()
	if err := <-sender.got; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("delivery context: want deadline exceeded, got %v", err)
	}
	if metrics.failed != 1 {
		t.Errorf("delivery failures = %d, want 1", metrics.failed)
	}
}

func TestManager_ValidateExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	m, sender, _ := newTestManager(t, WithWindow(2*time.Minute))

	id, _ := m.Request(ctx, "alice")
	if _, err := m.Validate(ctx, id, sender.last().Code, start.Add(2*time.Minute+time.Second)); !errors.Is(err, autherr.ErrExpired) {
		t.Errorf("after window: want ErrExpired, got %v", err)
	}

	id, _ = m.Request(ctx, "alice")
	if _, err := m.Validate(ctx, id, sender.last().Code, start.Add(2*time.Minute)); err != nil {
		t.Errorf("at exactly expiresAt: %v", err)
	}
}

func TestManager_NewRequestSupersedes(t *testing.T) {
	ctx := context.Background()
	m, sender, _ := newTestManager(t)

	first, _ := m.Request(ctx, "alice")
	firstCode := sender.last().Code
	second, _ := m.Request(ctx, "alice")
	secondCode := sender.last().Code

	if _, err := m.Validate(ctx, first, firstCode, start); !errors.Is(err, autherr.ErrExpired) {
		t.Errorf("superseded code: want ErrExpired, got %v", err)
	}
	if _, err := m.Validate(ctx, second, secondCode, start); err != nil {
		t.Errorf("latest code: %v", err)
	}
}

func TestManager_ValidateUnknownCorrelation(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Validate(context.Background(), "nope", "123456", start); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestManager_DeliveryFailureStillValid(t *testing.T) {
	ctx := context.Background()
	metrics := &fakeMetrics{}
	m, sender, _ := newTestManager(t, WithMetrics(metrics))
	sender.err = errors.New("smtp down")

	id, err := m.Request(ctx, "alice")
	if err != nil {
		t.Fatalf("Request should not surface delivery failure: %v", err)
	}
	if metrics.failed != 1 || metrics.requested != 1 {
		t.Errorf("metrics = %+v, want 1 requested and 1 delivery failure", metrics)
	}
	if _, err := m.Validate(ctx, id, sender.last().Code, start); err != nil {
		t.Errorf("record should remain valid after delivery failure: %v", err)
	}
	if metrics.outcomes["ok"] != 1 {
		t.Errorf("outcomes = %v, want one ok", metrics.outcomes)
	}
}

func TestManager_ConcurrentValidateSingleWinner(t *testing.T) {
	ctx := context.Background()
	m, sender, _ := newTestManager(t)
	id, _ := m.Request(ctx, "alice")
	code := sender.last().Code

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Validate(ctx, id, code, start)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, autherr.ErrAlreadyConsumed):
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful validations = %d, want 1", wins)
	}
}

func TestManager_CodeLengthOption(t *testing.T) {
	m, sender, _ := newTestManager(t, WithCodeLength(8))
	if _, err := m.Request(context.Background(), "alice"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := len(sender.last().Code); got != 8 {
		t.Errorf("code length = %d, want 8", got)
	}
}

func TestManager_RequestPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	lookupErr := errors.New("db down")
	m := NewManager(&fakeIdentities{err: lookupErr}, repository.NewMemoryStore(), &fakeSender{}, WithLogger(logging.Discard()))
	if _, err := m.Request(ctx, "alice"); !errors.Is(err, lookupErr) {
		t.Errorf("lookup failure: want wrapped db error, got %v", err)
	}

	storeErr := errors.New("insert failed")
	ids := &fakeIdentities{byHandle: map[string]*identitydomain.Identity{"alice": {ID: "u1"}}}
	sender := &fakeSender{}
	m = NewManager(ids, failingStore{err: storeErr}, sender, WithLogger(logging.Discard()))
	if _, err := m.Request(ctx, "alice"); !errors.Is(err, storeErr) {
		t.Errorf("store failure: want wrapped store error, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be delivered when the store fails")
	}
}
