package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/identity/repository"
	"message-feed/backend/internal/otp"
	otprepo "message-feed/backend/internal/otp/repository"
	"message-feed/backend/internal/role"
	"message-feed/backend/internal/security"
)

const strongPassword = "Correct-Horse-9"

type memIdentityRepo struct {
	mu       sync.Mutex
	byID     map[string]*identitydomain.Identity
	byHandle map[string]*identitydomain.Identity
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{
		byID:     make(map[string]*identitydomain.Identity),
		byHandle: make(map[string]*identitydomain.Identity),
	}
}

func (r *memIdentityRepo) GetByID(ctx context.Context, id string) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *i
	return &c, nil
}

func (r *memIdentityRepo) GetByHandle(ctx context.Context, handle string) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byHandle[handle]
	if !ok {
		return nil, nil
	}
	c := *i
	return &c, nil
}

func (r *memIdentityRepo) Create(ctx context.Context, i *identitydomain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHandle[i.Handle]; ok {
		return repository.ErrHandleTaken
	}
	c := *i
	r.byID[i.ID] = &c
	r.byHandle[i.Handle] = &c
	return nil
}

func (r *memIdentityRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return autherr.ErrUnknownIdentity
	}
	i.PasswordHash = hash
	return nil
}

func (r *memIdentityRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[id]; ok {
		delete(r.byHandle, i.Handle)
		delete(r.byID, id)
	}
}

type captureSender struct {
	mu   sync.Mutex
	last otp.Delivery
}

func (c *captureSender) SendCode(_ context.Context, d otp.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = d
	return nil
}

type loginCounter struct {
	outcomes []string
}

func (l *loginCounter) LoginAttempt(outcome string) {
	l.outcomes = append(l.outcomes, outcome)
}

type fixture struct {
	svc     *AuthService
	repo    *memIdentityRepo
	tokens  *security.TokenProvider
	sender  *captureSender
	metrics *loginCounter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	f := &fixture{
		repo:    newMemIdentityRepo(),
		tokens:  tokens,
		sender:  &captureSender{},
		metrics: &loginCounter{},
		now:     time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	log, _ := test.NewNullLogger()
	clock := func() time.Time { return f.now }
	mgr := otp.NewManager(f.repo, otprepo.NewMemoryStore(), f.sender, otp.WithClock(clock), otp.WithLogger(log), otp.WithSyncDelivery())
	f.svc = NewAuthService(f.repo, security.NewHasher(4), tokens, mgr,
		WithClock(clock), WithLogger(log), WithMetrics(f.metrics))
	return f
}

func (f *fixture) register(t *testing.T, handle string) *identitydomain.Identity {
	t.Helper()
	ident, err := f.svc.Register(context.Background(), handle, handle+"@example.com", strongPassword)
	if err != nil {
		t.Fatalf("Register(%s): %v", handle, err)
	}
	return ident
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	ident, err := f.svc.Register(context.Background(), "  Alice ", "Alice@Example.com", strongPassword)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ident.Handle != "alice" || ident.Email != "alice@example.com" {
		t.Errorf("identity = %s / %s", ident.Handle, ident.Email)
	}
	if !ident.HasRole(role.User) || ident.HasRole(role.Admin) {
		t.Errorf("roles = %v, want [user]", ident.Roles)
	}
	if ident.PasswordHash == "" || ident.PasswordHash == strongPassword {
		t.Error("password must be stored hashed")
	}

	_, err = f.svc.Register(context.Background(), "ALICE", "other@example.com", strongPassword)
	if !errors.Is(err, ErrHandleTaken) {
		t.Errorf("duplicate handle: err = %v, want ErrHandleTaken", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, handle, email, password string
	}{
		{"short handle", "ab", "a@example.com", strongPassword},
		{"bad handle chars", "a b c", "a@example.com", strongPassword},
		{"bad email", "alice", "not-an-email", strongPassword},
		{"short password", "alice", "a@example.com", "Short-1"},
		{"no symbol", "alice", "a@example.com", "NoSymbolsHere123"},
		{"no upper", "alice", "a@example.com", "no-upper-case-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.handle, tt.email, tt.password)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")

	res, err := f.svc.Login(context.Background(), "Alice", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claim, err := f.tokens.Validate(res.Token, f.now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claim.Subject != ident.ID || claim.Purpose != security.PurposeAccess {
		t.Errorf("claim = %+v", claim)
	}
	if !res.ExpiresAt.Equal(f.now.Add(security.TestTokenTTL)) {
		t.Errorf("ExpiresAt = %v", res.ExpiresAt)
	}
}

func TestLogin_InvalidCredential(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	for _, tc := range []struct{ handle, password string }{
		{"alice", "Wrong-Password-1"},
		{"nobody", strongPassword},
		{"", strongPassword},
		{"alice", ""},
	} {
		_, err := f.svc.Login(ctx, tc.handle, tc.password)
		if !errors.Is(err, autherr.ErrInvalidCredential) {
			t.Errorf("Login(%q): err = %v, want ErrInvalidCredential", tc.handle, err)
		}
	}
	for _, o := range f.metrics.outcomes {
		if o != "invalid_credential" {
			t.Errorf("outcome = %q", o)
		}
	}
	if len(f.metrics.outcomes) != 4 {
		t.Errorf("outcomes = %v", f.metrics.outcomes)
	}
}

func TestLogin_RehashesOnCostChange(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")
	f.svc.hasher = security.NewHasher(5)

	if _, err := f.svc.Login(context.Background(), "alice", strongPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	stored, _ := f.repo.GetByID(context.Background(), ident.ID)
	if f.svc.hasher.NeedsRehash(stored.PasswordHash) {
		t.Error("hash should have been upgraded to the new cost")
	}
}

func TestRequestRecovery_UnknownHandleLooksLikeSuccess(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.RequestRecovery(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("RequestRecovery: %v", err)
	}
	if id == "" {
		t.Error("expected a decoy correlation id")
	}
	if f.sender.last.Code != "" {
		t.Error("no code should be sent for an unknown handle")
	}
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	id, err := f.svc.RequestRecovery(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestRecovery: %v", err)
	}
	if f.sender.last.CorrelationID != id || f.sender.last.To != "alice@example.com" {
		t.Fatalf("delivery = %+v", f.sender.last)
	}
	code := f.sender.last.Code

	if err := f.svc.ResetPassword(ctx, id, code, "weak"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("weak password: err = %v", err)
	}
	const newPassword = "Brand-New-Pass-7"
	f.now = f.now.Add(5 * time.Minute)
	if err := f.svc.ResetPassword(ctx, id, code, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice", strongPassword); !errors.Is(err, autherr.ErrInvalidCredential) {
		t.Errorf("old password: err = %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice", newPassword); err != nil {
		t.Errorf("new password: %v", err)
	}

	f.now = f.now.Add(time.Minute)
	if err := f.svc.ResetPassword(ctx, id, code, newPassword); !errors.Is(err, autherr.ErrAlreadyConsumed) {
		t.Errorf("replay: err = %v, want ErrAlreadyConsumed", err)
	}
}

func TestResetPassword_Errors(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	first, _ := f.svc.RequestRecovery(ctx, "alice")
	firstCode := f.sender.last.Code
	second, _ := f.svc.RequestRecovery(ctx, "alice")
	secondCode := f.sender.last.Code

	if err := f.svc.ResetPassword(ctx, first, firstCode, strongPassword); !errors.Is(err, autherr.ErrExpired) {
		t.Errorf("superseded: err = %v, want ErrExpired", err)
	}
	wrong := "000000"
	if secondCode == wrong {
		wrong = "111111"
	}
	if err := f.svc.ResetPassword(ctx, second, wrong, strongPassword); !errors.Is(err, autherr.ErrCodeMismatch) {
		t.Errorf("mismatch: err = %v, want ErrCodeMismatch", err)
	}
	if err := f.svc.ResetPassword(ctx, "unknown", secondCode, strongPassword); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	f.now = f.now.Add(11 * time.Minute)
	if err := f.svc.ResetPassword(ctx, second, secondCode, strongPassword); !errors.Is(err, autherr.ErrExpired) {
		t.Errorf("expired: err = %v, want ErrExpired", err)
	}
}

func TestRecoverSessionThenChangePassword(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")
	ctx := context.Background()

	id, _ := f.svc.RequestRecovery(ctx, "alice")
	res, err := f.svc.RecoverSession(ctx, id, f.sender.last.Code)
	if err != nil {
		t.Fatalf("RecoverSession: %v", err)
	}
	claim, err := f.tokens.Validate(res.Token, f.now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claim.Purpose != security.PurposeRecovery || claim.Subject != ident.ID {
		t.Errorf("claim = %+v", claim)
	}
	if !claim.ExpiresAt.Equal(f.now.Add(DefaultRecoveryTTL)) {
		t.Errorf("ExpiresAt = %v", claim.ExpiresAt)
	}

	const newPassword = "Recovered-Pass-8"
	if err := f.svc.ChangePassword(ctx, claim, "", newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice", newPassword); err != nil {
		t.Errorf("Login with new password: %v", err)
	}
}

func TestRecoverSession_DeletedIdentity(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")
	ctx := context.Background()

	id, _ := f.svc.RequestRecovery(ctx, "alice")
	f.repo.remove(ident.ID)

	_, err := f.svc.RecoverSession(ctx, id, f.sender.last.Code)
	if !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("err = %v, want ErrUnknownIdentity", err)
	}
}

func TestResetPassword_DeletedIdentity(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")
	ctx := context.Background()

	id, _ := f.svc.RequestRecovery(ctx, "alice")
	f.repo.remove(ident.ID)

	err := f.svc.ResetPassword(ctx, id, f.sender.last.Code, "Another-Pass-99")
	if !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("err = %v, want ErrUnknownIdentity", err)
	}
}

func TestChangePassword_AccessTokenNeedsCurrentPassword(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")
	ctx := context.Background()
	claim := &security.Claim{Subject: ident.ID, Purpose: security.PurposeAccess}

	if err := f.svc.ChangePassword(ctx, claim, "Wrong-Password-1", "Another-Pass-99"); !errors.Is(err, autherr.ErrInvalidCredential) {
		t.Errorf("wrong current: err = %v", err)
	}
	if err := f.svc.ChangePassword(ctx, claim, strongPassword, "Another-Pass-99"); err != nil {
		t.Errorf("ChangePassword: %v", err)
	}
	if err := f.svc.ChangePassword(ctx, &security.Claim{Subject: "gone"}, strongPassword, "Another-Pass-99"); !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("unknown subject: err = %v", err)
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	ident := f.register(t, "alice")

	got, err := f.svc.Me(context.Background(), &security.Claim{Subject: ident.ID})
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if got.Handle != "alice" {
		t.Errorf("handle = %q", got.Handle)
	}
	if _, err := f.svc.Me(context.Background(), &security.Claim{Subject: "gone"}); !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("err = %v, want ErrUnknownIdentity", err)
	}
}
