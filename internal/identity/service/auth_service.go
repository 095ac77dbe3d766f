// Package service implements registration, login and credential recovery.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/audit"
	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/identity/repository"
	otpdomain "message-feed/backend/internal/otp/domain"
	"message-feed/backend/internal/role"
	"message-feed/backend/internal/security"
)

// DefaultRecoveryTTL is the lifetime of recovery tokens.
const DefaultRecoveryTTL = 15 * time.Minute

var (
	// ErrInvalidArgument wraps input validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrHandleTaken is returned by Register for a handle already in use.
	ErrHandleTaken = repository.ErrHandleTaken
)

// AuthResult holds an issued token and the identity it was issued to.
type AuthResult struct {
	Token      string
	ExpiresAt  time.Time
	IdentityID string
	Roles      []role.Name
}

// Tokens issues bearer tokens.
type Tokens interface {
	Issue(identityID string, roles []role.Name, now time.Time) (security.Token, error)
	IssueWithTTL(identityID string, roles []role.Name, purpose security.Purpose, now time.Time, ttl time.Duration) (security.Token, error)
}

// OTP is the one-time code lifecycle used for recovery.
type OTP interface {
	Request(ctx context.Context, handle string) (string, error)
	Validate(ctx context.Context, correlationID, code string, now time.Time) (*otpdomain.Record, error)
}

// Metrics counts login outcomes. A nil Metrics is allowed.
type Metrics interface {
	LoginAttempt(outcome string)
}

// AuthService implements password login, registration and OTP-based recovery.
type AuthService struct {
	repo        repository.Repository
	hasher      *security.Hasher
	tokens      Tokens
	otp         OTP
	audit       audit.AuditLogger
	log         logrus.FieldLogger
	metrics     Metrics
	recoveryTTL time.Duration
	now         func() time.Time
	newID       func() string

	dummyOnce sync.Once
	dummyHash string
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithRecoveryTTL sets the recovery token lifetime.
func WithRecoveryTTL(d time.Duration) Option { return func(s *AuthService) { s.recoveryTTL = d } }

// WithAudit sets the audit logger.
func WithAudit(a audit.AuditLogger) Option { return func(s *AuthService) { s.audit = a } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *AuthService) { s.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(s *AuthService) { s.metrics = m } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(repo repository.Repository, hasher *security.Hasher, tokens Tokens, otp OTP, opts ...Option) *AuthService {
	s := &AuthService{
		repo:        repo,
		hasher:      hasher,
		tokens:      tokens,
		otp:         otp,
		audit:       audit.Nop{},
		log:         logrus.StandardLogger(),
		recoveryTTL: DefaultRecoveryTTL,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates an identity with the user role.
func (s *AuthService) Register(ctx context.Context, handle, email, password string) (*identitydomain.Identity, error) {
	handle = normalizeHandle(handle)
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now()
	ident := &identitydomain.Identity{
		ID:           s.newID(),
		Handle:       handle,
		Email:        email,
		PasswordHash: hashed,
		Roles:        []role.Name{role.User},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, ident); err != nil {
		return nil, err
	}
	s.log.WithFields(ident.LogFields()).Info("identity registered")
	s.audit.LogEvent(ctx, ident.ID, audit.ActionRegister, audit.ResourceIdentity, nil)
	return ident, nil
}

// Login verifies handle and password and issues an access token. Unknown handles and wrong
// passwords both yield autherr.ErrInvalidCredential.
func (s *AuthService) Login(ctx context.Context, handle, password string) (*AuthResult, error) {
	handle = normalizeHandle(handle)
	if handle == "" || password == "" {
		s.loginFailed(ctx, "", handle)
		return nil, autherr.ErrInvalidCredential
	}
	ident, err := s.repo.GetByHandle(ctx, handle)
	if err != nil {
		s.recordLogin("error")
		return nil, err
	}
	if ident == nil {
		// Spend the same bcrypt work as a real comparison.
		s.hasher.Verify([]byte(password), s.placeholderHash())
		s.loginFailed(ctx, "", handle)
		return nil, autherr.ErrInvalidCredential
	}
	if !s.hasher.Verify([]byte(password), ident.PasswordHash) {
		s.loginFailed(ctx, ident.ID, handle)
		return nil, autherr.ErrInvalidCredential
	}
	if s.hasher.NeedsRehash(ident.PasswordHash) {
		s.rehash(ctx, ident.ID, password)
	}
	tok, err := s.tokens.Issue(ident.ID, ident.Roles, s.now())
	if err != nil {
		s.recordLogin("error")
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.recordLogin("success")
	s.audit.LogEvent(ctx, ident.ID, audit.ActionLoginSuccess, audit.ResourceIdentity, nil)
	return &AuthResult{Token: tok.Value, ExpiresAt: tok.ExpiresAt, IdentityID: ident.ID, Roles: ident.Roles}, nil
}

// RequestRecovery starts OTP recovery for handle and returns the correlation ID. For unknown
// handles a random ID is returned so callers cannot tell the cases apart.
func (s *AuthService) RequestRecovery(ctx context.Context, handle string) (string, error) {
	handle = normalizeHandle(handle)
	id, err := s.otp.Request(ctx, handle)
	if errors.Is(err, autherr.ErrUnknownHandle) {
		s.log.WithField("handle", handle).Debug("recovery requested for unknown handle")
		return s.newID(), nil
	}
	if err != nil {
		return "", err
	}
	s.audit.LogEvent(ctx, "", audit.ActionRecoveryRequested, audit.ResourceIdentity, map[string]string{"correlation_id": id})
	return id, nil
}

// ResetPassword redeems the code and sets newPassword. The password is validated before the
// code is redeemed.
func (s *AuthService) ResetPassword(ctx context.Context, correlationID, code, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	rec, err := s.otp.Validate(ctx, correlationID, code, s.now())
	if err != nil {
		return err
	}
	ident, err := s.repo.GetByID(ctx, rec.IdentityID)
	if err != nil {
		return err
	}
	if ident == nil {
		return autherr.ErrUnknownIdentity
	}
	if err := s.setPassword(ctx, ident.ID, newPassword); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, rec.IdentityID, audit.ActionPasswordReset, audit.ResourceIdentity, map[string]string{"correlation_id": correlationID})
	return nil
}

// RecoverSession redeems the code and issues a short-lived recovery token that only allows a
// password change.
func (s *AuthService) RecoverSession(ctx context.Context, correlationID, code string) (*AuthResult, error) {
	rec, err := s.otp.Validate(ctx, correlationID, code, s.now())
	if err != nil {
		return nil, err
	}
	ident, err := s.repo.GetByID(ctx, rec.IdentityID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, autherr.ErrUnknownIdentity
	}
	tok, err := s.tokens.IssueWithTTL(ident.ID, ident.Roles, security.PurposeRecovery, s.now(), s.recoveryTTL)
	if err != nil {
		return nil, fmt.Errorf("issue recovery token: %w", err)
	}
	s.audit.LogEvent(ctx, ident.ID, audit.ActionRecoveryCompleted, audit.ResourceIdentity, map[string]string{"correlation_id": correlationID})
	return &AuthResult{Token: tok.Value, ExpiresAt: tok.ExpiresAt, IdentityID: ident.ID, Roles: ident.Roles}, nil
}

// ChangePassword sets a new password for the claim subject. Access tokens must present the
// current password; recovery tokens need not.
func (s *AuthService) ChangePassword(ctx context.Context, claim *security.Claim, currentPassword, newPassword string) error {
	if claim == nil {
		return autherr.ErrUnknownIdentity
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	ident, err := s.repo.GetByID(ctx, claim.Subject)
	if err != nil {
		return err
	}
	if ident == nil {
		return autherr.ErrUnknownIdentity
	}
	if claim.Purpose != security.PurposeRecovery && !s.hasher.Verify([]byte(currentPassword), ident.PasswordHash) {
		return autherr.ErrInvalidCredential
	}
	if err := s.setPassword(ctx, ident.ID, newPassword); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, ident.ID, audit.ActionPasswordChanged, audit.ResourceIdentity, map[string]string{"purpose": string(claim.Purpose)})
	return nil
}

// Me returns the identity behind claim.
func (s *AuthService) Me(ctx context.Context, claim *security.Claim) (*identitydomain.Identity, error) {
	if claim == nil {
		return nil, autherr.ErrUnknownIdentity
	}
	ident, err := s.repo.GetByID(ctx, claim.Subject)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, autherr.ErrUnknownIdentity
	}
	return ident, nil
}

func (s *AuthService) setPassword(ctx context.Context, identityID, password string) error {
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePasswordHash(ctx, identityID, hashed); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *AuthService) rehash(ctx context.Context, identityID, password string) {
	if err := s.setPassword(ctx, identityID, password); err != nil {
		s.log.WithFields(logrus.Fields{"identity_id": identityID, "error": err.Error()}).Warn("password rehash failed")
	}
}

func (s *AuthService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash([]byte(uuid.New().String()))
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func (s *AuthService) loginFailed(ctx context.Context, identityID, handle string) {
	s.recordLogin("invalid_credential")
	s.audit.LogEvent(ctx, identityID, audit.ActionLoginFailure, audit.ResourceIdentity, map[string]string{"handle": handle})
}

func (s *AuthService) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempt(outcome)
	}
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

func validateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("%w: handle is required", ErrInvalidArgument)
	}
	if !handlePattern.MatchString(handle) {
		return fmt.Errorf("%w: handle must be 3-32 characters of letters, digits, '.', '_' or '-'", ErrInvalidArgument)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return fmt.Errorf("%w: invalid email format", ErrInvalidArgument)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidArgument)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidArgument)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		case r < '0' || (r > '9' && r < 'A') || (r > 'Z' && r < 'a') || r > 'z':
			hasSymbol = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidArgument)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidArgument)
	}
	if !hasNumber {
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidArgument)
	}
	if !hasSymbol {
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidArgument)
	}
	return nil
}
