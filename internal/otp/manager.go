// Package otp issues and redeems one-time passcodes used for account recovery.
package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/otp/domain"
	"message-feed/backend/internal/otp/repository"
)

// Delivery is a code ready to be sent to its owner.
type Delivery struct {
	CorrelationID string
	To            string
	Code          string
	ExpiresAt     time.Time
}

// Sender hands a code to an out-of-band channel. Implementations must not log Code.
type Sender interface {
	SendCode(ctx context.Context, d Delivery) error
}

// IdentityLookup resolves a handle to an identity; it returns nil, nil when none exists.
type IdentityLookup interface {
	GetByHandle(ctx context.Context, handle string) (*identitydomain.Identity, error)
}

// Metrics receives OTP lifecycle outcomes. A nil Metrics is allowed.
type Metrics interface {
	OTPRequested()
	OTPValidated(outcome string)
	OTPDeliveryFailed()
}

// DefaultDeliveryTimeout bounds one background delivery.
const DefaultDeliveryTimeout = 15 * time.Second

// Manager runs the OTP lifecycle: generate, store, deliver, validate.
type Manager struct {
	identities      IdentityLookup
	store           repository.Store
	sender          Sender
	codeLength      int
	window          time.Duration
	maxAttempts     int
	syncDelivery    bool
	deliveryTimeout time.Duration
	generate        CodeGenerator
	newID           func() string
	now             func() time.Time
	log             logrus.FieldLogger
	metrics         Metrics
	inflight        sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodeLength sets the number of digits per code.
func WithCodeLength(n int) Option { return func(m *Manager) { m.codeLength = n } }

// WithWindow sets how long a code stays valid.
func WithWindow(d time.Duration) Option { return func(m *Manager) { m.window = d } }

// WithMaxAttempts sets how many wrong codes a record tolerates before it is locked.
func WithMaxAttempts(n int) Option { return func(m *Manager) { m.maxAttempts = n } }

// WithSyncDelivery makes Request wait for the sender instead of delivering in the background.
func WithSyncDelivery() Option { return func(m *Manager) { m.syncDelivery = true } }

// WithDeliveryTimeout bounds a background delivery.
func WithDeliveryTimeout(d time.Duration) Option { return func(m *Manager) { m.deliveryTimeout = d } }

// WithCodeGenerator replaces the crypto/rand generator (tests).
func WithCodeGenerator(g CodeGenerator) Option { return func(m *Manager) { m.generate = g } }

// WithClock sets the time source used by Request.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(mt Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// NewManager returns a Manager. Defaults: 6 digits, 10 minute window, 5 attempts,
// background delivery bounded by DefaultDeliveryTimeout.
func NewManager(identities IdentityLookup, store repository.Store, sender Sender, opts ...Option) *Manager {
	m := &Manager{
		identities: identities,
		store:      store,
		sender:     sender,
		codeLength: DefaultCodeLength,
		window:          repository.DefaultWindow,
		maxAttempts:     repository.DefaultMaxAttempts,
		deliveryTimeout: DefaultDeliveryTimeout,
		generate:        GenerateCode,
		newID:           func() string { return uuid.New().String() },
		now:             func() time.Time { return time.Now().UTC() },
		log:             logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = repository.DefaultMaxAttempts
	}
	if m.deliveryTimeout <= 0 {
		m.deliveryTimeout = DefaultDeliveryTimeout
	}
	return m
}

// Wait blocks until background deliveries started by Request have finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Request issues a new code for handle, superseding any outstanding one, and hands it to the sender.
// It returns the correlation ID the caller must present with the code. Unknown handles yield
// autherr.ErrUnknownHandle; callers facing the public should not reveal that.
// Delivery runs in the background on a context detached from ctx, so a known handle
// answers as fast as an unknown one. A delivery failure is logged and counted but
// never returned: the record stays valid.
func (m *Manager) Request(ctx context.Context, handle string) (string, error) {
	ident, err := m.identities.GetByHandle(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("lookup identity: %w", err)
	}
	if ident == nil {
		return "", autherr.ErrUnknownHandle
	}
	code, err := m.generate(m.codeLength)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := m.now()
	rec := &domain.Record{
		ID:         m.newID(),
		IdentityID: ident.ID,
		CodeHash:   HashCode(code),
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.window),
	}
	if err := m.store.Replace(ctx, rec); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	if m.metrics != nil {
		m.metrics.OTPRequested()
	}

	d := Delivery{CorrelationID: rec.ID, To: ident.Email, Code: code, ExpiresAt: rec.ExpiresAt}
	if m.syncDelivery {
		m.deliver(ctx, ident.ID, d)
		return rec.ID, nil
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deliveryTimeout)
		defer cancel()
		m.deliver(dctx, ident.ID, d)
	}()
	return rec.ID, nil
}

func (m *Manager) deliver(ctx context.Context, identityID string, d Delivery) {
	if err := m.sender.SendCode(ctx, d); err != nil {
		m.log.WithFields(logrus.Fields{
			"identity_id":    identityID,
			"correlation_id": d.CorrelationID,
			"error":          err.Error(),
		}).Warn(autherr.ErrDeliveryFailed.Error())
		if m.metrics != nil {
			m.metrics.OTPDeliveryFailed()
		}
	}
}

// Validate redeems code for the record identified by correlationID at now.
// On success the record is consumed and returned; it can never be redeemed again.
func (m *Manager) Validate(ctx context.Context, correlationID, code string, now time.Time) (*domain.Record, error) {
	rec, err := m.validate(ctx, correlationID, code, now)
	if m.metrics != nil {
		m.metrics.OTPValidated(outcome(err))
	}
	return rec, err
}

func (m *Manager) validate(ctx context.Context, correlationID, code string, now time.Time) (*domain.Record, error) {
	rec, err := m.store.Get(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	if rec == nil {
		return nil, autherr.ErrNotFound
	}
	if rec.Superseded {
		return nil, autherr.ErrExpired
	}
	if rec.Consumed {
		return nil, autherr.ErrAlreadyConsumed
	}
	if rec.Expired(now) {
		return nil, autherr.ErrExpired
	}
	if !CodeEqual(code, rec.CodeHash) {
		n, err := m.store.RecordFailure(ctx, rec.ID, m.maxAttempts)
		if err != nil {
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}
		if n >= m.maxAttempts {
			m.log.WithFields(logrus.Fields{
				"identity_id":    rec.IdentityID,
				"correlation_id": rec.ID,
				"attempts":       n,
			}).Warn("otp locked after too many wrong codes")
		}
		return nil, autherr.ErrCodeMismatch
	}
	ok, err := m.store.Consume(ctx, rec.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		// Lost to a concurrent redeem or a newer request.
		latest, err := m.store.Get(ctx, rec.ID)
		if err == nil && latest != nil && latest.Superseded && !latest.Consumed {
			return nil, autherr.ErrExpired
		}
		return nil, autherr.ErrAlreadyConsumed
	}
	rec.Consumed = true
	at := now
	rec.ConsumedAt = &at
	return rec, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, autherr.ErrNotFound):
		return "not_found"
	case errors.Is(err, autherr.ErrExpired):
		return "expired"
	case errors.Is(err, autherr.ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, autherr.ErrCodeMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
