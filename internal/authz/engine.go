// Package authz decides whether an authenticated identity may perform an action on the
// message feed. Decisions are evaluated by an embedded OPA Rego policy.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/role"
	"message-feed/backend/internal/security"
)

// Kind is the action being authorized.
type Kind int

const (
	Read Kind = iota + 1
	Create
	Delete
	// ReadAudit covers the administrative audit log view.
	ReadAudit
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Create:
		return "create"
	case Delete:
		return "delete"
	case ReadAudit:
		return "read_audit"
	default:
		return "unknown"
	}
}

// Action is a request to act on the feed. ResourceID is required for Delete.
type Action struct {
	Kind       Kind
	ResourceID string
}

// IdentityLookup resolves identity IDs; it returns nil, nil when none exists.
type IdentityLookup interface {
	GetByID(ctx context.Context, id string) (*identitydomain.Identity, error)
}

// OwnerLookup reports the owner of a resource and whether it exists.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, resourceID string) (ownerID string, found bool, err error)
}

// Metrics counts decisions. A nil Metrics is allowed.
type Metrics interface {
	AuthzDecision(action, decision string)
}

// Engine evaluates authorization decisions. The policy is compiled once in NewEngine;
// Authorize is safe for concurrent use.
type Engine struct {
	identities IdentityLookup
	owners     OwnerLookup
	policy     string
	query      rego.PreparedEvalQuery
	log        logrus.FieldLogger
	metrics    Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces DefaultPolicy. The module must define data.feed.authz.allow.
func WithPolicy(module string) Option { return func(e *Engine) { e.policy = module } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine compiles the policy and returns an Engine.
func NewEngine(ctx context.Context, identities IdentityLookup, owners OwnerLookup, opts ...Option) (*Engine, error) {
	e := &Engine{
		identities: identities,
		owners:     owners,
		policy:     DefaultPolicy,
		log:        logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("feed_authz.rego", e.policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile authz policy: %w", err)
	}
	e.query = q
	return e, nil
}

// Authorize returns nil if claim may perform action. Errors:
//   - autherr.ErrUnknownIdentity when the claim subject no longer exists;
//   - autherr.ErrNotFound when a Delete targets a missing resource (checked before ownership);
//   - autherr.ErrForbidden when the policy denies.
//
// Roles come from the stored identity, not the token. The reason for a denial is not disclosed.
func (e *Engine) Authorize(ctx context.Context, claim *security.Claim, action Action) error {
	err := e.authorize(ctx, claim, action)
	if e.metrics != nil {
		e.metrics.AuthzDecision(action.Kind.String(), decision(err))
	}
	return err
}

func (e *Engine) authorize(ctx context.Context, claim *security.Claim, action Action) error {
	if claim == nil || claim.Subject == "" {
		return autherr.ErrUnknownIdentity
	}
	ident, err := e.identities.GetByID(ctx, claim.Subject)
	if err != nil {
		return fmt.Errorf("lookup identity: %w", err)
	}
	if ident == nil {
		e.log.WithField("identity_id", claim.Subject).Warn("authz: token subject no longer exists")
		return autherr.ErrUnknownIdentity
	}
	if claim.HasRole(role.Admin) && !ident.HasRole(role.Admin) {
		e.log.WithFields(logrus.Fields{
			"identity_id": claim.Subject,
			"action":      action.Kind.String(),
		}).Warn("authz: token carries admin role the identity no longer holds")
	}

	resource := map[string]any{"id": action.ResourceID, "owner_id": ""}
	if action.Kind == Delete {
		if action.ResourceID == "" {
			return autherr.ErrNotFound
		}
		owner, found, err := e.owners.OwnerOf(ctx, action.ResourceID)
		if err != nil {
			return fmt.Errorf("lookup owner: %w", err)
		}
		if !found {
			return autherr.ErrNotFound
		}
		resource["owner_id"] = owner
	}

	allowed, err := e.eval(ctx, map[string]any{
		"action":   action.Kind.String(),
		"subject":  claim.Subject,
		"roles":    role.Strings(ident.Roles),
		"resource": resource,
	})
	if err != nil {
		return err
	}
	if !allowed {
		return autherr.ErrForbidden
	}
	return nil
}

func (e *Engine) eval(ctx context.Context, input map[string]any) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval authz policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates the compiled policy against a read request. It does not touch the stores.
func (e *Engine) HealthCheck(ctx context.Context) error {
	allowed, err := e.eval(ctx, map[string]any{
		"action":   Read.String(),
		"subject":  "health",
		"roles":    []string{},
		"resource": map[string]any{"id": "", "owner_id": ""},
	})
	if err != nil {
		return err
	}
	if !allowed {
		return errors.New("authz policy denied health probe")
	}
	return nil
}

func decision(err error) string {
	switch {
	case err == nil:
		return "allow"
	case errors.Is(err, autherr.ErrForbidden):
		return "deny"
	case errors.Is(err, autherr.ErrNotFound):
		return "not_found"
	case errors.Is(err, autherr.ErrUnknownIdentity):
		return "unknown_identity"
	default:
		return "error"
	}
}
