package security

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"message-feed/backend/internal/autherr"
	"message-feed/backend/internal/role"
)

// Purpose distinguishes what a token may be used for.
type Purpose string

const (
	// PurposeAccess tokens authenticate ordinary API calls.
	PurposeAccess Purpose = "access"
	// PurposeRecovery tokens are minted after OTP validation and only allow a password change.
	PurposeRecovery Purpose = "recovery"
)

// ErrUnsupportedKey is returned by NewTokenProvider for key types with no JWS algorithm.
var ErrUnsupportedKey = errors.New("unsupported signing key")

// Claim is the trusted assertion carried by a validated token. It is never persisted.
type Claim struct {
	ID        string
	Subject   string
	Roles     []role.Name
	Purpose   Purpose
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the claim carries r.
func (c *Claim) HasRole(r role.Name) bool {
	return role.Contains(c.Roles, r)
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Roles   []string `json:"roles,omitempty"`
	Purpose string   `json:"purpose"`
	// NumericDate is whole seconds; these carry the exact instants.
	IssuedAtNano  int64 `json:"iat_ns,omitempty"`
	ExpiresAtNano int64 `json:"exp_ns,omitempty"`
}

// TokenProvider issues and validates bearer tokens with the deployment key pair.
// It is immutable after construction and safe for concurrent use.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and verifies with publicKey.
// The algorithm follows the key type (RS256, ES256/384/512 or EdDSA). ttl is the access token lifetime.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) (*TokenProvider, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrUnsupportedKey
	}
	alg := KeyAlg(publicKey)
	if alg == "" || alg != KeyAlg(privateKey.Public()) {
		return nil, ErrUnsupportedKey
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		method:     jwt.GetSigningMethod(alg),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}, nil
}

// Alg returns the JWS algorithm used by the provider.
func (p *TokenProvider) Alg() string { return p.method.Alg() }

// TTL returns the access token lifetime.
func (p *TokenProvider) TTL() time.Duration { return p.ttl }

// Issue signs an access token for identityID with the given roles, valid from now for the configured TTL.
func (p *TokenProvider) Issue(identityID string, roles []role.Name, now time.Time) (Token, error) {
	return p.IssueWithTTL(identityID, roles, PurposeAccess, now, p.ttl)
}

// IssueWithTTL signs a token with an explicit purpose and lifetime. The token
// expires exactly at now+ttl; the registered exp claim is rounded up to the next
// whole second for verifiers that only read NumericDate.
func (p *TokenProvider) IssueWithTTL(identityID string, roles []role.Name, purpose Purpose, now time.Time, ttl time.Duration) (Token, error) {
	if identityID == "" {
		return Token{}, fmt.Errorf("issue token: %w", autherr.ErrMalformed)
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("issue token: ttl must be positive")
	}
	jti, err := generateJTI()
	if err != nil {
		return Token{}, err
	}
	iat := now.UTC()
	exp := iat.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(exp)),
		},
		Roles:         role.Strings(role.ParseAll(role.Strings(roles))),
		Purpose:       string(purpose),
		IssuedAtNano:  iat.UnixNano(),
		ExpiresAtNano: exp.UnixNano(),
	}
	signed, err := jwt.NewWithClaims(p.method, claims).SignedString(p.privateKey)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ID: jti, ExpiresAt: exp}, nil
}

// Validate checks token against the deployment public key and returns its claim.
// The signature is verified before anything in the token is decoded, using the
// provider's algorithm rather than the one named in the header.
func (p *TokenProvider) Validate(token string, now time.Time) (*Claim, error) {
	dot := strings.LastIndexByte(token, '.')
	if token == "" || dot <= 0 {
		return nil, autherr.ErrMalformed
	}
	signingInput, encodedSig := token[:dot], token[dot+1:]
	sig, err := base64.RawURLEncoding.Strict().DecodeString(encodedSig)
	if err != nil {
		return nil, autherr.ErrInvalidSignature
	}
	if err := p.method.Verify(signingInput, sig, p.publicKey); err != nil {
		return nil, autherr.ErrInvalidSignature
	}

	var claims tokenClaims
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", autherr.ErrMalformed)
	}
	if parsed.Method == nil || parsed.Method.Alg() != p.method.Alg() {
		return nil, fmt.Errorf("unexpected alg: %w", autherr.ErrMalformed)
	}
	if claims.Subject == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, fmt.Errorf("missing required claim: %w", autherr.ErrMalformed)
	}
	if claims.Issuer != p.issuer || !slices.Contains(claims.Audience, p.audience) {
		return nil, fmt.Errorf("issuer or audience mismatch: %w", autherr.ErrMalformed)
	}
	purpose := Purpose(claims.Purpose)
	if purpose != PurposeAccess && purpose != PurposeRecovery {
		return nil, fmt.Errorf("unknown purpose: %w", autherr.ErrMalformed)
	}
	iat, exp := claims.IssuedAt.Time.UTC(), claims.ExpiresAt.Time.UTC()
	if claims.IssuedAtNano != 0 {
		iat = time.Unix(0, claims.IssuedAtNano).UTC()
	}
	if claims.ExpiresAtNano != 0 {
		exact := time.Unix(0, claims.ExpiresAtNano).UTC()
		if exact.After(exp) {
			return nil, fmt.Errorf("exp_ns after exp: %w", autherr.ErrMalformed)
		}
		exp = exact
	}
	if !now.Before(exp) {
		return nil, autherr.ErrExpired
	}
	return &Claim{
		ID:        claims.ID,
		Subject:   claims.Subject,
		Roles:     role.ParseAll(claims.Roles),
		Purpose:   purpose,
		Issuer:    claims.Issuer,
		Audience:  []string(claims.Audience),
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); !r.Equal(t) {
		return r.Add(time.Second)
	}
	return t
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
