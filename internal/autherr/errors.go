// Package autherr defines the error taxonomy shared by the credential, token,
// authorization and OTP components. Callers match with errors.Is.
package autherr

import "errors"

var (
	// ErrInvalidCredential is returned when a handle/password pair does not verify.
	// Unknown handles map to the same error.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidSignature is returned when a bearer token's signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrExpired is returned for expired tokens and expired or superseded OTP records.
	ErrExpired = errors.New("expired")
	// ErrMalformed is returned when a token cannot be parsed into the expected claim shape.
	ErrMalformed = errors.New("malformed token")
	// ErrForbidden is returned when the identity may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when a resource or OTP record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownHandle is returned by OTP requests for a handle with no identity.
	ErrUnknownHandle = errors.New("unknown handle")
	// ErrUnknownIdentity is returned when a token subject no longer exists.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrCodeMismatch is returned when an entered OTP does not match the stored code.
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrAlreadyConsumed is returned when an OTP record was already used.
	ErrAlreadyConsumed = errors.New("already consumed")
	// ErrDeliveryFailed marks a failed OTP hand-off to the email sender. It is
	// logged and counted, never returned to the requester.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// IsReauthenticate reports whether err means the caller must present fresh
// credentials (as opposed to an access decision).
func IsReauthenticate(err error) bool {
	return errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnknownIdentity)
}
