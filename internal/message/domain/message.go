package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBodyLength is the longest accepted message body, in characters.
const MaxBodyLength = 1000

var (
	// ErrEmptyBody is returned for blank message bodies.
	ErrEmptyBody = errors.New("message body is required")
	// ErrBodyTooLong is returned for bodies over MaxBodyLength characters.
	ErrBodyTooLong = errors.New("message body too long")
)

// Message is a feed entry. ID is a ULID so that IDs sort by creation time;
// OwnerID is the identity that created it and is the ownership fact used for deletes.
type Message struct {
	ID          string
	OwnerID     string
	OwnerHandle string
	Body        string
	CreatedAt   time.Time
}

// NormalizeBody trims surrounding whitespace and validates length.
func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", ErrBodyTooLong
	}
	return body, nil
}
