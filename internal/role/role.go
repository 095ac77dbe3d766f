// Package role defines the closed set of roles an identity can hold.
package role

import (
	"errors"
	"strings"
)

// Name is a role name. Names compare case-insensitively; Parse normalizes to lower case.
type Name string

const (
	User  Name = "user"
	Admin Name = "admin"
)

// Role pairs a role name with its numeric identifier (roles table primary key).
type Role struct {
	ID   int
	Name Name
}

// ErrUnknownRole is returned by Parse for names outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

var known = map[Name]int{
	User:  1,
	Admin: 2,
}

// All returns every known role ordered by ID.
func All() []Role {
	return []Role{{ID: 1, Name: User}, {ID: 2, Name: Admin}}
}

// Parse returns the role name for s, ignoring case and surrounding whitespace.
func Parse(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := known[n]; !ok {
		return "", ErrUnknownRole
	}
	return n, nil
}

// ID returns the numeric identifier for n, or 0 if n is unknown.
func (n Name) ID() int {
	return known[Name(strings.ToLower(string(n)))]
}

// Strings converts names to plain strings (e.g. for token claims).
func Strings(names []Name) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, string(n))
	}
	return out
}

// ParseAll parses names, dropping duplicates. Unknown names are skipped.
func ParseAll(names []string) []Name {
	seen := make(map[Name]struct{}, len(names))
	var out []Name
	for _, s := range names {
		n, err := Parse(s)
		if err != nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Contains reports whether names includes want (case-insensitive).
func Contains(names []Name, want Name) bool {
	for _, n := range names {
		if strings.EqualFold(string(n), string(want)) {
			return true
		}
	}
	return false
}
