package domain

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/role"
)

// Identity is an authenticatable principal. Handle is unique and stored lower-cased;
// Email is the delivery contact for one-time codes.
type Identity struct {
	ID           string
	Handle       string
	Email        string
	PasswordHash string
	Roles        []role.Name
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the identity holds r.
func (i *Identity) HasRole(r role.Name) bool {
	return role.Contains(i.Roles, r)
}

// String omits the password hash.
func (i *Identity) String() string {
	return fmt.Sprintf("Identity{ID:%s Handle:%s Roles:%v}", i.ID, i.Handle, i.Roles)
}

// LogFields returns fields safe to attach to log entries.
func (i *Identity) LogFields() logrus.Fields {
	return logrus.Fields{"identity_id": i.ID, "handle": i.Handle}
}
