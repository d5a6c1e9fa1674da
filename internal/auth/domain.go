package auth

import (
	"errors"
	"time"
)

// APIToken is a stored credential for a principal. The secret is kept only
// as a bcrypt hash; the wire format is "<token id>.<secret>".
type APIToken struct {
	ID         int64
	UserID     int64
	UserName   string
	SecretHash string
	Revoked    bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// ErrInvalidToken indicates the credential could not be resolved.
var ErrInvalidToken = errors.New("auth: invalid token")
