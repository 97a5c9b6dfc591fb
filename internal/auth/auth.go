// Package auth registers users, checks their passwords and issues the
// bearer tokens the HTTP API accepts.
package auth

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")

	// ErrInvalidToken covers missing, malformed, expired and forged tokens.
	ErrInvalidToken = errors.New("invalid token")
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Name   string
	Email  string
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess reports whether p may act on resources owned by userID.
func (p Principal) CanAccess(userID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == userID)
}

func principalOf(u User) Principal {
	return Principal{
		UserID: strconv.FormatInt(u.ID, 10),
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
	}
}
