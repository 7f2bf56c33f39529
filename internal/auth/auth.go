// Package auth supplies the session's credentials: the current identity and
// an auth token presented to the relay when connecting. The session treats
// an absent identity as "cannot connect" rather than an error, so providers
// report missing identity with an empty UserID.
package auth

import "context"

// Provider exposes the current identity and the auth token for it. Token
// may perform I/O (for example refreshing an expired token), so it takes a
// context; UserID is a cheap synchronous accessor.
type Provider interface {
	UserID() string
	Token(ctx context.Context) (string, error)
}

// Static is a Provider with fixed credentials, useful for tools and tests.
type Static struct {
	ID        string
	AuthToken string
}

// NewStatic creates a Static provider.
func NewStatic(id, token string) *Static {
	return &Static{ID: id, AuthToken: token}
}

// UserID returns the fixed identity.
func (s *Static) UserID() string { return s.ID }

// Token returns the fixed auth token.
func (s *Static) Token(ctx context.Context) (string, error) {
	return s.AuthToken, nil
}
