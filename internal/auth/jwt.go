package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin is how close to expiry a token may get before Token asks
// the refresh callback for a new one.
const refreshMargin = 30 * time.Second

// RefreshFunc fetches a fresh bearer token, typically from the application's
// auth backend.
type RefreshFunc func(ctx context.Context) (string, error)

// JWTProvider derives the identity from a relay bearer token's "sub" claim
// and refreshes the token through a callback when it nears expiry. The
// token is decoded without signature verification: the client holds no
// relay signing key, and the relay re-validates the token on connect.
type JWTProvider struct {
	mu      sync.Mutex
	token   string
	userID  string
	expiry  time.Time
	refresh RefreshFunc
}

// NewJWTProvider creates a provider from an initial bearer token. refresh
// may be nil, in which case the initial token is served until it expires
// and connection attempts start failing at the relay.
func NewJWTProvider(token string, refresh RefreshFunc) (*JWTProvider, error) {
	p := &JWTProvider{refresh: refresh}
	if err := p.adopt(token); err != nil {
		return nil, err
	}
	return p, nil
}

// adopt decodes and stores a token. Caller must not hold p.mu.
func (p *JWTProvider) adopt(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("auth: decode token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("auth: token has no subject claim")
	}

	var expiry time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}

	p.mu.Lock()
	p.token = token
	p.userID = sub
	p.expiry = expiry
	p.mu.Unlock()
	return nil
}

// UserID returns the identity from the token's subject claim.
func (p *JWTProvider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// Token returns the current bearer token, refreshing it first when it is
// within refreshMargin of expiry and a refresh callback is configured.
func (p *JWTProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.token
	stale := !p.expiry.IsZero() && time.Until(p.expiry) < refreshMargin
	refresh := p.refresh
	p.mu.Unlock()

	if !stale || refresh == nil {
		return token, nil
	}

	fresh, err := refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: refresh token: %w", err)
	}
	if err := p.adopt(fresh); err != nil {
		return "", err
	}
	return fresh, nil
}
