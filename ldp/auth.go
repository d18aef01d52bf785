package ldp

import (
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// AuthProvider produces the Authorization header value for repository
// requests. Implementations must be safe for concurrent use.
type AuthProvider interface {
	Credentials() (string, error)
}

// BearerAuth sends a static bearer token.
type BearerAuth struct {
	Token string
}

// Credentials returns the bearer header value.
func (b BearerAuth) Credentials() (string, error) {
	return "Bearer " + b.Token, nil
}

// jwtTTL is the lifetime of tokens minted from a shared secret. Tokens are
// re-minted shortly before expiry so that long jobs never send a stale one.
const jwtTTL = time.Hour

// JWTSecretAuth mints short-lived HS256 tokens from a shared secret, the
// scheme used by Fedora's resource-auth setup.
type JWTSecretAuth struct {
	secret []byte

	mu      sync.Mutex
	header  string
	expires time.Time
}

// NewJWTSecretAuth returns a provider minting tokens signed with secret.
func NewJWTSecretAuth(secret string) *JWTSecretAuth {
	return &JWTSecretAuth{secret: []byte(secret)}
}

// Credentials returns a bearer header with a currently valid token,
// minting a fresh one when the cached token is within a minute of expiry.
func (a *JWTSecretAuth) Credentials() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.header != "" && time.Until(a.expires) > time.Minute {
		return a.header, nil
	}

	now := time.Now()
	expires := now.Add(jwtTTL)
	token, err := jwt.NewBuilder().
		Issuer("plastron").
		Subject("plastrond").
		IssuedAt(now).
		Expiration(expires).
		Claim("role", "fedoraAdmin").
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build JWT: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	a.header = "Bearer " + string(signed)
	a.expires = expires
	return a.header, nil
}
