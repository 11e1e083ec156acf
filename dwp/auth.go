package dwp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = errors.New("dwp: unauthorized")

// Scopes granted to identities. A method needs the scope RequiredScope
// names for it.
const (
	ScopeJobRead   = "job:read"
	ScopeJobWrite  = "job:write"
	ScopeSubscribe = "subscribe"
	ScopeStatsRead = "stats:read"
	ScopeAdmin     = "admin"
	ScopeAll       = "*"
)

// Identity is an authenticated caller: a shop-floor tablet, an operator
// console or a service.
type Identity struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes,omitempty"`
}

// HasScope reports whether the identity holds scope, directly or through
// the wildcard.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// Allows reports whether the identity may call method.
func (id *Identity) Allows(method string) bool {
	need := RequiredScope(method)
	return need == "" || id.HasScope(need)
}

// RequiredScope returns the scope a DWP method needs, or "" for auth.
// Reads need job:read; anything touching a job, sheet or recut needs
// job:write. Unknown methods need admin.
func RequiredScope(method string) string {
	switch method {
	case MethodAuth:
		return ""
	case MethodJobGet, MethodJobList:
		return ScopeJobRead
	case MethodSubscribe, MethodUnsubscribe:
		return ScopeSubscribe
	case MethodStats:
		return ScopeStatsRead
	}
	for _, prefix := range []string{"job.", "sheet.", "recut."} {
		if strings.HasPrefix(method, prefix) {
			return ScopeJobWrite
		}
	}
	return ScopeAdmin
}

// Authenticator validates a token and returns the identity behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// APIKeyEntry maps one API key to an identity. Set either Token or
// Digest, the hex SHA-256 of the token, so config files need not hold
// keys in clear text.
type APIKeyEntry struct {
	Token    string
	Digest   string
	Identity Identity
}

// APIKeyAuthenticator validates API keys against a static list. Only key
// digests are kept in memory.
type APIKeyAuthenticator struct {
	keys map[string]*Identity
}

// NewAPIKeyAuthenticator builds an authenticator from entries. Entries
// with neither a token nor a digest are ignored.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	keys := make(map[string]*Identity, len(entries))
	for _, e := range entries {
		digest := strings.ToLower(e.Digest)
		if digest == "" {
			if e.Token == "" {
				continue
			}
			digest = KeyDigest(e.Token)
		}
		ident := e.Identity
		keys[digest] = &ident
	}
	return &APIKeyAuthenticator{keys: keys}
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	ident, ok := a.keys[KeyDigest(token)]
	if !ok {
		return nil, ErrUnauthorized
	}
	return ident, nil
}

// KeyDigest returns the hex SHA-256 digest of an API key.
func KeyDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NoopAuthenticator accepts every token with a wildcard identity. It is
// what a server without configured keys uses; keep it off shared networks.
type NoopAuthenticator struct{}

// Authenticate implements Authenticator.
func (NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: "anonymous", Scopes: []string{ScopeAll}}, nil
}
