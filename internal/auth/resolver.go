// Package auth resolves backend credentials through a fixed precedence
// chain: explicit session key, then configured environment variables in
// order, then the OAuth manager when enabled. OAuth acquisition is lazy;
// it runs only when everything ahead of it in the chain came up empty.
package auth

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Method names for diagnostics.
const (
	MethodSessionKey = "session-key"
	MethodOAuth      = "oauth"
	MethodNone       = "none"
)

// DefaultCacheTTL is how long a resolved credential stays cached before
// the chain is walked again.
const DefaultCacheTTL = 60 * time.Second

// Credential is the outcome of one resolution. Method is MethodNone when
// the whole chain came up empty; resolution itself never errors.
type Credential struct {
	Token  string
	Method string
}

// Empty reports whether the chain produced no usable credential.
func (c Credential) Empty() bool {
	return c.Token == ""
}

// OAuthManager acquires tokens out-of-band. GetToken may trigger an
// interactive device or browser flow.
type OAuthManager interface {
	GetToken(ctx context.Context, providerID string) (*oauth2.Token, error)
	IsAuthenticated(providerID string) bool
}

// ProviderAuth configures the chain for one provider identity.
type ProviderAuth struct {
	// EnvVars are environment variable names checked in order.
	EnvVars []string
	// OAuthEnabled gates the OAuth fallback for this provider.
	OAuthEnabled bool
}

// Resolver walks the credential precedence chain per provider. Safe for
// concurrent use; its only mutable state is the session keys and the
// short-lived credential cache.
type Resolver struct {
	mu        sync.Mutex
	providers map[string]ProviderAuth
	sessions  map[string]string
	cache     map[string]cachedCredential
	oauth     OAuthManager
	cacheTTL  time.Duration
	logger    *slog.Logger

	// test seams
	now       func() time.Time
	lookupEnv func(string) string
}

type cachedCredential struct {
	cred    Credential
	expires time.Time
}

// NewResolver creates a resolver over the given per-provider chain
// configuration. oauth may be nil when no provider enables it.
func NewResolver(providers map[string]ProviderAuth, oauth OAuthManager, logger *slog.Logger) *Resolver {
	if providers == nil {
		providers = map[string]ProviderAuth{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		providers: providers,
		sessions:  map[string]string{},
		cache:     map[string]cachedCredential{},
		oauth:     oauth,
		cacheTTL:  DefaultCacheTTL,
		logger:    logger,
		now:       time.Now,
		lookupEnv: os.Getenv,
	}
}

// SetSessionKey installs an explicit per-session credential and
// invalidates any cached resolution for the provider.
func (r *Resolver) SetSessionKey(providerID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == "" {
		delete(r.sessions, providerID)
	} else {
		r.sessions[providerID] = key
	}
	delete(r.cache, providerID)
}

// Invalidate drops the cached credential for a provider.
func (r *Resolver) Invalidate(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, providerID)
}

// Resolve walks the chain and returns the first non-empty credential, or
// a MethodNone credential when all sources fail. Results are cached for
// the TTL window so a burst of requests does not re-trigger OAuth.
func (r *Resolver) Resolve(ctx context.Context, providerID string) Credential {
	r.mu.Lock()
	if entry, ok := r.cache[providerID]; ok && r.now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.cred
	}
	sessionKey := r.sessions[providerID]
	cfg := r.providers[providerID]
	r.mu.Unlock()

	cred := r.walkChain(ctx, providerID, sessionKey, cfg)

	// The cache exists to absorb repeat resolutions of a working
	// credential, not to pin a failure: an empty result is never cached,
	// so a credential that appears in the environment is picked up on the
	// very next resolution.
	if !cred.Empty() {
		r.mu.Lock()
		r.cache[providerID] = cachedCredential{cred: cred, expires: r.now().Add(r.cacheTTL)}
		r.mu.Unlock()
	}
	return cred
}

func (r *Resolver) walkChain(ctx context.Context, providerID, sessionKey string, cfg ProviderAuth) Credential {
	if sessionKey != "" {
		return Credential{Token: sessionKey, Method: MethodSessionKey}
	}
	for _, name := range cfg.EnvVars {
		if value := r.lookupEnv(name); value != "" {
			return Credential{Token: value, Method: "env:" + name}
		}
	}
	if cfg.OAuthEnabled && r.oauth != nil {
		token, err := r.oauth.GetToken(ctx, providerID)
		if err != nil {
			r.logger.Debug("oauth token acquisition failed", "provider", providerID, "error", err)
		} else if token != nil && token.AccessToken != "" {
			return Credential{Token: token.AccessToken, Method: MethodOAuth}
		}
	}
	return Credential{Method: MethodNone}
}

// AuthMethodName reports which chain link would satisfy a resolution
// right now, without triggering an OAuth flow.
func (r *Resolver) AuthMethodName(providerID string) string {
	r.mu.Lock()
	sessionKey := r.sessions[providerID]
	cfg := r.providers[providerID]
	r.mu.Unlock()

	if sessionKey != "" {
		return MethodSessionKey
	}
	for _, name := range cfg.EnvVars {
		if r.lookupEnv(name) != "" {
			return "env:" + name
		}
	}
	if cfg.OAuthEnabled && r.oauth != nil && r.oauth.IsAuthenticated(providerID) {
		return MethodOAuth
	}
	return MethodNone
}

// IsOAuthOnlyAvailable reports whether OAuth is the sole viable source:
// enabled and authenticated, with no session key and no populated env var.
func (r *Resolver) IsOAuthOnlyAvailable(providerID string) bool {
	r.mu.Lock()
	sessionKey := r.sessions[providerID]
	cfg := r.providers[providerID]
	r.mu.Unlock()

	if sessionKey != "" {
		return false
	}
	for _, name := range cfg.EnvVars {
		if r.lookupEnv(name) != "" {
			return false
		}
	}
	return cfg.OAuthEnabled && r.oauth != nil && r.oauth.IsAuthenticated(providerID)
}
