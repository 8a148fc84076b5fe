// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"motionboard/pkg/config"
	"motionboard/pkg/problems"
)

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu    sync.RWMutex
	sets  map[string]cachedJWKS
	fetch func(ctx context.Context, url string) (jwk.Set, error)
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	fetch := c.fetch
	if fetch == nil {
		fetch = func(ctx context.Context, url string) (jwk.Set, error) { return jwk.Fetch(ctx, url) }
	}
	set, err := fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

type subjectCtxKey struct{}

// SubjectFrom returns the verified token subject, or "" for anonymous dev requests.
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectCtxKey{}).(string)
	return s
}

// BearerAuth verifies device bearer tokens against the configured JWKS.
// Health, metrics and discovery paths are public. In dev, requests without an
// Authorization header pass through so devices can be brought up locally.
func BearerAuth(cfg config.Config, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return bearerAuth(cfg, log, &jwksCache{})
}

func bearerAuth(cfg config.Config, log *zap.SugaredLogger, cache *jwksCache) func(http.Handler) http.Handler {
	jwksTTL := 6 * time.Hour
	issuer := strings.TrimRight(cfg.Issuer, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/", "/health", "/healthz", "/metrics", "/openapi.json":
				next.ServeHTTP(w, r)
				return
			}
			authz := r.Header.Get("Authorization")
			if cfg.Env == "dev" && strings.TrimSpace(authz) == "" {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.JWKSURL == "" {
				if cfg.Env == "dev" {
					next.ServeHTTP(w, r)
					return
				}
				problems.Write(w, problems.New(http.StatusInternalServerError, "auth-not-configured", "Auth not configured", "JWKS_URL is not set"))
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				problems.Write(w, problems.New(http.StatusUnauthorized, "missing-bearer", "Missing bearer token", ""))
				return
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])

			set, err := cache.get(r.Context(), cfg.JWKSURL, jwksTTL)
			if err != nil {
				log.Warnw("jwks fetch failed", "url", cfg.JWKSURL, "err", err)
				problems.Write(w, problems.New(http.StatusInternalServerError, "jwks-unavailable", "JWKS fetch failed", ""))
				return
			}
			parseOpts := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true), jwt.WithVerify(true), jwt.WithAcceptableSkew(cfg.AuthClockSkew)}
			if issuer != "" {
				parseOpts = append(parseOpts, jwt.WithIssuer(issuer))
			}
			if cfg.Audience != "" {
				parseOpts = append(parseOpts, jwt.WithAudience(cfg.Audience))
			}
			jt, err := jwt.Parse([]byte(raw), parseOpts...)
			if err != nil {
				problems.Write(w, problems.New(http.StatusUnauthorized, "invalid-token", "Invalid token", err.Error()))
				return
			}
			ctx := context.WithValue(r.Context(), subjectCtxKey{}, jt.Subject())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
