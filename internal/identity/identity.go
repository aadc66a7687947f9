// Package identity resolves the calling user from the session cookie.
package identity

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/botdash/internal/domain"
)

const (
	// CookieName is the session cookie carrying the bearer token.
	CookieName = "session"
)

type contextKey int

const (
	userKey contextKey = iota
	tokenKey
)

var tokenPattern = regexp.MustCompile(`^[a-f0-9]{16,128}$`)

// Resolver maps a session token to a user. nil means anonymous.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// UserFromContext returns the authenticated caller, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// TokenFromContext returns the raw session token sent by the caller, if any.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying user. Handlers read it with UserFromContext.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// TokenFromRequest extracts a well-formed session token from the cookie header.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil || !tokenPattern.MatchString(c.Value) {
		return ""
	}
	return c.Value
}

// SetSessionCookie issues the session cookie. A positive ttl bounds its lifetime.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = time.Now().Add(ttl)
	}
	http.SetCookie(w, c)
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
	})
}

// Middleware resolves the caller from the session cookie and stores it in the
// request context. A missing or unknown session leaves the caller anonymous
// and each handler decides whether authentication is required. A resolver
// error fails the request with 500.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				slog.Error("Failed to resolve session", "path", r.URL.Path, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":false,"message":"internal error"}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), tokenKey, token)
			if user != nil {
				ctx = context.WithValue(ctx, userKey, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
