// Package auth provides the narrow "current user" integration point. The
// full identity subsystem lives elsewhere; this middleware only validates
// access tokens and exposes the user id and role on the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/shoptk/backend-shoptk/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware validates bearer tokens and wires authentication context into handlers.
type Middleware struct {
	Secret    string
	ClockSkew time.Duration
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticate(r)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin enforces an authenticated token carrying the admin role.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !common.IsAdmin(r.Context()) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (m Middleware) authenticate(r *http.Request) (context.Context, error) {
	token := extractToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, []byte(m.Secret)),
		jwt.WithValidate(true),
	}
	if m.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(m.ClockSkew))
	}
	tok, err := jwt.ParseString(token, options...)
	if err != nil {
		return r.Context(), err
	}
	sub := strings.TrimSpace(tok.Subject())
	if sub == "" {
		return r.Context(), errors.New("auth: token missing subject")
	}
	ctx := common.WithUserID(r.Context(), sub)
	if role, ok := tok.Get("role"); ok {
		if s, ok := role.(string); ok {
			ctx = common.WithRole(ctx, s)
		}
	}
	return ctx, nil
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
