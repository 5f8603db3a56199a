package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type apiKeyCtxKey struct{}

// APIKeyFrom returns the authenticated API key stored by APIKeyAuth.
func APIKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyCtxKey{}).(string)
	return key
}

// APIKeyAuth checks the Authorization: Bearer or X-API-Key header against a
// fixed key set.
type APIKeyAuth struct {
	keys     [][]byte
	disabled bool
	onDenied func(w http.ResponseWriter, r *http.Request)
}

// NewAPIKeyAuth accepts any of keys. With disabled set every request passes.
// onDenied writes the 401 response.
func NewAPIKeyAuth(keys []string, disabled bool, onDenied func(http.ResponseWriter, *http.Request)) *APIKeyAuth {
	a := &APIKeyAuth{disabled: disabled, onDenied: onDenied}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	if a.onDenied == nil {
		a.onDenied = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	return a
}

// Middleware enforces authentication.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.disabled {
			next.ServeHTTP(w, r)
			return
		}
		key := extractAPIKey(r)
		if key == "" || !a.valid(key) {
			a.onDenied(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyCtxKey{}, key)))
	})
}

// valid compares against every key in constant time.
func (a *APIKeyAuth) valid(candidate string) bool {
	ok := 0
	for _, k := range a.keys {
		ok |= subtle.ConstantTimeCompare([]byte(candidate), k)
	}
	return ok == 1
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
