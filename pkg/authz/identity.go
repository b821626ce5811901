package authz

import (
	"context"
	"net/http"
	"strings"
)

// AnonymousPrincipal is the principal assumed when a request carries no
// identity header. It never appears in ACL entries, so anonymous callers
// see nothing.
const AnonymousPrincipal = "anonymous"

// principalCtxKey is an unexported type used as the context key for the
// request principal.
type principalCtxKey struct{}

// WithPrincipal returns a new context with the given principal attached.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, principal)
}

// CurrentPrincipalID returns the principal attached to the context, or
// AnonymousPrincipal when none is set.
func CurrentPrincipalID(ctx context.Context) string {
	if principal, ok := ctx.Value(principalCtxKey{}).(string); ok && principal != "" {
		return principal
	}
	return AnonymousPrincipal
}

// IdentityMiddleware returns HTTP middleware that extracts the principal
// from the X-Remote-User header and stores it in the request context.
// Upstream authentication (reverse proxy, oauth2-proxy) is expected to set
// the header; a missing header maps to AnonymousPrincipal.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := strings.TrimSpace(r.Header.Get("X-Remote-User"))
			if principal == "" {
				principal = AnonymousPrincipal
			}
			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
