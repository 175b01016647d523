package middleware

import (
	"context"
	"net/http"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIP resolves the client address once per request and stores it in the
// context for every later layer
func ClientIP(resolver *pkghttp.IPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolver.ClientIP(r)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
		})
	}
}

// GetClientIP returns the address stored by ClientIP, or "unknown"
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return pkghttp.UnknownIP
}

// WithClientIP returns a copy of ctx carrying ip
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
