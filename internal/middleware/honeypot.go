package middleware

import (
	"context"
	"net/http"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// HoneypotTrap blocks an address that touched a decoy path
type HoneypotTrap interface {
	TrapHoneypot(ctx context.Context, ip, path, userAgent string)
}

// Honeypot serves a decoy endpoint. Every request blocks the caller and gets
// the same 200 response, whatever the body or outcome.
func Honeypot(trap HoneypotTrap) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trap.TrapHoneypot(r.Context(), GetClientIP(r.Context()), r.URL.Path, r.UserAgent())
		pkghttp.WriteMessage(w, http.StatusOK, "OK")
	}
}
