package middleware

import (
	"context"
	"log/slog"
	"net/http"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// BlockChecker answers whether an address is blocked and with which message
type BlockChecker interface {
	CheckBlocked(ctx context.Context, ip string) (string, bool, error)
}

// BlockGate rejects requests from blocked addresses with 403 before they
// reach the handler. A store failure is logged and the request continues.
func BlockGate(checker BlockChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r.Context())

			message, blocked, err := checker.CheckBlocked(r.Context(), ip)
			if err != nil {
				logger.Error("block check failed", slog.String("ip", ip), slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if blocked {
				logger.Info("request from blocked ip rejected", slog.String("ip", ip), slog.String("path", r.URL.Path))
				pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeIPBlocked, message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
