package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultLoginRateLimit returns the login limit for env
func DefaultLoginRateLimit(env string) RateLimitConfig {
	if env == "production" {
		return RateLimitConfig{Requests: 3, Window: 5 * time.Minute}
	}
	return RateLimitConfig{Requests: 5, Window: 5 * time.Minute}
}

// DefaultAuthRateLimit returns the limit for the other auth endpoints
func DefaultAuthRateLimit(env string) RateLimitConfig {
	if env == "production" {
		return RateLimitConfig{Requests: 5, Window: time.Minute}
	}
	return RateLimitConfig{Requests: 10, Window: time.Minute}
}

// RateLimitByClientIP limits requests per resolved client address. It must
// run after ClientIP so that the limit and the guard agree on the key.
func RateLimitByClientIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return GetClientIP(r.Context()), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
