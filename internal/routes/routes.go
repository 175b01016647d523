package routes

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const healthTimeout = 2 * time.Second

// reservedAuthPaths cannot be reused as extra decoys
var reservedAuthPaths = map[string]bool{"login": true, "register": true, "honeypot": true}

// Blocklist is what the router needs from the block registry
type Blocklist interface {
	middleware.BlockChecker
	middleware.HoneypotTrap
}

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies holds everything RegisterRoutes mounts
type Dependencies struct {
	Env            string
	AllowedOrigins []string
	IPResolver     *pkghttp.IPResolver
	Logger         *slog.Logger

	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	Blocklist    Blocklist

	TokenManager *auth.TokenManager
	Users        auth.UserRepository

	LoginLimit middleware.RateLimitConfig
	AuthLimit  middleware.RateLimitConfig

	AllowRegistration bool
	HoneypotPaths     []string

	HealthChecks map[string]HealthCheck
	// Metrics is served on /metrics when non-nil
	Metrics http.Handler
}

// NewRouter builds the chi router with the global middleware stack and all
// application routes
func NewRouter(deps Dependencies) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.ClientIP(deps.IPResolver))
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: deps.Env}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.AllowedOrigins)))
	router.Use(middleware.SecureLogger(deps.Logger))
	router.Use(chimiddleware.Recoverer)

	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", healthHandler(deps.HealthChecks))
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	gate := middleware.BlockGate(deps.Blocklist, deps.Logger)
	honeypot := middleware.Honeypot(deps.Blocklist)

	router.Route("/auth", func(r chi.Router) {
		r.With(gate, middleware.RateLimitByClientIP(deps.LoginLimit)).Post("/login", deps.AuthHandler.Login)

		// The decoy is not gated; a blocked caller still gets a plain 200
		r.Post("/honeypot", honeypot)

		if deps.AllowRegistration {
			r.With(gate, middleware.RateLimitByClientIP(deps.AuthLimit)).Post("/register", deps.AuthHandler.Register)
		}

		for _, path := range deps.HoneypotPaths {
			if sub, ok := strings.CutPrefix(path, "/auth/"); ok && !reservedAuthPaths[sub] {
				r.HandleFunc("/"+sub, honeypot)
			}
		}
	})

	for _, path := range deps.HoneypotPaths {
		if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "/auth/") || strings.HasPrefix(path, "/admin") {
			continue
		}
		if path == "/health" || path == "/metrics" {
			continue
		}
		router.HandleFunc(path, honeypot)
	}

	router.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Users, deps.Logger))
		r.Use(auth.RequireSuperuser)

		r.Get("/blocked-ips", deps.AdminHandler.ListBlockedIPs)
		r.Post("/unblock-ip/{ip}", deps.AdminHandler.UnblockIP)
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "healthy", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "down"
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "up"
		}

		pkghttp.WriteJSON(w, status, resp)
	}
}
