package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/ipguard"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/notify"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Environment),
		slog.String("store", cfg.IPGuard.Store),
		slog.Bool("registration", cfg.Auth.AllowRegistration),
	)

	ctx := context.Background()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	userRepo := repositories.NewUserRepository(db)

	// Guard state store
	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize ip guard store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Block event receivers
	var (
		securityMetrics services.SecurityMetrics
		gauge           background.ActiveBlocksGauge
		metricsHandler  http.Handler
		hooks           []ipguard.Hook
	)
	if cfg.Metrics.Enabled {
		m := metrics.New()
		securityMetrics = m
		gauge = m
		metricsHandler = m.Handler()
		hooks = append(hooks, m)
	}

	var publisher *notify.Publisher
	if cfg.RabbitMQ.URL != "" {
		publisher, err = notify.NewPublisher(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", slog.Any("error", err))
			os.Exit(1)
		}
		defer publisher.Close()
		hooks = append(hooks, publisher)
	}

	if len(cfg.Alert.EmailTo) > 0 {
		alerts, err := services.NewBlockAlertService(ctx, cfg.Alert.AWSRegion, cfg.Alert.EmailFrom, cfg.Alert.EmailTo, logger)
		if err != nil {
			logger.Error("failed to initialize block alerts", slog.Any("error", err))
			os.Exit(1)
		}
		hooks = append(hooks, alerts)
	}

	guard := ipguard.NewGuard(store, cfg.IPGuard.GuardConfig(), logger, ipguard.WithHooks(hooks...))
	throttle := ipguard.NewRegistrationThrottle(store, cfg.IPGuard.MaxRegistrationsPerIP)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingFloor := auth.NewTimingFloor(cfg.IPGuard.TimingConfig())
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Initialize services
	authService := services.NewAuthService(userRepo, guard, throttle, tokenManager, timingFloor, securityMetrics, logger, auditLogger)
	blocklistService := services.NewBlocklistService(guard, securityMetrics, logger, auditLogger)

	// Bootstrap first admin user if configured
	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	router := routes.NewRouter(routes.Dependencies{
		Env:               cfg.Environment,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		IPResolver:        pkghttp.NewIPResolver(cfg.IPGuard.IPConfig()),
		Logger:            logger,
		AuthHandler:       handlers.NewAuthHandler(authService, logger),
		AdminHandler:      handlers.NewAdminHandler(blocklistService),
		Blocklist:         blocklistService,
		TokenManager:      tokenManager,
		Users:             userRepo,
		LoginLimit:        cfg.RateLimit.LoginLimit(),
		AuthLimit:         cfg.RateLimit.AuthLimit(),
		AllowRegistration: cfg.Auth.AllowRegistration,
		HoneypotPaths:     cfg.IPGuard.HoneypotPaths,
		HealthChecks: map[string]routes.HealthCheck{
			"database": db.HealthCheck,
			"store":    store.Ping,
		},
		Metrics: metricsHandler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start sweeper
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()

	var cleanupManager *background.CleanupManager
	if cfg.IPGuard.SweepInterval > 0 {
		cleanupManager = background.NewCleanupManager(guard, gauge, logger, cfg.IPGuard.SweepInterval)
		go cleanupManager.Start(cleanupCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	if cleanupManager != nil {
		cleanupManager.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Let in-flight block notifications finish before their sinks close
	guard.Wait()

	logger.Info("server stopped gracefully")
}

func newStore(ctx context.Context, cfg *config.Config) (ipguard.Store, error) {
	if cfg.IPGuard.Store == config.StoreRedis {
		store, err := ipguard.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return ipguard.NewMemoryStore(), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first superuser if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, email, password string, logger *slog.Logger) error {
	if email == "" || password == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = userRepo.Create(ctx, &models.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hashedPassword,
		FullName:     "Admin",
		IsActive:     true,
		IsSuperuser:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
