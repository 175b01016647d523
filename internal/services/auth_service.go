package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// UserRepository defines the user persistence the services rely on
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// FailureTracker records login outcomes per client address
type FailureTracker interface {
	// RecordFailure returns the block covering ip, if any, and whether this
	// failure is the one that created it
	RecordFailure(ctx context.Context, ip, userAgent, email string) (*models.BlockRecord, bool, error)
	Clear(ctx context.Context, ip string) error
}

// RegistrationGate caps self-registration per client address
type RegistrationGate interface {
	Admit(ctx context.Context, ip string, create func() error) error
	Count(ctx context.Context, ip string) (int, error)
	MaxPerIP() int
}

// SecurityMetrics receives login and trap outcomes
type SecurityMetrics interface {
	ObserveLogin(outcome string, elapsed time.Duration)
	RegistrationDenied()
	HoneypotHit()
}

type noopMetrics struct{}

func (noopMetrics) ObserveLogin(string, time.Duration) {}
func (noopMetrics) RegistrationDenied()                {}
func (noopMetrics) HoneypotHit()                       {}

// Login outcomes reported to SecurityMetrics
const (
	LoginSuccess   = "success"
	LoginInvalid   = "invalid_credentials"
	LoginInactive  = "inactive"
	LoginMalformed = "malformed"
	LoginError     = "error"
)

// LoginInput carries one login attempt
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// RegisterInput carries one self-registration
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	IP       string
}

// AuthService handles authentication business logic
type AuthService struct {
	repo          UserRepository
	tracker       FailureTracker
	registrations RegistrationGate
	tm            *auth.TokenManager
	timing        *auth.TimingFloor
	metrics       SecurityMetrics
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
	dummyHash     string
}

// NewAuthService creates a new AuthService. metrics may be nil.
func NewAuthService(
	repo UserRepository,
	tracker FailureTracker,
	registrations RegistrationGate,
	tm *auth.TokenManager,
	timing *auth.TimingFloor,
	metrics SecurityMetrics,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AuthService{
		repo:          repo,
		tracker:       tracker,
		registrations: registrations,
		tm:            tm,
		timing:        timing,
		metrics:       metrics,
		logger:        logger,
		auditLogger:   auditLogger,
		dummyHash:     pkgauth.DummyHash(),
	}
}

// Login verifies credentials and issues an access token. The credential
// check never returns before the timing floor, whatever its outcome. Callers
// must reject blocked addresses before calling Login.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.TokenResponse, error) {
	start := time.Now()
	email := normalizeEmail(in.Email)

	user, err := auth.WithFloor(s.timing, func() (*models.User, error) {
		return s.verifyCredentials(ctx, email, in.Password)
	})

	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidCredentials):
		s.recordFailure(ctx, in, email, LoginInvalid, "")
		s.metrics.ObserveLogin(LoginInvalid, time.Since(start))
		return nil, models.ErrInvalidCredentials
	case errors.Is(err, models.ErrInactiveUser):
		s.recordFailure(ctx, in, email, LoginInactive, user.ID)
		s.metrics.ObserveLogin(LoginInactive, time.Since(start))
		return nil, models.ErrInactiveUser
	default:
		s.logger.Error("credential check failed", slog.String("error", err.Error()))
		s.metrics.ObserveLogin(LoginError, time.Since(start))
		return nil, models.ErrInternalServer
	}

	token, err := s.tm.GenerateAccessToken(user.ID, 0)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		s.metrics.ObserveLogin(LoginError, time.Since(start))
		return nil, models.ErrInternalServer
	}

	if err := s.tracker.Clear(ctx, in.IP); err != nil {
		s.logger.Error("failed to clear failed attempts", slog.String("ip", in.IP), slog.String("error", err.Error()))
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login",
		UserID:    user.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Success:   true,
	})
	s.metrics.ObserveLogin(LoginSuccess, time.Since(start))

	return &models.TokenResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// RecordMalformedLogin counts an unparseable login request as a failure
func (s *AuthService) RecordMalformedLogin(ctx context.Context, ip, userAgent, email string) {
	s.recordFailure(ctx, LoginInput{IP: ip, UserAgent: userAgent}, normalizeEmail(email), LoginMalformed, "")
	s.metrics.ObserveLogin(LoginMalformed, 0)
}

// verifyCredentials performs lookup, password comparison and the active
// check. Unknown accounts still pay for one bcrypt comparison.
func (s *AuthService) verifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(s.dummyHash, password)
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	if !user.IsActive {
		return user, models.ErrInactiveUser
	}
	return user, nil
}

func (s *AuthService) recordFailure(ctx context.Context, in LoginInput, email, reason, userID string) {
	block, created, err := s.tracker.RecordFailure(ctx, in.IP, in.UserAgent, email)
	if err != nil {
		s.logger.Error("failed to record failed attempt", slog.String("ip", in.IP), slog.String("error", err.Error()))
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		Email:         email,
		IPAddress:     in.IP,
		UserAgent:     in.UserAgent,
		FailureReason: reason,
	})

	if created {
		s.auditLogger.LogBlock(pkglogger.BlockEvent{
			IPAddress:       block.IP,
			Reason:          string(block.Reason),
			BlockedUntil:    block.BlockedUntil,
			FailedAttempts:  block.FailedAttemptsCount,
			UserAgent:       block.UserAgent,
			AttemptedEmails: block.AttemptedEmails,
		})
	}
}

// Register creates an inactive account, at most MaxRegistrationsPerIP per
// client address. An administrator activates it later.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	hash, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	var created *models.User
	err = s.registrations.Admit(ctx, in.IP, func() error {
		u, err := s.repo.Create(ctx, &models.User{
			Email:        normalizeEmail(in.Email),
			PasswordHash: hash,
			FullName:     strings.TrimSpace(in.FullName),
			IsActive:     false,
		})
		created = u
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, models.ErrRegistrationLimit):
		count, _ := s.registrations.Count(ctx, in.IP)
		s.auditLogger.LogRegistrationDenied(in.IP, count)
		s.metrics.RegistrationDenied()
		return nil, models.ErrRegistrationLimit
	case errors.Is(err, models.ErrConflict):
		return nil, models.ErrConflict
	default:
		s.logger.Error("failed to register user", slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID), slog.String("ip", in.IP))
	return created, nil
}

// MaxRegistrationsPerIP returns the per-address registration cap
func (s *AuthService) MaxRegistrationsPerIP() int {
	return s.registrations.MaxPerIP()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
