package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const maxAuthBodyBytes = 64 << 10

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*models.TokenResponse, error)
	RecordMalformedLogin(ctx context.Context, ip, userAgent, email string)
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	MaxRegistrationsPerIP() int
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// LoginRequest is the OAuth2 password-grant form. Username carries the email.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"max=255"`
}

// Login handles POST /auth/login. The body may be JSON or a url-encoded form.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := middleware.GetClientIP(ctx)
	userAgent := r.UserAgent()

	req, err := decodeLoginRequest(w, r)
	if err == nil {
		err = ValidateRequest(req)
	}
	if err != nil {
		h.logger.Debug("malformed login request", slog.String("ip", ip), slog.String("error", err.Error()))
		h.service.RecordMalformedLogin(ctx, ip, userAgent, req.Username)
		pkghttp.WriteBadRequest(w, "Invalid login request")
		return
	}

	resp, err := h.service.Login(ctx, services.LoginInput{
		Email:     req.Username,
		Password:  req.Password,
		IP:        ip,
		UserAgent: userAgent,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeInvalidCredentials, "Incorrect email or password")
		case errors.Is(err, models.ErrInactiveUser):
			pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeInactiveAccount, "Your account is inactive")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// decodeLoginRequest reads either body encoding. The returned request is
// usable even on error so the attempted username can still be recorded.
func decodeLoginRequest(w http.ResponseWriter, r *http.Request) (LoginRequest, error) {
	var req LoginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxAuthBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return req, fmt.Errorf("parse form: %w", err)
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
		return req, nil
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("decode json: %w", err)
		}
		return req, nil
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		IP:       middleware.GetClientIP(r.Context()),
	})
	if err != nil {
		var pve *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pve):
			pkghttp.WriteBadRequest(w, pve.Error())
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid request body")
		case errors.Is(err, models.ErrRegistrationLimit):
			pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeRegistrationLimit, fmt.Sprintf(
				"Registration limit reached: at most %d accounts can be registered from one IP address. Please contact support.",
				h.service.MaxRegistrationsPerIP()))
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "User with this email already exists")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, user.Public())
}
