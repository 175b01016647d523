package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const testIP = "203.0.113.7"

// MockAuthService implements handlers.AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc    func(ctx context.Context, in services.LoginInput) (*models.TokenResponse, error)
	RegisterFunc func(ctx context.Context, in services.RegisterInput) (*models.User, error)
	MaxPerIP     int

	Malformed []services.LoginInput
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.TokenResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) RecordMalformedLogin(_ context.Context, ip, userAgent, email string) {
	m.Malformed = append(m.Malformed, services.LoginInput{Email: email, IP: ip, UserAgent: userAgent})
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*models.User, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) MaxRegistrationsPerIP() int {
	return m.MaxPerIP
}

// MockBlocklistService implements handlers.BlocklistServiceInterface for testing
type MockBlocklistService struct {
	ListBlockedFunc func(ctx context.Context) (*models.BlockedIPsResponse, error)
	UnblockFunc     func(ctx context.Context, ip, adminID string) error
}

func (m *MockBlocklistService) ListBlocked(ctx context.Context) (*models.BlockedIPsResponse, error) {
	if m.ListBlockedFunc != nil {
		return m.ListBlockedFunc(ctx)
	}
	return &models.BlockedIPsResponse{BlockedIPs: []models.BlockedIPResponse{}}, nil
}

func (m *MockBlocklistService) Unblock(ctx context.Context, ip, adminID string) error {
	if m.UnblockFunc != nil {
		return m.UnblockFunc(ctx, ip, adminID)
	}
	return models.ErrNotFound
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates a JSON request from testIP
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test/1.0")
	return req.WithContext(middleware.WithClientIP(req.Context(), testIP))
}

// WithUser adds an authenticated user to the request context
func WithUser(req *http.Request, user *models.User) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, user))
}

// AssertJSONResponse checks the status and decodes the body into target
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target))
	}
}

// AssertErrorResponse checks the status, error code and message
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, code, message string) {
	t.Helper()
	var resp pkghttp.ErrorResponse
	AssertJSONResponse(t, w, expectedStatus, &resp)
	assert.Equal(t, code, resp.Error)
	if message != "" {
		assert.Equal(t, message, resp.Message)
	}
}
