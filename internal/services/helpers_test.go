package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

// recordingMetrics counts SecurityMetrics calls
type recordingMetrics struct {
	mu                 sync.Mutex
	logins             map[string]int
	registrationDenied int
	honeypotHits       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{logins: make(map[string]int)}
}

func (m *recordingMetrics) ObserveLogin(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[outcome]++
}

func (m *recordingMetrics) RegistrationDenied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrationDenied++
}

func (m *recordingMetrics) HoneypotHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.honeypotHits++
}

func (m *recordingMetrics) Logins(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins[outcome]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastHash hashes at the minimum bcrypt cost to keep tests quick
func fastHash(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

// NewTestUser creates a test user with a known password
func NewTestUser(id, email, password string, active bool) *models.User {
	now := time.Now()
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: fastHash(password),
		FullName:     "Test User",
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
