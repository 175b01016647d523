package ipguard

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// AddressState is the failure window and block stored for one address. A nil
// field means nothing is stored; a field left nil when the state is written
// back is deleted. A zero TTL keeps whatever expiry the stored entry has.
type AddressState struct {
	Window    *models.FailureWindow
	WindowTTL time.Duration
	Block     *models.BlockRecord
	BlockTTL  time.Duration
}

// UpdateFunc edits state in place and reports whether it should be written
// back. It may be called more than once for a single Update.
type UpdateFunc func(state *AddressState) (bool, error)

// Store is the key-value layer behind the guard. Expiry decisions are made by
// the guard against its own clock; TTLs are garbage-collection hints that may
// be ignored. Every read-modify-write of an address goes through Update, which
// must be atomic against other callers of the same store, including other
// processes.
type Store interface {
	Update(ctx context.Context, ip string, fn UpdateFunc) error
	DeleteWindow(ctx context.Context, ip string) error
	ListWindows(ctx context.Context) ([]*models.FailureWindow, error)
	ListBlocks(ctx context.Context) ([]*models.BlockRecord, error)

	RegistrationCount(ctx context.Context, ip string) (int, error)
	IncrRegistrations(ctx context.Context, ip string) (int, error)
	// ReserveRegistration increments the counter for ip only if it is below
	// limit, and reports whether it did
	ReserveRegistration(ctx context.Context, ip string, limit int) (bool, error)
	// ReleaseRegistration returns a reserved slot. The counter never drops
	// below zero.
	ReleaseRegistration(ctx context.Context, ip string) error

	Ping(ctx context.Context) error
	Close() error
}

func cloneWindow(w *models.FailureWindow) *models.FailureWindow {
	c := *w
	c.Timestamps = append([]time.Time(nil), w.Timestamps...)
	c.AttemptedEmails = append([]string(nil), w.AttemptedEmails...)
	return &c
}

func cloneBlock(b *models.BlockRecord) *models.BlockRecord {
	c := *b
	c.AttemptedEmails = append([]string(nil), b.AttemptedEmails...)
	return &c
}
