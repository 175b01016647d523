// Package ipguard tracks failed logins per client address, converts repeated
// failures into time-limited blocks and caps self-registration per address.
package ipguard

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/pkg/errors"
)

// Config holds the guard thresholds
type Config struct {
	MaxFailedAttempts  int
	BlockDuration      time.Duration
	WindowPeriod       time.Duration
	HoneypotMultiplier int
	MaxAttemptedEmails int
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts:  5,
		BlockDuration:      time.Hour,
		WindowPeriod:       15 * time.Minute,
		HoneypotMultiplier: 2,
		MaxAttemptedEmails: 5,
	}
}

// HoneypotDuration is how long a decoy hit blocks an address
func (c Config) HoneypotDuration() time.Duration {
	return time.Duration(c.HoneypotMultiplier) * c.BlockDuration
}

// Guard is the failed-attempt tracker and block registry. Every per-address
// read-modify-write runs inside one Store.Update, so concurrent failures from
// the same address cannot both pass the threshold check, even when several
// processes share the store. The mutex orders mutations within a process.
type Guard struct {
	mu     sync.Mutex
	store  Store
	config Config
	hooks  []Hook
	logger *slog.Logger
	now    func() time.Time // for testing

	hookWG sync.WaitGroup
}

type Option func(*Guard)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithHooks registers block event receivers
func WithHooks(hooks ...Hook) Option {
	return func(g *Guard) { g.hooks = append(g.hooks, hooks...) }
}

func NewGuard(store Store, config Config, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the thresholds in effect
func (g *Guard) Config() Config {
	return g.config
}

// Now reads the guard clock
func (g *Guard) Now() time.Time {
	return g.now()
}

// RecordFailure counts a failed login from ip. When the failures inside the
// window reach the threshold the window is converted into a block, which is
// returned with created set. An address that is already blocked is left
// untouched and its block is returned with created unset.
func (g *Guard) RecordFailure(ctx context.Context, ip, userAgent, email string) (*models.BlockRecord, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var (
		block   *models.BlockRecord
		created bool
	)
	err := g.store.Update(ctx, ip, func(s *AddressState) (bool, error) {
		block, created = nil, false

		expire(s, now)
		if s.Block != nil {
			block = s.Block
			return false, nil
		}

		if s.Window == nil {
			s.Window = &models.FailureWindow{IP: ip}
		}
		s.Window.Prune(now, g.config.WindowPeriod)
		s.Window.Add(now, userAgent, normalizeEmail(email), g.config.MaxAttemptedEmails)

		if len(s.Window.Timestamps) < g.config.MaxFailedAttempts {
			s.WindowTTL = g.config.WindowPeriod
			return true, nil
		}

		rec, err := g.newBlock(ip, now, g.config.BlockDuration, models.BlockReasonRepeatedFailures, models.BlockMetadata{
			FailedAttemptsCount: len(s.Window.Timestamps),
			FirstAttemptTime:    s.Window.Oldest(),
			LastAttemptTime:     now,
			UserAgent:           s.Window.UserAgent,
			AttemptedEmails:     s.Window.AttemptedEmails,
		})
		if err != nil {
			return false, err
		}
		s.Window = nil
		s.Block, s.BlockTTL = rec, g.config.BlockDuration
		block, created = rec, true
		return true, nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "record failure")
	}

	if created {
		g.announceBlock(ctx, block, g.config.BlockDuration)
	}
	return block, created, nil
}

// Clear forgets every failure recorded for ip
func (g *Guard) Clear(ctx context.Context, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return errors.Wrap(g.store.DeleteWindow(ctx, ip), "clear failure window")
}

// FailedAttempts returns the failures still inside the window for ip
func (g *Guard) FailedAttempts(ctx context.Context, ip string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var n int
	err := g.store.Update(ctx, ip, func(s *AddressState) (bool, error) {
		n = 0
		if s.Window == nil {
			return false, nil
		}
		s.Window.Prune(now, g.config.WindowPeriod)
		if s.Window.Empty() {
			s.Window = nil
			return true, nil
		}
		n = len(s.Window.Timestamps)
		return false, nil
	})
	return n, errors.Wrap(err, "load failure window")
}

// IsBlocked reports whether ip is currently blocked
func (g *Guard) IsBlocked(ctx context.Context, ip string) (bool, error) {
	_, blocked, err := g.BlockStatus(ctx, ip)
	return blocked, err
}

// BlockStatus returns the active block for ip, if any. An expired block is
// deleted together with any leftover failure window.
func (g *Guard) BlockStatus(ctx context.Context, ip string) (*models.BlockRecord, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var rec *models.BlockRecord
	err := g.store.Update(ctx, ip, func(s *AddressState) (bool, error) {
		evicted := expire(s, now)
		rec = s.Block
		return evicted, nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "load block")
	}
	return rec, rec != nil, nil
}

// Block blocks ip for duration, replacing any existing block
func (g *Guard) Block(ctx context.Context, ip string, duration time.Duration, reason models.BlockReason, meta models.BlockMetadata) (*models.BlockRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.blockLocked(ctx, ip, g.now(), duration, reason, meta)
}

// BlockHoneypot blocks ip for the honeypot duration without any failure history
func (g *Guard) BlockHoneypot(ctx context.Context, ip, userAgent string) (*models.BlockRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	return g.blockLocked(ctx, ip, now, g.config.HoneypotDuration(), models.BlockReasonHoneypot, models.BlockMetadata{
		FirstAttemptTime: now,
		LastAttemptTime:  now,
		UserAgent:        userAgent,
		AttemptedEmails:  []string{},
	})
}

// Unblock lifts an active block on ip and forgets its failures. It returns
// false, changing nothing, when ip is not blocked.
func (g *Guard) Unblock(ctx context.Context, ip, actor string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var lifted bool
	err := g.store.Update(ctx, ip, func(s *AddressState) (bool, error) {
		evicted := expire(s, now)
		lifted = s.Block != nil
		if lifted {
			s.Block, s.Window = nil, nil
		}
		return evicted || lifted, nil
	})
	if err != nil {
		return false, errors.Wrap(err, "delete block")
	}

	if lifted {
		g.emit(ctx, Event{Type: EventUnblocked, IP: ip, Actor: actor})
	}
	return lifted, nil
}

// ListActive evicts expired blocks and returns the rest in the order they
// were created
func (g *Guard) ListActive(ctx context.Context) ([]*models.BlockRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	active, _, err := g.sweepBlocksLocked(ctx, g.now())
	if err != nil {
		return nil, err
	}

	slices.SortFunc(active, func(a, b *models.BlockRecord) int {
		if c := a.BlockedAt.Compare(b.BlockedAt); c != 0 {
			return c
		}
		return strings.Compare(a.IP, b.IP)
	})
	return active, nil
}

// SweepResult summarises one sweep
type SweepResult struct {
	ExpiredBlocks int
	StaleWindows  int
	ActiveBlocks  int
}

// Sweep removes blocks that have already expired and windows whose failures
// have all aged out. It only drops state the lazy paths would drop anyway.
func (g *Guard) Sweep(ctx context.Context) (SweepResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	active, expired, err := g.sweepBlocksLocked(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{ExpiredBlocks: expired, ActiveBlocks: len(active)}

	windows, err := g.store.ListWindows(ctx)
	if err != nil {
		return result, errors.Wrap(err, "list failure windows")
	}
	for _, w := range windows {
		w.Prune(now, g.config.WindowPeriod)
		if !w.Empty() {
			continue
		}

		// A failure may have landed since the listing
		var dropped bool
		err := g.store.Update(ctx, w.IP, func(s *AddressState) (bool, error) {
			dropped = false
			if s.Window == nil {
				return false, nil
			}
			s.Window.Prune(now, g.config.WindowPeriod)
			if !s.Window.Empty() {
				return false, nil
			}
			s.Window, dropped = nil, true
			return true, nil
		})
		if err != nil {
			return result, errors.Wrap(err, "delete stale window")
		}
		if dropped {
			result.StaleWindows++
		}
	}
	return result, nil
}

// Wait blocks until every dispatched hook has returned
func (g *Guard) Wait() {
	g.hookWG.Wait()
}

// expire drops an inactive block along with its window and reports whether
// it did
func expire(s *AddressState, now time.Time) bool {
	if s.Block == nil || s.Block.ActiveAt(now) {
		return false
	}
	s.Block, s.Window = nil, nil
	return true
}

func (g *Guard) sweepBlocksLocked(ctx context.Context, now time.Time) ([]*models.BlockRecord, int, error) {
	blocks, err := g.store.ListBlocks(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list blocks")
	}

	active := make([]*models.BlockRecord, 0, len(blocks))
	expired := 0
	for _, b := range blocks {
		if b.ActiveAt(now) {
			active = append(active, b)
			continue
		}

		var evicted bool
		var current *models.BlockRecord
		err := g.store.Update(ctx, b.IP, func(s *AddressState) (bool, error) {
			evicted = expire(s, now)
			current = s.Block
			return evicted, nil
		})
		if err != nil {
			return nil, expired, errors.Wrap(err, "evict expired block")
		}
		if evicted {
			expired++
		}
		// Replaced by a fresh block since the listing
		if current != nil {
			active = append(active, current)
		}
	}
	return active, expired, nil
}

func (g *Guard) blockLocked(ctx context.Context, ip string, now time.Time, duration time.Duration, reason models.BlockReason, meta models.BlockMetadata) (*models.BlockRecord, error) {
	rec, err := g.newBlock(ip, now, duration, reason, meta)
	if err != nil {
		return nil, err
	}

	err = g.store.Update(ctx, ip, func(s *AddressState) (bool, error) {
		s.Window = nil
		s.Block, s.BlockTTL = rec, duration
		return true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "save block")
	}

	g.announceBlock(ctx, rec, duration)
	return rec, nil
}

func (g *Guard) newBlock(ip string, now time.Time, duration time.Duration, reason models.BlockReason, meta models.BlockMetadata) (*models.BlockRecord, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("block duration must be positive, got %s", duration)
	}

	emails := meta.AttemptedEmails
	if len(emails) > g.config.MaxAttemptedEmails {
		emails = emails[:g.config.MaxAttemptedEmails]
	}

	return &models.BlockRecord{
		IP:                  ip,
		Reason:              reason,
		BlockedAt:           now,
		BlockedUntil:        now.Add(duration),
		FailedAttemptsCount: meta.FailedAttemptsCount,
		FirstAttemptTime:    meta.FirstAttemptTime,
		LastAttemptTime:     meta.LastAttemptTime,
		UserAgent:           meta.UserAgent,
		AttemptedEmails:     append([]string{}, emails...),
	}, nil
}

func (g *Guard) announceBlock(ctx context.Context, rec *models.BlockRecord, duration time.Duration) {
	g.logger.Warn("ip blocked",
		slog.String("ip", rec.IP),
		slog.String("reason", string(rec.Reason)),
		slog.Duration("duration", duration),
		slog.Int("failed_attempts", rec.FailedAttemptsCount),
	)
	g.emit(ctx, Event{Type: EventBlocked, IP: rec.IP, Record: rec, Duration: duration})
}

// emit hands the event to every hook on its own goroutine
func (g *Guard) emit(ctx context.Context, event Event) {
	if len(g.hooks) == 0 {
		return
	}
	if event.Record != nil {
		event.Record = cloneBlock(event.Record)
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, h := range g.hooks {
		g.hookWG.Add(1)
		go func(h Hook) {
			defer g.hookWG.Done()
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("block hook panicked", slog.Any("panic", r), slog.String("ip", event.IP))
				}
			}()
			h.HandleEvent(hookCtx, event)
		}(h)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
