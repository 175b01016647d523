package ipguard_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []ipguard.Event
}

func (r *eventRecorder) HandleEvent(_ context.Context, e ipguard.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []ipguard.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ipguard.Event(nil), r.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGuard(t *testing.T, opts ...ipguard.Option) (*ipguard.Guard, *fakeClock, *ipguard.MemoryStore) {
	t.Helper()
	clock := newFakeClock()
	store := ipguard.NewMemoryStore()
	opts = append([]ipguard.Option{ipguard.WithClock(clock.Now)}, opts...)
	return ipguard.NewGuard(store, ipguard.DefaultConfig(), discardLogger(), opts...), clock, store
}

func TestGuard_ThresholdCrossing(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)
	start := clock.Now()

	for i := 0; i < 4; i++ {
		rec, _, err := g.RecordFailure(ctx, "1.2.3.4", "bot/1.0", "user@x.com")
		require.NoError(t, err)
		assert.Nil(t, rec)
		clock.Advance(10 * time.Second)
	}

	blocked, err := g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked, "one below the threshold must not block")

	rec, created, err := g.RecordFailure(ctx, "1.2.3.4", "other-agent", "admin@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, created)

	assert.Equal(t, models.BlockReasonRepeatedFailures, rec.Reason)
	assert.Equal(t, 5, rec.FailedAttemptsCount)
	assert.Equal(t, start, rec.FirstAttemptTime)
	assert.Equal(t, clock.Now(), rec.LastAttemptTime)
	assert.Equal(t, clock.Now().Add(time.Hour), rec.BlockedUntil)
	assert.Equal(t, "bot/1.0", rec.UserAgent, "first user agent wins")
	assert.Equal(t, []string{"user@x.com", "admin@x.com"}, rec.AttemptedEmails)

	blocked, err = g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked)

	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, n, "the window is discarded when the block is created")
}

func TestGuard_WindowPruning(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	for i := 0; i < 4; i++ {
		_, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
		require.NoError(t, err)
	}

	clock.Advance(15*time.Minute + time.Second)
	rec, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
	require.NoError(t, err)
	assert.Nil(t, rec, "aged-out failures must not count")

	blocked, err := g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGuard_FailedAttemptsDropsEmptyWindow(t *testing.T) {
	ctx := context.Background()
	g, clock, store := newTestGuard(t)

	_, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "")
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Nil(t, storedState(t, store, "1.2.3.4").Window)
}

func TestGuard_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	g, clock, store := newTestGuard(t)

	rec, err := g.Block(ctx, "1.2.3.4", time.Hour, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	blocked, err := g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked)

	clock.Advance(2 * time.Second)
	assert.True(t, clock.Now().After(rec.BlockedUntil))

	active, err := g.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	blocked, err = g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	assert.Nil(t, storedState(t, store, "1.2.3.4").Block, "expired record is evicted on read")
}

func TestGuard_ExpiredExactlyAtBlockedUntil(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	_, err := g.Block(ctx, "1.2.3.4", time.Minute, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	blocked, err := g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestGuard_SuccessClearsHistory(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGuard(t)

	for i := 0; i < 4; i++ {
		_, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
		require.NoError(t, err)
	}
	require.NoError(t, g.Clear(ctx, "1.2.3.4"))

	rec, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "counter restarts at one")
}

func TestGuard_HoneypotIsInstantAndDoubleDuration(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	_, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
	require.NoError(t, err)

	rec, err := g.BlockHoneypot(ctx, "1.2.3.4", "scanner/2")
	require.NoError(t, err)

	assert.Equal(t, models.BlockReasonHoneypot, rec.Reason)
	assert.Equal(t, clock.Now().Add(2*time.Hour), rec.BlockedUntil)
	assert.Zero(t, rec.FailedAttemptsCount)
	assert.Equal(t, clock.Now(), rec.FirstAttemptTime)
	assert.Equal(t, clock.Now(), rec.LastAttemptTime)
	assert.Equal(t, "scanner/2", rec.UserAgent)
	assert.Empty(t, rec.AttemptedEmails)

	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2*time.Hour - time.Second)
	blocked, err := g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestGuard_UnblockNeverBlocked(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGuard(t)

	_, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "")
	require.NoError(t, err)
	_, _, err = g.RecordFailure(ctx, "1.2.3.4", "", "")
	require.NoError(t, err)

	ok, err := g.Unblock(ctx, "1.2.3.4", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "unblocking an unblocked address mutates nothing")

	ok, err = g.Unblock(ctx, "9.9.9.9", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_UnblockBlocked(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGuard(t)

	_, err := g.BlockHoneypot(ctx, "1.2.3.4", "")
	require.NoError(t, err)

	ok, err := g.Unblock(ctx, "1.2.3.4", "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	blocked, err := g.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	ok, err = g.Unblock(ctx, "1.2.3.4", "admin")
	require.NoError(t, err)
	assert.False(t, ok, "second unblock is a no-op")
}

func TestGuard_UnblockExpired(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	_, err := g.Block(ctx, "1.2.3.4", time.Minute, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ok, err := g.Unblock(ctx, "1.2.3.4", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_RecordFailureWhileBlocked(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGuard(t)

	first, err := g.BlockHoneypot(ctx, "1.2.3.4", "")
	require.NoError(t, err)

	rec, created, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.BlockedUntil, rec.BlockedUntil)
	assert.False(t, created, "an existing block is not reported as new")

	n, err := g.FailedAttempts(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, n, "blocked addresses do not accumulate a window")
}

func TestGuard_AttemptedEmailsCapped(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := ipguard.DefaultConfig()
	cfg.MaxFailedAttempts = 8
	g := ipguard.NewGuard(ipguard.NewMemoryStore(), cfg, discardLogger(), ipguard.WithClock(clock.Now))

	emails := []string{"a@x.com", "b@x.com", "A@X.com", "c@x.com", "d@x.com", "e@x.com", "f@x.com", "g@x.com"}
	var rec *models.BlockRecord
	for _, e := range emails {
		var err error
		rec, _, err = g.RecordFailure(ctx, "1.2.3.4", "", e)
		require.NoError(t, err)
	}

	require.NotNil(t, rec)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}, rec.AttemptedEmails)
}

func TestGuard_ListActiveOrder(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	for _, ip := range []string{"3.3.3.3", "1.1.1.1", "2.2.2.2"} {
		_, err := g.Block(ctx, ip, time.Hour, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	active, err := g.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "3.3.3.3", active[0].IP)
	assert.Equal(t, "1.1.1.1", active[1].IP)
	assert.Equal(t, "2.2.2.2", active[2].IP)
}

func TestGuard_ConcurrentFailuresBlockOnce(t *testing.T) {
	ctx := context.Background()
	hooks := &eventRecorder{}
	g, _, _ := newTestGuard(t, ipguard.WithHooks(hooks))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	g.Wait()

	events := hooks.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ipguard.EventBlocked, events[0].Type)
	assert.Equal(t, 5, events[0].Record.FailedAttemptsCount)
}

// slowStore widens the gap between reading and writing an address
type slowStore struct {
	ipguard.Store
	delay time.Duration
}

func (s slowStore) Update(ctx context.Context, ip string, fn ipguard.UpdateFunc) error {
	return s.Store.Update(ctx, ip, func(state *ipguard.AddressState) (bool, error) {
		time.Sleep(s.delay)
		return fn(state)
	})
}

func TestGuard_InstancesSharingAStoreCountEveryFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := slowStore{Store: ipguard.NewMemoryStore(), delay: 5 * time.Millisecond}

	guards := []*ipguard.Guard{
		ipguard.NewGuard(store, ipguard.DefaultConfig(), discardLogger(), ipguard.WithClock(clock.Now)),
		ipguard.NewGuard(store, ipguard.DefaultConfig(), discardLogger(), ipguard.WithClock(clock.Now)),
	}

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(g *ipguard.Guard) {
			defer wg.Done()
			_, isNew, err := g.RecordFailure(ctx, "1.2.3.4", "", "user@x.com")
			assert.NoError(t, err)
			if isNew {
				created.Add(1)
			}
		}(guards[i%2])
	}
	wg.Wait()

	blocked, err := guards[0].IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked, "five failures across two instances reach the threshold")
	assert.Equal(t, int32(1), created.Load())
}

func TestGuard_HooksReceiveEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hooks := &eventRecorder{}
	g, _, _ := newTestGuard(t, ipguard.WithHooks(hooks, ipguard.HookFunc(func(context.Context, ipguard.Event) {
		panic("hook failure must not escape")
	})))

	_, err := g.BlockHoneypot(ctx, "1.2.3.4", "")
	require.NoError(t, err)
	_, err = g.Unblock(ctx, "1.2.3.4", "admin-1")
	require.NoError(t, err)
	cancel()
	g.Wait()

	events := hooks.Events()
	require.Len(t, events, 2)

	types := map[ipguard.EventType]ipguard.Event{}
	for _, e := range events {
		types[e.Type] = e
	}
	assert.Equal(t, 2*time.Hour, types[ipguard.EventBlocked].Duration)
	assert.Equal(t, "admin-1", types[ipguard.EventUnblocked].Actor)
}

func TestGuard_Sweep(t *testing.T) {
	ctx := context.Background()
	g, clock, store := newTestGuard(t)

	_, err := g.Block(ctx, "1.1.1.1", time.Minute, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
	require.NoError(t, err)
	_, err = g.Block(ctx, "2.2.2.2", time.Hour, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
	require.NoError(t, err)
	_, _, err = g.RecordFailure(ctx, "3.3.3.3", "", "")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, _, err = g.RecordFailure(ctx, "4.4.4.4", "", "")
	require.NoError(t, err)

	result, err := g.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ipguard.SweepResult{ExpiredBlocks: 1, StaleWindows: 1, ActiveBlocks: 1}, result)

	assert.NotNil(t, storedState(t, store, "4.4.4.4").Window, "windows with live failures survive")
}

func TestGuard_BlockRejectsNonPositiveDuration(t *testing.T) {
	g, _, _ := newTestGuard(t)

	_, err := g.Block(context.Background(), "1.2.3.4", 0, models.BlockReasonRepeatedFailures, models.BlockMetadata{})
	assert.Error(t, err)
}

type failingStore struct {
	*ipguard.MemoryStore
}

func (failingStore) Update(context.Context, string, ipguard.UpdateFunc) error {
	return errors.New("connection refused")
}

func TestGuard_StoreErrorsPropagate(t *testing.T) {
	g := ipguard.NewGuard(failingStore{ipguard.NewMemoryStore()}, ipguard.DefaultConfig(), discardLogger())

	_, _, err := g.RecordFailure(context.Background(), "1.2.3.4", "", "")
	assert.ErrorContains(t, err, "connection refused")

	_, err = g.IsBlocked(context.Background(), "1.2.3.4")
	assert.Error(t, err)
}
