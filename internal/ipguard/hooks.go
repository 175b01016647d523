package ipguard

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

type EventType string

const (
	EventBlocked   EventType = "block"
	EventUnblocked EventType = "unblock"
)

// Event describes a change in an address's block state
type Event struct {
	Type     EventType
	IP       string
	Record   *models.BlockRecord // nil for unblock
	Duration time.Duration
	Actor    string // admin id for manual unblocks
}

// Hook receives block events. Hooks run on their own goroutine and must not
// call back into the guard.
type Hook interface {
	HandleEvent(ctx context.Context, event Event)
}

// HookFunc adapts a function to Hook
type HookFunc func(ctx context.Context, event Event)

func (f HookFunc) HandleEvent(ctx context.Context, event Event) {
	f(ctx, event)
}
