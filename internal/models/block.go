package models

import (
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/pkg/unixtime"
)

type BlockReason string

const (
	BlockReasonRepeatedFailures BlockReason = "repeated_failures"
	BlockReasonHoneypot         BlockReason = "honeypot"
)

// Description is the human-readable cause used in denial messages
func (r BlockReason) Description() string {
	switch r {
	case BlockReasonHoneypot:
		return "suspicious activity detected"
	default:
		return "multiple failed login attempts"
	}
}

// BlockRecord is one currently blocked address. Records are never updated in
// place while live; they are replaced or deleted.
type BlockRecord struct {
	IP                  string      `json:"ip"`
	Reason              BlockReason `json:"reason"`
	BlockedAt           time.Time   `json:"blocked_at"`
	BlockedUntil        time.Time   `json:"blocked_until"`
	FailedAttemptsCount int         `json:"failed_attempts_count"`
	FirstAttemptTime    time.Time   `json:"first_attempt_time"`
	LastAttemptTime     time.Time   `json:"last_attempt_time"`
	UserAgent           string      `json:"user_agent,omitempty"`
	AttemptedEmails     []string    `json:"attempted_emails"`
}

// ActiveAt reports whether the block still applies at now
func (b *BlockRecord) ActiveAt(now time.Time) bool {
	return now.Before(b.BlockedUntil)
}

// RemainingSeconds is the whole number of seconds left at now, never negative
func (b *BlockRecord) RemainingSeconds(now time.Time) int {
	remaining := int(b.BlockedUntil.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BlockMetadata is the forensic context attached to a new block
type BlockMetadata struct {
	FailedAttemptsCount int
	FirstAttemptTime    time.Time
	LastAttemptTime     time.Time
	UserAgent           string
	AttemptedEmails     []string
}

// BlockedMessage renders the denial shown to a blocked client
func BlockedMessage(reason BlockReason, remainingSeconds int) string {
	hours := remainingSeconds / 3600
	minutes := (remainingSeconds % 3600) / 60
	return fmt.Sprintf("IP address blocked due to %s. Please try again in %dh %dm.",
		reason.Description(), hours, minutes)
}

// BlockedIPResponse is one entry of the admin blocked-address listing
type BlockedIPResponse struct {
	IP                  string         `json:"ip"`
	BlockedUntil        unixtime.Time  `json:"blocked_until"`
	RemainingSeconds    int            `json:"remaining_seconds"`
	FailedAttemptsCount int            `json:"failed_attempts_count"`
	FirstAttemptTime    *unixtime.Time `json:"first_attempt_time"`
	LastAttemptTime     *unixtime.Time `json:"last_attempt_time"`
	BlockReason         BlockReason    `json:"block_reason"`
	UserAgent           *string        `json:"user_agent"`
	AttemptedEmails     []string       `json:"attempted_emails"`
}

// BlockedIPsResponse wraps the admin listing
type BlockedIPsResponse struct {
	BlockedIPs []BlockedIPResponse `json:"blocked_ips"`
	Count      int                 `json:"count"`
}

// NewBlockedIPResponse projects a record for the admin listing at now
func NewBlockedIPResponse(b *BlockRecord, now time.Time) BlockedIPResponse {
	resp := BlockedIPResponse{
		IP:                  b.IP,
		BlockedUntil:        unixtime.New(b.BlockedUntil),
		RemainingSeconds:    b.RemainingSeconds(now),
		FailedAttemptsCount: b.FailedAttemptsCount,
		FirstAttemptTime:    unixtime.Ptr(b.FirstAttemptTime),
		LastAttemptTime:     unixtime.Ptr(b.LastAttemptTime),
		BlockReason:         b.Reason,
		AttemptedEmails:     b.AttemptedEmails,
	}
	if b.UserAgent != "" {
		ua := b.UserAgent
		resp.UserAgent = &ua
	}
	if resp.AttemptedEmails == nil {
		resp.AttemptedEmails = []string{}
	}
	return resp
}
