package models

import (
	"slices"
	"time"
)

// FailureWindow holds the recent failed logins of one address that is not
// blocked yet. Timestamps are kept in arrival order.
type FailureWindow struct {
	IP              string      `json:"ip"`
	Timestamps      []time.Time `json:"timestamps"`
	UserAgent       string      `json:"user_agent,omitempty"`
	AttemptedEmails []string    `json:"attempted_emails,omitempty"`
}

// Prune drops timestamps that are period or more in the past
func (w *FailureWindow) Prune(now time.Time, period time.Duration) {
	kept := w.Timestamps[:0]
	for _, ts := range w.Timestamps {
		if now.Sub(ts) < period {
			kept = append(kept, ts)
		}
	}
	w.Timestamps = kept
}

// Add appends a failure. The first non-empty user agent sticks; emails are
// deduplicated and capped at maxEmails.
func (w *FailureWindow) Add(now time.Time, userAgent, email string, maxEmails int) {
	w.Timestamps = append(w.Timestamps, now)

	if w.UserAgent == "" && userAgent != "" {
		w.UserAgent = userAgent
	}
	if email != "" && len(w.AttemptedEmails) < maxEmails && !slices.Contains(w.AttemptedEmails, email) {
		w.AttemptedEmails = append(w.AttemptedEmails, email)
	}
}

// Empty reports whether no failure remains
func (w *FailureWindow) Empty() bool {
	return len(w.Timestamps) == 0
}

// Oldest returns the earliest kept timestamp, or the zero time
func (w *FailureWindow) Oldest() time.Time {
	if len(w.Timestamps) == 0 {
		return time.Time{}
	}
	oldest := w.Timestamps[0]
	for _, ts := range w.Timestamps[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest
}
