package models

import "time"

// BlockDimension names one brute-force tracking axis.
type BlockDimension string

const (
	BlockDimensionIP      BlockDimension = "ip"
	BlockDimensionEmail   BlockDimension = "email"
	BlockDimensionIPEmail BlockDimension = "ip_email"
)

// BlockEntry is the failure-tracking state for one guard key. Entries are
// treated as immutable values: writers build a new entry and swap it in.
// Level and LastBlockAt are only meaningful for the IP dimension.
type BlockEntry struct {
	Count        int        `json:"count"`
	WindowStart  time.Time  `json:"window_start"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Level        int        `json:"level,omitempty"`
	LastBlockAt  *time.Time `json:"last_block_at,omitempty"`
}

// BlockedAt reports whether the entry bans the key at the given instant.
func (e *BlockEntry) BlockedAt(now time.Time) bool {
	return e != nil && e.BlockedUntil != nil && now.Before(*e.BlockedUntil)
}

// BlockDecision is the guard verdict for a login attempt.
type BlockDecision struct {
	Blocked    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the remaining ban up to whole seconds.
func (d BlockDecision) RetryAfterSeconds() int64 {
	if !d.Blocked || d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
