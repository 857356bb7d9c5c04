// Package guard gatekeeps inbound chat messages: per-user rate limiting
// over a trailing window, plus message validation. Both run before any
// model call.
package guard

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrRateLimited indicates the user exceeded their message budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMessageEmpty indicates an empty or whitespace-only message.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrMessageTooLong indicates the message exceeds the length cap.
	ErrMessageTooLong = errors.New("message too long")

	// ErrMessageFiltered indicates the message matched the content
	// denylist.
	ErrMessageFiltered = errors.New("message rejected by content filter")
)

// window is the trailing period over which messages are counted.
const window = 60 * time.Second

// Limiter enforces a per-user message budget over a trailing 60 second
// window. State is process-local; horizontally scaled deployments need a
// shared store instead.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLimiter creates a Limiter allowing limit messages per user per
// minute.
func NewLimiter(limit int) *Limiter {
	return &Limiter{
		limit:   limit,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records and accepts the request iff the user has capacity left.
// Stale timestamps are pruned lazily; the new timestamp is recorded only
// on acceptance.
func (l *Limiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.windows[userID][:0]
	for _, ts := range l.windows[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.windows[userID] = kept
		return ErrRateLimited
	}

	l.windows[userID] = append(kept, now)
	return nil
}

// deniedTerms is the fixed case-insensitive content denylist applied
// when filtering is enabled.
var deniedTerms = []string{
	"ignore previous instructions",
	"reveal your system prompt",
	"system prompt override",
	"jailbreak",
}

// Validator checks message content before it reaches the orchestrator.
type Validator struct {
	maxLength     int
	filterEnabled bool
}

// NewValidator creates a Validator with the given length cap.
func NewValidator(maxLength int, filterEnabled bool) *Validator {
	return &Validator{maxLength: maxLength, filterEnabled: filterEnabled}
}

// Validate rejects empty, oversized, or denylisted messages.
func (v *Validator) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrMessageEmpty
	}
	if len(text) > v.maxLength {
		return ErrMessageTooLong
	}
	if v.filterEnabled {
		lower := strings.ToLower(text)
		for _, term := range deniedTerms {
			if strings.Contains(lower, term) {
				return ErrMessageFiltered
			}
		}
	}
	return nil
}
