// Package approval correlates a blocking local request with an
// asynchronously arriving chat reply. A caller registers a pending entry
// keyed by a short numeric code, the operator answers with
// /approve <code> or /reject <code>, and the poller-driven dispatcher
// resolves the entry. Exactly one of {resolve, timeout, shutdown} wins.
package approval

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
)

// Status is the terminal outcome of one approval exchange.
type Status string

const (
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusTimedOut      Status = "timed_out"
	StatusNotConfigured Status = "not_configured"
	StatusFailed        Status = "failed"
)

const codeAttempts = 8

type pending struct {
	code      string
	title     string
	details   string
	createdAt time.Time
	done      chan Status
}

// Correlator owns the pending-approval map. Constructed once at startup,
// torn down with the process.
type Correlator struct {
	commander cmdpkg.Commander
	chatID    int64
	enabled   bool

	mu      sync.Mutex
	entries map[string]*pending
	randInt func(n int) int
}

// NewCorrelator creates a correlator sending requests to the given chat.
// With enabled=false every RequestApproval short-circuits to
// StatusNotConfigured and no entry is ever created.
func NewCorrelator(c cmdpkg.Commander, chatID int64, enabled bool) *Correlator {
	return &Correlator{
		commander: c,
		chatID:    chatID,
		enabled:   enabled,
		entries:   map[string]*pending{},
		randInt:   rand.Intn,
	}
}

// RequestApproval sends an approval prompt to the operator chat and blocks
// until the operator answers, the timeout elapses, or ctx is cancelled.
// The returned message carries diagnostic detail for StatusFailed.
func (c *Correlator) RequestApproval(ctx context.Context, title, details string, timeout time.Duration) (Status, string) {
	if c == nil || !c.enabled {
		return StatusNotConfigured, ""
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	entry, err := c.register(title, details)
	if err != nil {
		return StatusFailed, err.Error()
	}

	text := composePrompt(entry, timeout)
	if err := c.commander.SendMessage(c.chatID, text); err != nil {
		c.takeIf(entry)
		return StatusFailed, fmt.Sprintf("approval request send failed: %v", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-entry.done:
		return status, ""
	case <-timer.C:
		if c.takeIf(entry) {
			return StatusTimedOut, ""
		}
		// Lost the race: a resolver already took the entry and is about to
		// deliver its status on the buffered channel.
		return <-entry.done, ""
	case <-ctx.Done():
		if c.takeIf(entry) {
			return StatusFailed, "shutting down"
		}
		return <-entry.done, ""
	}
}

// Resolve completes the pending entry for code, if any. It reports whether
// an entry was resolved and returns the entry title for the reply message.
// A second resolve for the same code finds nothing and returns false.
func (c *Correlator) Resolve(code string, approved bool) (bool, string) {
	entry := c.take(code)
	if entry == nil {
		return false, ""
	}
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	entry.done <- status
	return true, entry.title
}

// PendingCount returns the number of live entries.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Correlator) register(title, details string) (*pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := fmt.Sprintf("%06d", 100000+c.randInt(900000))
		if _, exists := c.entries[code]; exists {
			continue
		}
		entry := &pending{
			code:      code,
			title:     title,
			details:   details,
			createdAt: time.Now(),
			done:      make(chan Status, 1),
		}
		c.entries[code] = entry
		return entry, nil
	}
	return nil, fmt.Errorf("no unique approval code after %d attempts", codeAttempts)
}

// take removes and returns the entry for code, or nil if absent. This is
// the atomic step resolvers go through, so a code resolves at most once.
func (c *Correlator) take(code string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[code]
	if !ok {
		return nil
	}
	delete(c.entries, code)
	return entry
}

// takeIf removes entry only while it is still the one registered under its
// code. The requester's timeout and shutdown paths must not evict a later
// request that drew the same code after this entry was resolved.
func (c *Correlator) takeIf(entry *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[entry.code] != entry {
		return false
	}
	delete(c.entries, entry.code)
	return true
}

func composePrompt(entry *pending, timeout time.Duration) string {
	minutes := int(math.Ceil(timeout.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	text := fmt.Sprintf("Approval required: %s\n", entry.title)
	if entry.details != "" {
		text += entry.details + "\n"
	}
	text += fmt.Sprintf(
		"Reply /approve %s to confirm or /reject %s to decline. Expires in %d minute(s).",
		entry.code, entry.code, minutes,
	)
	return text
}
