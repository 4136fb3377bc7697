// Package poller owns the long-poll loop against the chat channel. It is
// the only writer of the update offset: for every fetched update the offset
// advances before dispatch, so an update is never re-fetched after being
// handed off (at-least-once delivery).
package poller

import (
	"context"
	"database/sql"
	"log"
	"time"

	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
	"github.com/stupiduntilnot/tally/internal/control"
	"github.com/stupiduntilnot/tally/internal/db"
)

// Handler consumes one update. Implementations must not let failures
// escape; the loop treats Handle as infallible.
type Handler interface {
	Handle(ctx context.Context, update cmdpkg.Update)
}

// Poller runs the background fetch/dispatch loop.
type Poller struct {
	Commander   cmdpkg.Commander
	Handler     Handler
	PollTimeout int
	RetryDelay  time.Duration
	Circuit     *control.CircuitBreaker

	// Audit sink; events attach under ParentEventID when set.
	DB            *sql.DB
	ParentEventID *int64

	offset int64
}

// Offset returns the next update id the poller will request. Exposed for
// tests; the loop is its only writer.
func (p *Poller) Offset() int64 {
	return p.offset
}

// Run drains the stale backlog once, then polls until ctx is cancelled.
// Fetch errors never terminate the loop.
func (p *Poller) Run(ctx context.Context) {
	if p.RetryDelay <= 0 {
		p.RetryDelay = 3 * time.Second
	}
	if p.Circuit == nil {
		p.Circuit = control.NewCircuitBreaker(5, 30*time.Second)
	}

	p.drainBacklog()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.Circuit.Allow(time.Now()) {
			if !p.sleep(ctx, p.RetryDelay) {
				return
			}
			continue
		}

		updates, err := p.Commander.GetUpdates(p.offset, p.PollTimeout)
		if err != nil {
			log.Printf("[poller] getUpdates error: %v", err)
			failures++
			before := p.Circuit.State()
			p.Circuit.RecordFailure("command_source_api", time.Now())
			if before != control.CircuitOpen && p.Circuit.State() == control.CircuitOpen {
				log.Printf("[poller] circuit opened, class=%s", p.Circuit.OpenedClass())
				p.logEvent(db.EventCircuitOpened, map[string]any{"class": p.Circuit.OpenedClass()})
			}
			if !p.sleep(ctx, p.retryDelay(failures)) {
				return
			}
			continue
		}
		failures = 0
		if p.Circuit.State() != control.CircuitClosed {
			log.Printf("[poller] circuit closed after successful poll")
			p.logEvent(db.EventCircuitClosed, nil)
		}
		p.Circuit.RecordSuccess()

		for _, update := range updates {
			// Advance before dispatch: a crash mid-dispatch may lose the
			// outcome but never replays earlier updates on the next fetch.
			p.offset = update.UpdateID + 1

			if ctx.Err() != nil {
				return
			}
			if update.Message == nil || update.Message.Text == nil {
				continue
			}
			if update.Message.Chat.ID == 0 {
				continue
			}
			p.Handler.Handle(ctx, update)
		}
	}
}

// drainBacklog issues one zero-timeout fetch and positions the offset past
// everything already on the server, so commands issued while the process
// was down are never replayed.
func (p *Poller) drainBacklog() {
	updates, err := p.Commander.GetUpdates(0, 0)
	if err != nil {
		log.Printf("[poller] backlog drain failed, starting from live stream: %v", err)
		return
	}
	if len(updates) == 0 {
		return
	}
	max := updates[0].UpdateID
	for _, u := range updates[1:] {
		if u.UpdateID > max {
			max = u.UpdateID
		}
	}
	p.offset = max + 1
	log.Printf("[poller] dropped %d stale update(s), offset=%d", len(updates), p.offset)
	p.logEvent(db.EventPollDrained, map[string]any{
		"dropped": len(updates),
		"offset":  p.offset,
	})
}

func (p *Poller) logEvent(eventType string, payload map[string]any) {
	if p.DB == nil {
		return
	}
	db.LogEvent(p.DB, p.ParentEventID, eventType, payload)
}

// retryDelay scales the base delay by the backoff factor for the current
// run of consecutive fetch failures.
func (p *Poller) retryDelay(failures int) time.Duration {
	return p.RetryDelay * time.Duration(control.RetryBackoffSeconds(failures))
}

// sleep waits for d or until ctx is cancelled; it reports whether the loop
// should continue.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
