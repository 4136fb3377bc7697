// Package ops exposes the destructive local operations the desktop UI
// calls. Deleting a business profile or a category must be confirmed by
// the operator through the chat channel before it takes effect.
package ops

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stupiduntilnot/tally/internal/approval"
	"github.com/stupiduntilnot/tally/internal/db"
)

var (
	// ErrRejected is returned when the operator declines the action.
	ErrRejected = errors.New("operator rejected the action")
	// ErrTimedOut is returned when no confirmation arrives in time.
	ErrTimedOut = errors.New("confirmation timed out")
)

// Guarded wraps the ledger store's destructive operations behind chat
// approval. When the bot integration is not configured the operations
// proceed locally so the application stays usable without a bot token.
type Guarded struct {
	Store     *db.Store
	Approvals *approval.Correlator
	Timeout   time.Duration

	// Audit sink; optional.
	DB            *sql.DB
	ParentEventID *int64
}

// DeleteBusinessProfile removes a profile and its transactions after the
// operator confirms through the chat channel.
func (g *Guarded) DeleteBusinessProfile(ctx context.Context, profileID string) error {
	profile, err := g.Store.Profile(profileID)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Delete business profile %q", profile.Name)
	details := "All transactions of this profile will be removed."
	if err := g.confirm(ctx, title, details); err != nil {
		return err
	}

	if err := g.Store.DeleteProfile(profileID); err != nil {
		return err
	}
	g.logEvent(db.EventProfileDeleted, map[string]any{
		"profile_id": profileID,
		"name":       profile.Name,
	})
	return nil
}

// DeleteCategory removes an unused category after the operator confirms
// through the chat channel.
func (g *Guarded) DeleteCategory(ctx context.Context, categoryID string) error {
	category, err := g.Store.Category(categoryID)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Delete category %q", category.Name)
	if err := g.confirm(ctx, title, ""); err != nil {
		return err
	}

	if err := g.Store.DeleteCategory(categoryID); err != nil {
		return err
	}
	g.logEvent(db.EventCategoryDeleted, map[string]any{
		"category_id": categoryID,
		"name":        category.Name,
	})
	return nil
}

func (g *Guarded) confirm(ctx context.Context, title, details string) error {
	g.logEvent(db.EventApprovalRequested, map[string]any{"title": title})
	status, msg := g.Approvals.RequestApproval(ctx, title, details, g.Timeout)
	switch status {
	case approval.StatusApproved, approval.StatusNotConfigured:
		return nil
	case approval.StatusRejected:
		return ErrRejected
	case approval.StatusTimedOut:
		g.logEvent(db.EventApprovalTimedOut, map[string]any{"title": title})
		return ErrTimedOut
	default:
		return fmt.Errorf("confirmation failed: %s", msg)
	}
}

func (g *Guarded) logEvent(eventType string, payload map[string]any) {
	if g.DB == nil {
		return
	}
	db.LogEvent(g.DB, g.ParentEventID, eventType, payload)
}
