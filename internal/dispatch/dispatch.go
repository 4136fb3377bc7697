// Package dispatch turns one inbound update into at most one reply and at
// most one domain operation. Matching is a static table of normalized
// command names and aliases so the parsing logic stays testable away from
// any network I/O.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/stupiduntilnot/tally/internal/approval"
	"github.com/stupiduntilnot/tally/internal/backup"
	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
	"github.com/stupiduntilnot/tally/internal/db"
	"github.com/stupiduntilnot/tally/internal/report"
)

const (
	replyUnauthorized = "You are not authorized to use this bot."
	replyUnknown      = "Unknown command. Send /help for the command list."
	replyFailed       = "Command failed, please try again later."

	helpText = `Commands:
/help - this list
/today - today's report
/summary [days] - totals for the period (default 30)
/report [days] - transaction listing as a document
/backup - database backup delivery
/income <amount> [note] - record an income
/expense <amount> <category> [note] - record an expense
/approve <code> / /reject <code> - answer a pending approval`
)

// request is one parsed command invocation.
type request struct {
	ChatID int64
	UserID int64
	Args   []string
}

type handlerFunc func(ctx context.Context, req request) (string, error)

// Dispatcher validates, authorizes and executes chat commands.
type Dispatcher struct {
	Commander cmdpkg.Commander
	Store     *db.Store
	Reports   *report.Builder
	Backups   *backup.Service
	Approvals *approval.Correlator

	// Audit sink; events attach under ParentEventID when set.
	DB            *sql.DB
	ParentEventID *int64

	Enabled      bool
	ChatID       int64
	AllowedUsers []int64
	ProfileName  string

	handlers map[string]handlerFunc
	aliases  map[string]string
}

// Init builds the command table. Must be called before Handle.
func (d *Dispatcher) Init() {
	d.handlers = map[string]handlerFunc{
		"help":    d.handleHelp,
		"today":   d.handleToday,
		"summary": d.handleSummary,
		"report":  d.handleReport,
		"backup":  d.handleBackup,
		"income":  d.handleIncome,
		"expense": d.handleExpense,
		"approve": d.handleApprove,
		"reject":  d.handleReject,
	}
	d.aliases = map[string]string{
		"help":        "help",
		"start":       "help",
		"帮助":          "help",
		"today":       "today",
		"今天":          "today",
		"summary":     "summary",
		"总结":          "summary",
		"汇总":          "summary",
		"report":      "report",
		"报表":          "report",
		"backup":      "backup",
		"备份":          "backup",
		"income":      "income",
		"add_income":  "income",
		"收入":          "income",
		"expense":     "expense",
		"add_expense": "expense",
		"支出":          "expense",
		"approve":     "approve",
		"reject":      "reject",
	}
}

// Handle processes one update. Handler errors and panics are isolated here:
// they are logged, answered with a generic failure reply, and never escape
// to the polling loop.
func (d *Dispatcher) Handle(ctx context.Context, update cmdpkg.Update) {
	if !d.Enabled {
		return
	}
	if update.Message == nil || update.Message.Text == nil {
		return
	}
	msg := update.Message
	if msg.Chat.ID != d.ChatID {
		return
	}

	req := request{ChatID: msg.Chat.ID}
	if msg.From != nil {
		req.UserID = msg.From.ID
	}
	if len(d.AllowedUsers) > 0 && !d.userAllowed(req.UserID) {
		d.reply(req.ChatID, replyUnauthorized)
		return
	}

	text := strings.TrimSpace(*msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	tokens := strings.Fields(text)
	name := strings.TrimPrefix(tokens[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	req.Args = tokens[1:]

	canonical, ok := d.aliases[name]
	if !ok {
		d.reply(req.ChatID, replyUnknown)
		return
	}

	d.logEvent(db.EventCommandReceived, map[string]any{
		"chat_id": req.ChatID,
		"user_id": req.UserID,
		"command": canonical,
	})

	reply, err := d.execute(ctx, canonical, req)
	if err != nil {
		log.Printf("[dispatch] command %s failed: %v", canonical, err)
		d.logEvent(db.EventCommandFailed, map[string]any{
			"command": canonical,
			"error":   truncate(err.Error(), 500),
		})
		d.reply(req.ChatID, replyFailed)
		return
	}
	if reply != "" {
		d.reply(req.ChatID, reply)
	}
	d.logEvent(db.EventCommandCompleted, map[string]any{"command": canonical})
}

// execute runs one handler with panic isolation at the dispatch boundary.
func (d *Dispatcher) execute(ctx context.Context, name string, req request) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handlers[name](ctx, req)
}

func (d *Dispatcher) userAllowed(userID int64) bool {
	for _, id := range d.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) reply(chatID int64, text string) {
	if err := d.Commander.SendMessage(chatID, text); err != nil {
		log.Printf("[dispatch] reply failed chat_id=%d: %v", chatID, err)
	}
}

func (d *Dispatcher) logEvent(eventType string, payload map[string]any) {
	if d.DB == nil {
		return
	}
	db.LogEvent(d.DB, d.ParentEventID, eventType, payload)
}

func (d *Dispatcher) handleHelp(ctx context.Context, req request) (string, error) {
	return helpText, nil
}

func (d *Dispatcher) handleToday(ctx context.Context, req request) (string, error) {
	text, err := d.Reports.TodayText()
	if err != nil {
		return "", err
	}
	return text, nil
}

func (d *Dispatcher) handleSummary(ctx context.Context, req request) (string, error) {
	days, ok := parseDays(req.Args)
	if !ok {
		return "Usage: /summary [days], days between 1 and 3650.", nil
	}
	return d.Reports.SummaryText(days)
}

func (d *Dispatcher) handleReport(ctx context.Context, req request) (string, error) {
	days, ok := parseDays(req.Args)
	if !ok {
		return "Usage: /report [days], days between 1 and 3650.", nil
	}

	path, err := d.Reports.WriteListing(days)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	caption := fmt.Sprintf("Transaction listing, last %d day(s)", days)
	if err := d.Commander.SendDocument(req.ChatID, path, caption); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Dispatcher) handleBackup(ctx context.Context, req request) (string, error) {
	if d.Backups == nil {
		return "", fmt.Errorf("backup service not configured")
	}
	go func() {
		if err := d.Backups.DeliverTo(req.ChatID, d.ParentEventID); err != nil {
			log.Printf("[dispatch] backup failed: %v", err)
			d.reply(req.ChatID, "Backup failed: "+truncate(err.Error(), 300))
		}
	}()
	return "Backup started, the snapshot will arrive shortly.", nil
}

func (d *Dispatcher) handleIncome(ctx context.Context, req request) (string, error) {
	if len(req.Args) < 1 {
		return "Usage: /income <amount> [note]", nil
	}
	cents, ok := parseAmount(req.Args[0])
	if !ok {
		return "Amount must be a positive number, e.g. /income 125.50 tips", nil
	}
	note := strings.Join(req.Args[1:], " ")
	return d.createRecord(db.KindIncome, cents, "", note)
}

func (d *Dispatcher) handleExpense(ctx context.Context, req request) (string, error) {
	if len(req.Args) < 2 {
		return "Usage: /expense <amount> <category> [note]", nil
	}
	cents, ok := parseAmount(req.Args[0])
	if !ok {
		return "Amount must be a positive number, e.g. /expense 50 rent", nil
	}
	category := strings.TrimSpace(req.Args[1])
	if category == "" {
		return "Usage: /expense <amount> <category> [note]", nil
	}
	note := strings.Join(req.Args[2:], " ")
	return d.createRecord(db.KindExpense, cents, category, note)
}

func (d *Dispatcher) createRecord(kind string, cents int64, categoryName, note string) (string, error) {
	profile, err := d.Store.EnsureProfile(d.ProfileName)
	if err != nil {
		return "", err
	}

	categoryID := ""
	categoryLabel := "-"
	if categoryName != "" {
		category, err := d.Store.EnsureCategory(categoryName)
		if err != nil {
			return "", err
		}
		categoryID = category.ID
		categoryLabel = category.Name
	}

	record, err := d.Store.CreateTransaction(profile.ID, kind, cents, categoryID, note)
	if err != nil {
		return "", err
	}

	d.logEvent(db.EventRecordCreated, map[string]any{
		"record_id": record.ID,
		"kind":      kind,
		"amount":    report.FormatCents(cents),
	})
	return fmt.Sprintf("Recorded #%s for %s: %s %s, category %s",
		shortID(record.ID), profile.Name, kind, report.FormatCents(cents), categoryLabel), nil
}

func (d *Dispatcher) handleApprove(ctx context.Context, req request) (string, error) {
	return d.resolveApproval(req, true)
}

func (d *Dispatcher) handleReject(ctx context.Context, req request) (string, error) {
	return d.resolveApproval(req, false)
}

func (d *Dispatcher) resolveApproval(req request, approved bool) (string, error) {
	verb := "reject"
	if approved {
		verb = "approve"
	}
	if len(req.Args) != 1 {
		return fmt.Sprintf("Usage: /%s <code>", verb), nil
	}
	code := req.Args[0]

	ok, title := d.Approvals.Resolve(code, approved)
	if !ok {
		return fmt.Sprintf("No pending approval with code %s (not found or already resolved).", code), nil
	}
	d.logEvent(db.EventApprovalResolved, map[string]any{
		"code":     code,
		"approved": approved,
	})
	if approved {
		return fmt.Sprintf("Approved: %s", title), nil
	}
	return fmt.Sprintf("Rejected: %s", title), nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
