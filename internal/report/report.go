package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stupiduntilnot/tally/internal/db"
)

// Builder renders ledger data as chat-friendly text and transient files.
type Builder struct {
	Store *db.Store

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// FormatCents renders an amount in cents as a decimal string, e.g. 12550
// becomes "125.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// SummaryText formats period totals: income, expense, net and counts.
func (b *Builder) SummaryText(days int) (string, error) {
	cutoff := b.now().AddDate(0, 0, -days)
	sum, err := b.Store.SummarySince(cutoff)
	if err != nil {
		return "", fmt.Errorf("summary query failed: %w", err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Summary for the last %d day(s)\n", days)
	fmt.Fprintf(&out, "Income:  %s (%d)\n", FormatCents(sum.IncomeCents), sum.IncomeCount)
	fmt.Fprintf(&out, "Expense: %s (%d)\n", FormatCents(sum.ExpenseCents), sum.ExpenseCount)
	fmt.Fprintf(&out, "Net:     %s\n", FormatCents(sum.NetCents()))
	fmt.Fprintf(&out, "Transactions: %d", sum.Count())
	return out.String(), nil
}

// TodayText formats all of today's transactions plus totals.
func (b *Builder) TodayText() (string, error) {
	now := b.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	list, err := b.Store.ListSince(midnight)
	if err != nil {
		return "", fmt.Errorf("today query failed: %w", err)
	}
	sum, err := b.Store.SummarySince(midnight)
	if err != nil {
		return "", fmt.Errorf("today summary failed: %w", err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Report for %s\n", now.Format("2006-01-02"))
	if len(list) == 0 {
		out.WriteString("No transactions yet today.")
		return out.String(), nil
	}
	for _, t := range list {
		out.WriteString(b.formatLine(t))
		out.WriteByte('\n')
	}
	fmt.Fprintf(&out, "Income %s / Expense %s / Net %s",
		FormatCents(sum.IncomeCents), FormatCents(sum.ExpenseCents), FormatCents(sum.NetCents()))
	return out.String(), nil
}

// WriteListing writes a human-readable transaction listing for the period
// to a transient file and returns its path. The caller sends the file and
// removes it regardless of send outcome.
func (b *Builder) WriteListing(days int) (string, error) {
	cutoff := b.now().AddDate(0, 0, -days)
	list, err := b.Store.ListSince(cutoff)
	if err != nil {
		return "", fmt.Errorf("listing query failed: %w", err)
	}
	sum, err := b.Store.SummarySince(cutoff)
	if err != nil {
		return "", fmt.Errorf("listing summary failed: %w", err)
	}

	file, err := os.CreateTemp("", "tally-report-*.txt")
	if err != nil {
		return "", fmt.Errorf("create listing file: %w", err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Transaction listing, last %d day(s), generated %s\n\n",
		days, b.now().Format("2006-01-02 15:04:05"))
	for _, t := range list {
		out.WriteString(b.formatLine(t))
		out.WriteByte('\n')
	}
	fmt.Fprintf(&out, "\nIncome:  %s (%d)\n", FormatCents(sum.IncomeCents), sum.IncomeCount)
	fmt.Fprintf(&out, "Expense: %s (%d)\n", FormatCents(sum.ExpenseCents), sum.ExpenseCount)
	fmt.Fprintf(&out, "Net:     %s\n", FormatCents(sum.NetCents()))

	if _, err := file.WriteString(out.String()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("write listing file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("close listing file: %w", err)
	}
	return file.Name(), nil
}

func (b *Builder) formatLine(t db.Transaction) string {
	when := time.Unix(t.CreatedAt, 0).Format("01-02 15:04")
	label := t.Kind
	if t.CategoryID.Valid {
		if category, err := b.Store.Category(t.CategoryID.String); err == nil {
			label = fmt.Sprintf("%s/%s", t.Kind, category.Name)
		}
	}
	line := fmt.Sprintf("%s  %-8s %10s", when, label, FormatCents(t.AmountCents))
	if t.Note != "" {
		line += "  " + t.Note
	}
	return line
}
