package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/tally/internal/db"
)

func testBuilder(t *testing.T) (*Builder, *db.Store) {
	t.Helper()
	database, err := db.OpenDB(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })

	store := &db.Store{DB: database}
	return &Builder{Store: store}, store
}

func seed(t *testing.T, store *db.Store) {
	t.Helper()
	profile, err := store.EnsureProfile("default")
	require.NoError(t, err)
	rent, err := store.EnsureCategory("rent")
	require.NoError(t, err)

	_, err = store.CreateTransaction(profile.ID, db.KindIncome, 12550, "", "sale")
	require.NoError(t, err)
	_, err = store.CreateTransaction(profile.ID, db.KindExpense, 5000, rent.ID, "")
	require.NoError(t, err)
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{12550, "125.50"},
		{100, "1.00"},
		{5, "0.05"},
		{0, "0.00"},
		{-7550, "-75.50"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatCents(tc.cents), "cents=%d", tc.cents)
	}
}

func TestSummaryText(t *testing.T) {
	b, store := testBuilder(t)
	seed(t, store)

	text, err := b.SummaryText(7)
	require.NoError(t, err)
	assert.Contains(t, text, "Summary for the last 7 day(s)")
	assert.Contains(t, text, "Income:  125.50 (1)")
	assert.Contains(t, text, "Expense: 50.00 (1)")
	assert.Contains(t, text, "Net:     75.50")
	assert.Contains(t, text, "Transactions: 2")
}

func TestTodayText_Empty(t *testing.T) {
	b, _ := testBuilder(t)

	text, err := b.TodayText()
	require.NoError(t, err)
	assert.Contains(t, text, "No transactions yet today.")
}

func TestTodayText_ListsTransactions(t *testing.T) {
	b, store := testBuilder(t)
	seed(t, store)

	text, err := b.TodayText()
	require.NoError(t, err)
	assert.Contains(t, text, time.Now().Format("2006-01-02"))
	assert.Contains(t, text, "sale")
	assert.Contains(t, text, "expense/rent")
	assert.Contains(t, text, "Income 125.50 / Expense 50.00 / Net 75.50")
}

func TestWriteListing(t *testing.T) {
	b, store := testBuilder(t)
	seed(t, store)

	path, err := b.WriteListing(30)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Transaction listing, last 30 day(s)")
	assert.Contains(t, content, "125.50")
	assert.Contains(t, content, "expense/rent")
	assert.Contains(t, content, "Net:     75.50")
}
