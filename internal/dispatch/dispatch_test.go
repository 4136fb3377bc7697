package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/tally/internal/approval"
	"github.com/stupiduntilnot/tally/internal/backup"
	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
	"github.com/stupiduntilnot/tally/internal/db"
	"github.com/stupiduntilnot/tally/internal/report"
)

type sentDocument struct {
	chatID  int64
	path    string
	caption string
	existed bool
}

// fakeCommander captures outgoing traffic for assertions.
type fakeCommander struct {
	mu        sync.Mutex
	messages  []string
	documents []sentDocument
}

func (f *fakeCommander) GetUpdates(offset int64, timeout int) ([]cmdpkg.Update, error) {
	return nil, nil
}

func (f *fakeCommander) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeCommander) SendDocument(chatID int64, filePath, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(filePath)
	f.documents = append(f.documents, sentDocument{
		chatID:  chatID,
		path:    filePath,
		caption: caption,
		existed: err == nil,
	})
	return nil
}

func (f *fakeCommander) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeCommander) sentDocuments() []sentDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentDocument, len(f.documents))
	copy(out, f.documents)
	return out
}

const (
	testChatID = int64(42)
	testUserID = int64(7)
)

func testDispatcher(t *testing.T) (*Dispatcher, *fakeCommander, *db.Store) {
	t.Helper()

	database, err := db.OpenDB(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })

	fake := &fakeCommander{}
	store := &db.Store{DB: database}
	d := &Dispatcher{
		Commander:   fake,
		Store:       store,
		Reports:     &report.Builder{Store: store},
		Backups:     &backup.Service{DB: database, Commander: fake, Dir: t.TempDir()},
		Approvals:   approval.NewCorrelator(fake, testChatID, true),
		DB:          database,
		Enabled:     true,
		ChatID:      testChatID,
		ProfileName: "default",
	}
	d.Init()
	return d, fake, store
}

func update(chatID, userID int64, text string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: 1,
		Message: &cmdpkg.Message{
			Chat: cmdpkg.Chat{ID: chatID},
			From: &cmdpkg.User{ID: userID},
			Text: &text,
			Date: time.Now().Unix(),
		},
	}
}

func TestHandle_Help(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/help"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "/summary")
	assert.Contains(t, msgs[0], "/backup")
}

func TestHandle_HelpAliases(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/start"))
	d.Handle(context.Background(), update(testChatID, testUserID, "/帮助"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0], msgs[1])
}

func TestHandle_IncomeCreatesRecord(t *testing.T) {
	d, fake, store := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/income 125.50 café tip"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Recorded #")
	assert.Contains(t, msgs[0], "income 125.50")

	list, err := store.ListSince(time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, db.KindIncome, list[0].Kind)
	assert.Equal(t, int64(12550), list[0].AmountCents)
	assert.Equal(t, "café tip", list[0].Note)
	assert.False(t, list[0].CategoryID.Valid)
}

func TestHandle_ExpenseRequiresCategory(t *testing.T) {
	d, fake, store := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/expense 50"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Usage: /expense")

	list, err := store.ListSince(time.Unix(0, 0))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandle_ExpenseWithCategory(t *testing.T) {
	d, fake, store := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/expense 50 rent march"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "expense 50.00")
	assert.Contains(t, msgs[0], "category rent")

	list, err := store.ListSince(time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, db.KindExpense, list[0].Kind)
	assert.Equal(t, int64(5000), list[0].AmountCents)
	assert.True(t, list[0].CategoryID.Valid)
	assert.Equal(t, "march", list[0].Note)
}

func TestHandle_SummaryReportsTotals(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/income 100"))
	d.Handle(context.Background(), update(testChatID, testUserID, "/expense 40 rent"))
	d.Handle(context.Background(), update(testChatID, testUserID, "/summary 7"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2], "Summary for the last 7 day(s)")
	assert.Contains(t, msgs[2], "Income:  100.00 (1)")
	assert.Contains(t, msgs[2], "Expense: 40.00 (1)")
	assert.Contains(t, msgs[2], "Net:     60.00")
	assert.Contains(t, msgs[2], "Transactions: 2")
}

func TestHandle_SummaryBadDays(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/summary zero"))
	d.Handle(context.Background(), update(testChatID, testUserID, "/summary 0"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		assert.Contains(t, msg, "Usage: /summary")
	}
}

func TestHandle_ReportSendsDocumentAndCleansUp(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/income 100 sale"))
	d.Handle(context.Background(), update(testChatID, testUserID, "/report 7"))

	docs := fake.sentDocuments()
	require.Len(t, docs, 1)
	assert.Equal(t, testChatID, docs[0].chatID)
	assert.Contains(t, docs[0].caption, "7 day(s)")
	assert.True(t, docs[0].existed, "listing file must exist while sending")

	_, err := os.Stat(docs[0].path)
	assert.True(t, os.IsNotExist(err), "listing file must be removed after sending")
}

func TestHandle_BackupAcksThenDelivers(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/backup"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Backup started")

	require.Eventually(t, func() bool {
		return len(fake.sentDocuments()) == 1
	}, 5*time.Second, 10*time.Millisecond, "snapshot document should arrive")

	docs := fake.sentDocuments()
	assert.Equal(t, testChatID, docs[0].chatID)
	assert.True(t, docs[0].existed)
}

func TestHandle_UnauthorizedUser(t *testing.T) {
	d, fake, store := testDispatcher(t)
	d.AllowedUsers = []int64{testUserID}

	d.Handle(context.Background(), update(testChatID, 999, "/income 100"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, replyUnauthorized, msgs[0])

	list, err := store.ListSince(time.Unix(0, 0))
	require.NoError(t, err)
	assert.Empty(t, list, "unauthorized commands must not touch the ledger")
}

func TestHandle_AllowedUserPasses(t *testing.T) {
	d, fake, _ := testDispatcher(t)
	d.AllowedUsers = []int64{testUserID}

	d.Handle(context.Background(), update(testChatID, testUserID, "/help"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.NotEqual(t, replyUnauthorized, msgs[0])
}

func TestHandle_WrongChatIsSilent(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(99, testUserID, "/help"))

	assert.Empty(t, fake.sentMessages())
}

func TestHandle_DisabledIsSilent(t *testing.T) {
	d, fake, _ := testDispatcher(t)
	d.Enabled = false

	d.Handle(context.Background(), update(testChatID, testUserID, "/help"))

	assert.Empty(t, fake.sentMessages())
}

func TestHandle_NonCommandTextIgnored(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "hello there"))

	assert.Empty(t, fake.sentMessages())
}

func TestHandle_UnknownCommand(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/frobnicate"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, replyUnknown, msgs[0])
}

func TestHandle_StripsBotMention(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/help@tallybot"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Commands:")
}

func TestHandle_CaseInsensitiveCommand(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/HELP"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Commands:")
}

func TestHandle_PanicIsolated(t *testing.T) {
	d, fake, _ := testDispatcher(t)
	d.Reports = nil // /today dereferences the builder

	d.Handle(context.Background(), update(testChatID, testUserID, "/today"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, replyFailed, msgs[0])
}

func TestHandle_ApproveRoundTrip(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	done := make(chan approval.Status, 1)
	go func() {
		status, _ := d.Approvals.RequestApproval(context.Background(), "delete profile default", "", time.Minute)
		done <- status
	}()

	var code string
	require.Eventually(t, func() bool {
		for _, msg := range fake.sentMessages() {
			if m := regexp.MustCompile(`/approve (\d{6})`).FindStringSubmatch(msg); m != nil {
				code = m[1]
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	d.Handle(context.Background(), update(testChatID, testUserID, "/approve "+code))

	select {
	case status := <-done:
		assert.Equal(t, approval.StatusApproved, status)
	case <-time.After(2 * time.Second):
		t.Fatal("approval did not resolve")
	}

	msgs := fake.sentMessages()
	assert.Contains(t, msgs[len(msgs)-1], "Approved: delete profile default")
}

func TestHandle_ApproveUnknownCode(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/approve 123456"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "No pending approval with code 123456")
}

func TestHandle_RejectUsage(t *testing.T) {
	d, fake, _ := testDispatcher(t)

	d.Handle(context.Background(), update(testChatID, testUserID, "/reject"))

	msgs := fake.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Usage: /reject <code>", msgs[0])
}
