package backup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
	"github.com/stupiduntilnot/tally/internal/db"
)

// Service snapshots the ledger database and delivers it over the chat
// channel.
type Service struct {
	DB        *sql.DB
	Commander cmdpkg.Commander
	Dir       string
}

// Snapshot writes a consistent copy of the database into Dir using
// VACUUM INTO and returns the snapshot path.
func (s *Service) Snapshot() (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir %s: %w", s.Dir, err)
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("tally-%s.db", time.Now().Format("20060102-150405")))

	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(path)
	if _, err := s.DB.Exec(`VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

// DeliverTo snapshots the database and sends the file to the given chat.
// The snapshot file is removed after the send attempt, successful or not.
func (s *Service) DeliverTo(chatID int64, parentEventID *int64) error {
	db.LogEvent(s.DB, parentEventID, db.EventBackupStarted, map[string]any{"chat_id": chatID})

	path, err := s.Snapshot()
	if err != nil {
		db.LogEvent(s.DB, parentEventID, db.EventBackupFailed, map[string]any{"error": err.Error()})
		return err
	}
	defer os.Remove(path)

	caption := fmt.Sprintf("Database backup %s", time.Now().Format("2006-01-02 15:04"))
	if err := s.Commander.SendDocument(chatID, path, caption); err != nil {
		db.LogEvent(s.DB, parentEventID, db.EventBackupFailed, map[string]any{"error": err.Error()})
		return fmt.Errorf("backup delivery failed: %w", err)
	}

	db.LogEvent(s.DB, parentEventID, db.EventBackupCompleted, map[string]any{
		"chat_id": chatID,
		"file":    filepath.Base(path),
	})
	return nil
}
