package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const (
	writeParams = "_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	readParams  = "_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL&_txlock=deferred"
)

// Store owns the database handles shared by the document store and the
// notification log. Writes go through a single-connection pool that takes
// the write lock at BEGIN; reads use a separate pool with deferred
// transactions so they never queue behind a writer.
type Store struct {
	db   *sql.DB
	read *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: creating dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?"+writeParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	read, err := sql.Open("sqlite3", "file:"+dbPath+"?"+readParams)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: open read pool: %w", err)
	}
	read.SetMaxOpenConns(4)

	return &Store{db: db, read: read}, nil
}

func migrate(db *sql.DB) error {
	const documentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	channel_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	scalar_fields TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (channel_id, kind)
);`

	if _, err := db.Exec(documentsTable); err != nil {
		return fmt.Errorf("sqlite: migrate documents: %w", err)
	}

	const embeddedTable = `
CREATE TABLE IF NOT EXISTS embedded_documents (
	channel_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (channel_id, kind, position),
	FOREIGN KEY (channel_id, kind) REFERENCES documents(channel_id, kind) ON DELETE CASCADE
);`

	if _, err := db.Exec(embeddedTable); err != nil {
		return fmt.Errorf("sqlite: migrate embedded_documents: %w", err)
	}

	const notificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	notification_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	type TEXT NOT NULL,
	user_id TEXT,
	username TEXT,
	amount INTEGER,
	message TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (channel_id, notification_id)
);
CREATE INDEX IF NOT EXISTS idx_notifications_channel_created ON notifications(channel_id, created_at DESC);`

	if _, err := db.Exec(notificationsTable); err != nil {
		return fmt.Errorf("sqlite: migrate notifications: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return errors.Join(s.read.Close(), s.db.Close())
}

// Documents returns the document repository backed by this store.
func (s *Store) Documents() *DocumentStore {
	return &DocumentStore{db: s.db, read: s.read}
}

// Notifications returns the notification log backed by this store.
func (s *Store) Notifications() *NotificationLog {
	return &NotificationLog{db: s.db, read: s.read}
}

func encodeFields(data map[string]string) interface{} {
	if len(data) == 0 {
		return nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return string(encoded)
}

func decodeFields(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
