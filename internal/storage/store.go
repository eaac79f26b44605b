package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle. The server keeps channels, posts, reactions
// and files in it; the client keeps its drafts in a separate file with the same
// schema.
type Store struct {
	db *sql.DB
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrChannelExists is returned when creating a channel whose id is taken.
var ErrChannelExists = errors.New("channel already exists")

// ErrDuplicatePost is returned when a pending post id was already stored.
var ErrDuplicatePost = errors.New("post already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "termpost.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			key TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL DEFAULT '',
			root_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			update_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'O',
			display_name TEXT NOT NULL DEFAULT '',
			header TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL DEFAULT '',
			create_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS channel_members (
			channel_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT '',
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (channel_id, user_id),
			FOREIGN KEY(channel_id) REFERENCES channels(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			allow_reference INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY(group_id) REFERENCES groups(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			pending_post_id TEXT UNIQUE,
			channel_id TEXT NOT NULL,
			root_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			file_ids TEXT NOT NULL DEFAULT '[]',
			props TEXT NOT NULL DEFAULT '{}',
			metadata TEXT NOT NULL DEFAULT '{}',
			create_at INTEGER NOT NULL,
			FOREIGN KEY(channel_id) REFERENCES channels(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_channel ON posts(channel_id, create_at);`,
		`CREATE TABLE IF NOT EXISTS reactions (
			post_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			emoji_name TEXT NOT NULL,
			create_at INTEGER NOT NULL,
			PRIMARY KEY (post_id, user_id, emoji_name),
			FOREIGN KEY(post_id) REFERENCES posts(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			name TEXT NOT NULL,
			extension TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			storage_path TEXT NOT NULL,
			sha256 TEXT NOT NULL DEFAULT '',
			uploaded_by TEXT NOT NULL DEFAULT '',
			create_at INTEGER NOT NULL
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
