// Package store persists bot configuration and the message archive in
// sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// BotRecord is one configured bot identity.
type BotRecord struct {
	Identity   string
	Name       string
	Mode       string // "whatsapp" or "process"
	Prefix     string
	SessionDSN string
	WorkingDir string
	Command    string
	Args       []string
	Admins     []string
	ParentID   string // empty for top-level bots
	CreatedAt  time.Time
}

// BotRepo persists bot records.
type BotRepo interface {
	Get(ctx context.Context, identity string) (*BotRecord, error)
	Save(ctx context.Context, rec *BotRecord) error
	Delete(ctx context.Context, identity string) error
	ListAll(ctx context.Context) ([]*BotRecord, error)
	Close() error
}

type botRepo struct {
	db *sql.DB
}

// NewBotRepo opens (creating if needed) the bot registry database.
func NewBotRepo(dbPath string) (BotRepo, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bots (
			identity TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			prefix TEXT NOT NULL DEFAULT '.',
			session_dsn TEXT NOT NULL DEFAULT '',
			working_dir TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			admins TEXT NOT NULL DEFAULT '[]',
			parent_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_bots_parent_id ON bots(parent_id)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &botRepo{db: db}, nil
}

// Get returns the record for identity, or nil when absent.
func (r *botRepo) Get(ctx context.Context, identity string) (*BotRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity, name, mode, prefix, session_dsn, working_dir, command, args, admins, parent_id, created_at
		FROM bots
		WHERE identity = ?
	`, identity)
	rec, err := scanBot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bot: %w", err)
	}
	return rec, nil
}

// Save inserts or replaces a record.
func (r *botRepo) Save(ctx context.Context, rec *BotRecord) error {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	admins, err := json.Marshal(rec.Admins)
	if err != nil {
		return fmt.Errorf("failed to encode admins: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bots (identity, name, mode, prefix, session_dsn, working_dir, command, args, admins, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Identity,
		rec.Name,
		rec.Mode,
		rec.Prefix,
		rec.SessionDSN,
		rec.WorkingDir,
		rec.Command,
		string(args),
		string(admins),
		rec.ParentID,
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}
	return nil
}

// Delete removes a record.
func (r *botRepo) Delete(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bots WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}
	return nil
}

// ListAll returns all records, newest first.
func (r *botRepo) ListAll(ctx context.Context) ([]*BotRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT identity, name, mode, prefix, session_dsn, working_dir, command, args, admins, parent_id, created_at
		FROM bots
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var recs []*BotRecord
	for rows.Next() {
		rec, err := scanBot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanBot(scan func(dest ...any) error) (*BotRecord, error) {
	var rec BotRecord
	var args, admins string
	var createdAt int64
	err := scan(&rec.Identity, &rec.Name, &rec.Mode, &rec.Prefix, &rec.SessionDSN,
		&rec.WorkingDir, &rec.Command, &args, &admins, &rec.ParentID, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &rec.Args); err != nil {
		return nil, fmt.Errorf("failed to decode args: %w", err)
	}
	if err := json.Unmarshal([]byte(admins), &rec.Admins); err != nil {
		return nil, fmt.Errorf("failed to decode admins: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// Close closes the database connection.
func (r *botRepo) Close() error {
	return r.db.Close()
}
