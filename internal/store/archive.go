package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xpe-hub/xpe-bot/internal/message"

	_ "modernc.org/sqlite"
)

// Stats summarizes archived traffic for one bot.
type Stats struct {
	Messages        int64 `json:"messages"`
	Commands        int64 `json:"commands"`
	DistinctSenders int64 `json:"distinctSenders"`
}

// ArchiveRepo persists received messages beyond the in-memory history window.
type ArchiveRepo interface {
	Add(ctx context.Context, msg *message.Message) error
	RecentByBot(ctx context.Context, botID string, limit int) ([]*message.Message, error)
	StatsByBot(ctx context.Context, botID string) (*Stats, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

type archiveRepo struct {
	db *sql.DB
}

// NewArchiveRepo opens (creating if needed) the message archive database.
func NewArchiveRepo(dbPath string) (ArchiveRepo, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS archived_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id TEXT UNIQUE NOT NULL,
			bot_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			sender_id TEXT,
			sender_name TEXT,
			is_group INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL,
			body TEXT NOT NULL,
			received_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archived_messages table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_archived_bot_received ON archived_messages(bot_id, received_at)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_archived_received ON archived_messages(received_at)`)

	return &archiveRepo{db: db}, nil
}

// Add archives one message. Duplicate message IDs are ignored.
func (r *archiveRepo) Add(ctx context.Context, msg *message.Message) error {
	isGroup := 0
	if msg.IsGroup {
		isGroup = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO archived_messages (msg_id, bot_id, chat_id, sender_id, sender_name, is_group, kind, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.BotID, msg.ChatID, msg.SenderID, msg.SenderName, isGroup, string(msg.Kind), msg.Body, msg.ReceivedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// RecentByBot returns the bot's newest archived messages, newest first.
func (r *archiveRepo) RecentByBot(ctx context.Context, botID string, limit int) ([]*message.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT msg_id, bot_id, chat_id, sender_id, sender_name, is_group, kind, body, received_at
		FROM archived_messages
		WHERE bot_id = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var msg message.Message
		var isGroup int
		var kind string
		var receivedAt int64
		if err := rows.Scan(&msg.ID, &msg.BotID, &msg.ChatID, &msg.SenderID, &msg.SenderName,
			&isGroup, &kind, &msg.Body, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archived message: %w", err)
		}
		msg.IsGroup = isGroup != 0
		msg.Kind = message.Kind(kind)
		msg.ReceivedAt = time.Unix(receivedAt, 0)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// StatsByBot computes traffic counters for one bot.
func (r *archiveRepo) StatsByBot(ctx context.Context, botID string) (*Stats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN kind = 'command' THEN 1 END),
			COUNT(DISTINCT sender_id)
		FROM archived_messages
		WHERE bot_id = ?
	`, botID)

	var stats Stats
	if err := row.Scan(&stats.Messages, &stats.Commands, &stats.DistinctSenders); err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	return &stats, nil
}

// Prune deletes messages archived before the cutoff.
func (r *archiveRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM archived_messages WHERE received_at < ?
	`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (r *archiveRepo) Close() error {
	return r.db.Close()
}
