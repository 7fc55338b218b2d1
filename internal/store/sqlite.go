// Package store: SQLite-backed implementation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/convograph/convograph/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists engine records in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path;
// the directory is created when missing) and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "dsn_set", cfg.SQLiteDSN != "")

	dsn := cfg.SQLiteDSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateBlock(ctx context.Context, b *models.Block) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", b.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blocks (id, name, starts_conversation, doc) VALUES (?, ?, ?, ?)`,
		b.ID, b.Name, b.StartsConversation, string(doc))
	if err != nil {
		slog.Error("SQLiteStore CreateBlock failed", "error", err, "block", b.ID)
		return fmt.Errorf("failed to insert block %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	return scanBlock(s.db.QueryRowContext(ctx, `SELECT doc FROM blocks WHERE id = ?`, id))
}

func (s *SQLiteStore) GetBlocks(ctx context.Context, ids []string) ([]*models.Block, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause(`SELECT doc FROM blocks WHERE id IN (%s) ORDER BY created_at, rowid`, ids, sqlitePlaceholder)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetBlocks query failed", "error", err)
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

func (s *SQLiteStore) FindEntryBlocks(ctx context.Context) ([]*models.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM blocks WHERE starts_conversation = 1 ORDER BY created_at, rowid`)
	if err != nil {
		slog.Error("SQLiteStore FindEntryBlocks query failed", "error", err)
		return nil, fmt.Errorf("failed to query entry blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

func (s *SQLiteStore) UpdateBlock(ctx context.Context, b *models.Block) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", b.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE blocks SET name = ?, starts_conversation = ?, doc = ? WHERE id = ?`,
		b.Name, b.StartsConversation, string(doc), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update block %s: %w", b.ID, err)
	}
	return requireRow(res, models.ErrBlockNotFound)
}

func (s *SQLiteStore) DeleteBlock(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete block %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, sender, active, doc) VALUES (?, ?, ?, ?)`,
		c.ID, c.Sender, c.Active, string(doc))
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "conversation", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx, `SELECT doc FROM conversations WHERE id = ?`, id))
}

func (s *SQLiteStore) GetActiveConversation(ctx context.Context, subscriberID string) (*models.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT doc FROM conversations WHERE sender = ? AND active = 1 ORDER BY created_at DESC LIMIT 1`,
		subscriberID))
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	c.UpdatedAt = time.Now()
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", c.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET sender = ?, active = ?, doc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		c.Sender, c.Active, string(doc), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	return requireRow(res, errConversationNotFound)
}

func (s *SQLiteStore) EndConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET active = 0,
		     doc = json_set(doc, '$.active', json('false')),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to end conversation %s: %w", id, err)
	}
	return requireRow(res, errConversationNotFound)
}

func (s *SQLiteStore) CreateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber %s: %w", sub.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers (id, channel, foreign_id, doc) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.Channel, sub.ForeignID, string(doc))
	if err != nil {
		slog.Error("SQLiteStore CreateSubscriber failed", "error", err, "subscriber", sub.ID)
		return fmt.Errorf("failed to insert subscriber %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error) {
	return scanSubscriber(s.db.QueryRowContext(ctx, `SELECT doc FROM subscribers WHERE id = ?`, id))
}

func (s *SQLiteStore) GetSubscriberByForeignID(ctx context.Context, channel, foreignID string) (*models.Subscriber, error) {
	return scanSubscriber(s.db.QueryRowContext(ctx,
		`SELECT doc FROM subscribers WHERE channel = ? AND foreign_id = ?`, channel, foreignID))
}

func (s *SQLiteStore) UpdateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber %s: %w", sub.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET channel = ?, foreign_id = ?, doc = ? WHERE id = ?`,
		sub.Channel, sub.ForeignID, string(doc), sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscriber %s: %w", sub.ID, err)
	}
	return requireRow(res, errSubscriberNotFound)
}

func (s *SQLiteStore) CreateContextVar(ctx context.Context, v *models.ContextVar) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_vars (id, name, permanent) VALUES (?, ?, ?)`,
		v.ID, v.Name, v.Permanent)
	if err != nil {
		return fmt.Errorf("failed to insert context var %s: %w", v.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetContextVarByName(ctx context.Context, name string) (*models.ContextVar, error) {
	var v models.ContextVar
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, permanent FROM context_vars WHERE name = ?`, name).
		Scan(&v.ID, &v.Name, &v.Permanent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query context var %s: %w", name, err)
	}
	return &v, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
