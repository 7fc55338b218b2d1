// Package store: PostgreSQL-backed implementation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/convograph/convograph/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists engine records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN and
// applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "dsn_set", cfg.PostgresDSN != "")

	dsn := cfg.PostgresDSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateBlock(ctx context.Context, b *models.Block) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", b.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blocks (id, name, starts_conversation, doc) VALUES ($1, $2, $3, $4)`,
		b.ID, b.Name, b.StartsConversation, doc)
	if err != nil {
		slog.Error("PostgresStore CreateBlock failed", "error", err, "block", b.ID)
		return fmt.Errorf("failed to insert block %s: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	return scanBlock(s.db.QueryRowContext(ctx, `SELECT doc FROM blocks WHERE id = $1`, id))
}

func (s *PostgresStore) GetBlocks(ctx context.Context, ids []string) ([]*models.Block, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause(`SELECT doc FROM blocks WHERE id IN (%s) ORDER BY created_at`, ids, postgresPlaceholder)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore GetBlocks query failed", "error", err)
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

func (s *PostgresStore) FindEntryBlocks(ctx context.Context) ([]*models.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM blocks WHERE starts_conversation ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore FindEntryBlocks query failed", "error", err)
		return nil, fmt.Errorf("failed to query entry blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

func (s *PostgresStore) UpdateBlock(ctx context.Context, b *models.Block) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", b.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE blocks SET name = $1, starts_conversation = $2, doc = $3 WHERE id = $4`,
		b.Name, b.StartsConversation, doc, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update block %s: %w", b.ID, err)
	}
	return requireRow(res, models.ErrBlockNotFound)
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete block %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, sender, active, doc) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Sender, c.Active, doc)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "conversation", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx, `SELECT doc FROM conversations WHERE id = $1`, id))
}

func (s *PostgresStore) GetActiveConversation(ctx context.Context, subscriberID string) (*models.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT doc FROM conversations WHERE sender = $1 AND active ORDER BY created_at DESC LIMIT 1`,
		subscriberID))
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	c.UpdatedAt = time.Now()
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", c.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET sender = $1, active = $2, doc = $3, updated_at = NOW() WHERE id = $4`,
		c.Sender, c.Active, doc, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	return requireRow(res, errConversationNotFound)
}

func (s *PostgresStore) EndConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET active = FALSE,
		     doc = jsonb_set(doc, '{active}', 'false'::jsonb),
		     updated_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to end conversation %s: %w", id, err)
	}
	return requireRow(res, errConversationNotFound)
}

func (s *PostgresStore) CreateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber %s: %w", sub.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers (id, channel, foreign_id, doc) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.Channel, sub.ForeignID, doc)
	if err != nil {
		slog.Error("PostgresStore CreateSubscriber failed", "error", err, "subscriber", sub.ID)
		return fmt.Errorf("failed to insert subscriber %s: %w", sub.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error) {
	return scanSubscriber(s.db.QueryRowContext(ctx, `SELECT doc FROM subscribers WHERE id = $1`, id))
}

func (s *PostgresStore) GetSubscriberByForeignID(ctx context.Context, channel, foreignID string) (*models.Subscriber, error) {
	return scanSubscriber(s.db.QueryRowContext(ctx,
		`SELECT doc FROM subscribers WHERE channel = $1 AND foreign_id = $2`, channel, foreignID))
}

func (s *PostgresStore) UpdateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber %s: %w", sub.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET channel = $1, foreign_id = $2, doc = $3 WHERE id = $4`,
		sub.Channel, sub.ForeignID, doc, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscriber %s: %w", sub.ID, err)
	}
	return requireRow(res, errSubscriberNotFound)
}

func (s *PostgresStore) CreateContextVar(ctx context.Context, v *models.ContextVar) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_vars (id, name, permanent) VALUES ($1, $2, $3)`,
		v.ID, v.Name, v.Permanent)
	if err != nil {
		return fmt.Errorf("failed to insert context var %s: %w", v.Name, err)
	}
	return nil
}

func (s *PostgresStore) GetContextVarByName(ctx context.Context, name string) (*models.ContextVar, error) {
	var v models.ContextVar
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, permanent FROM context_vars WHERE name = $1`, name).
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
func (s *PostgresStore) Close() error { return s.db.Close() }
