// Package store provides storage backends for ConvoGraph.
//
// It persists blocks, conversations, subscribers and context vars, with an
// in-memory store for tests and SQLite/PostgreSQL backends for production.
// The flow engine treats all records as opaque documents that are read,
// modified and written back wholesale per turn; there is no field-level
// locking.
package store

import (
	"context"
	"strings"

	"github.com/convograph/convograph/internal/models"
)

// BlockStore persists conversation flow blocks. Lookups never go beyond
// "by id", "by set of ids" and the entry-point filter.
type BlockStore interface {
	CreateBlock(ctx context.Context, b *models.Block) error
	GetBlock(ctx context.Context, id string) (*models.Block, error)
	GetBlocks(ctx context.Context, ids []string) ([]*models.Block, error)
	FindEntryBlocks(ctx context.Context) ([]*models.Block, error)
	UpdateBlock(ctx context.Context, b *models.Block) error
	DeleteBlock(ctx context.Context, id string) error
}

// ConversationStore persists conversations. At most one active conversation
// per subscriber is assumed by the engine, never enforced here.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetActiveConversation(ctx context.Context, subscriberID string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, c *models.Conversation) error
	// EndConversation marks the conversation inactive; it is kept for history.
	EndConversation(ctx context.Context, id string) error
}

// SubscriberStore persists subscriber profiles and their durable context.
type SubscriberStore interface {
	CreateSubscriber(ctx context.Context, s *models.Subscriber) error
	GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error)
	GetSubscriberByForeignID(ctx context.Context, channel, foreignID string) (*models.Subscriber, error)
	UpdateSubscriber(ctx context.Context, s *models.Subscriber) error
}

// ContextVarStore persists context variable declarations.
type ContextVarStore interface {
	CreateContextVar(ctx context.Context, v *models.ContextVar) error
	GetContextVarByName(ctx context.Context, name string) (*models.ContextVar, error)
}

// Store aggregates all persistence concerns of the engine. Missing records
// are reported as (nil, nil), not as errors.
type Store interface {
	BlockStore
	ConversationStore
	SubscriberStore
	ContextVarStore
	Close() error
}

// Opts holds store configuration options.
type Opts struct {
	PostgresDSN string
	SQLiteDSN   string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL-backed store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// WithSQLiteDSN configures an SQLite-backed store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
