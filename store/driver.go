package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema if absent. It must be safe to run on every start.
	Migrate(ctx context.Context) error

	// ConversationTurn model related methods.
	CreateTurn(ctx context.Context, create *CreateTurn) (*Turn, error)
	ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error)
	CountTurns(ctx context.Context, conversationID *string) (int64, error)
}
