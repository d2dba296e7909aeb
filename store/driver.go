package store

import (
	"context"
	"database/sql"
	"time"
)

// Driver is the interface a database backend must implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	CreateSession(ctx context.Context, create *Session) (*Session, error)
	GetSession(ctx context.Context, uid string) (*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	DeleteSession(ctx context.Context, uid string) error
	ListSessionUIDsByStatus(ctx context.Context, status SessionStatus, expiredBefore time.Time) ([]string, error)
}
