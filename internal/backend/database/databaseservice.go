package database

import (
	"context"
	"database/sql"
	"time"
)

type DatabaseService interface {
	// CreateDatabase applies all pending schema migrations and returns the handle.
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	SchemaVersion(ctx context.Context) (int, error)
	Close() error

	CreateHole(ctx context.Context, hole NewHole) (int64, error)
	GetHole(ctx context.Context, id int64) (*Hole, error)
	ListHoles(ctx context.Context, filter HoleFilter) ([]*Hole, error)
	// ConcludeHole is idempotent; concluding a concluded hole is not an error.
	ConcludeHole(ctx context.Context, id int64) error
	// DeleteHole removes the row and returns it so the caller can clean up its image.
	DeleteHole(ctx context.Context, id int64) (*Hole, error)

	CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CountAdmins(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
