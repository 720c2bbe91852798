package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/common"
)

// SQLiteStore keeps sessions in the sessions table of the application database.
type SQLiteStore struct {
	db  database.DatabaseService
	ttl time.Duration
	now func() time.Time
}

func NewSQLiteStore(db database.DatabaseService, ttl time.Duration) *SQLiteStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}
}

func (s *SQLiteStore) Create(ctx context.Context, userID int64) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	if err := s.db.CreateSession(ctx, token, userID, now.Add(s.ttl)); err != nil {
		return "", err
	}
	// expired rows are pruned opportunistically on login
	if removed, err := s.db.DeleteExpiredSessions(ctx, now); err != nil {
		slog.Warn("failed to prune expired sessions", "error", err)
	} else if removed > 0 {
		slog.Debug("pruned expired sessions", "count", removed)
	}
	return token, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("session: %w", common.ErrNotFound)
	}
	session, err := s.db.GetSession(ctx, token)
	if err != nil {
		return 0, err
	}
	if !s.now().Before(session.ExpiresAt) {
		return 0, fmt.Errorf("session expired: %w", common.ErrNotFound)
	}
	return session.UserID, nil
}

func (s *SQLiteStore) Revoke(ctx context.Context, token string) error {
	return s.db.DeleteSession(ctx, token)
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}
