package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultTTL is used when no session lifetime is configured
const DefaultTTL = 7 * 24 * time.Hour

const tokenBytes = 32

// Store maps opaque bearer tokens to user ids. Lookup returns an error
// wrapping common.ErrNotFound for unknown, revoked and expired tokens.
type Store interface {
	Create(ctx context.Context, userID int64) (string, error)
	Lookup(ctx context.Context, token string) (int64, error)
	Revoke(ctx context.Context, token string) error
	Close() error
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
