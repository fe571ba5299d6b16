// Package session implements the session-token store. A session is a
// server-generated opaque token mapped to a user id with a sliding TTL;
// every privileged operation in the service resolves the caller's token
// here before touching anything else.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Store is the session-token store consumed by the relays and the HTTP
// surface. Resolve returns the user id owning the token and extends the
// token's TTL (sliding expiry); it returns "" without error when the
// token is unknown or expired.
type Store interface {
	Create(ctx context.Context, userID string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
	Ping(ctx context.Context) error
	Close() error
}

// newToken returns a fresh 256-bit token in hex.
func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}

func sessionKey(token string) string {
	return "sessions:" + token
}
