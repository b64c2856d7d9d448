package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps WhatsApp auth credential blobs so a session can resume
// after a restart without rescanning the QR code. Blobs are sealed by the
// encryptor before they touch the store.
type SessionStore struct {
	c   *Client
	enc *Encryptor
	ttl time.Duration
}

// NewSessionStore builds an auth blob store. A non-positive ttl means blobs
// never expire on their own; the supervisor deletes them on logout.
func NewSessionStore(c *Client, enc *Encryptor, ttl time.Duration) *SessionStore {
	return &SessionStore{c: c, enc: enc, ttl: ttl}
}

func (s *SessionStore) key(sessionID string) string {
	return s.c.Key(PurposeSession, "auth", sessionID)
}

func (s *SessionStore) Save(ctx context.Context, sessionID string, blob []byte) error {
	sealed, err := s.enc.Encrypt(blob)
	if err != nil {
		return fmt.Errorf("failed to encrypt auth blob: %w", err)
	}
	if err := s.c.rdb.Set(ctx, s.key(sessionID), sealed, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save auth blob: %w", err)
	}
	return nil
}

// Get returns the decrypted auth blob, or nil when none is stored.
func (s *SessionStore) Get(ctx context.Context, sessionID string) ([]byte, error) {
	sealed, err := s.c.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth blob: %w", err)
	}

	blob, err := s.enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt auth blob: %w", err)
	}
	return blob, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.c.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete auth blob: %w", err)
	}
	return nil
}

func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.c.rdb.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check auth blob: %w", err)
	}
	return n > 0, nil
}

// RefreshTTL extends the blob expiry for a session that is still alive.
func (s *SessionStore) RefreshTTL(ctx context.Context, sessionID string) error {
	if s.ttl <= 0 {
		return nil
	}
	if err := s.c.rdb.Expire(ctx, s.key(sessionID), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh auth blob ttl: %w", err)
	}
	return nil
}
