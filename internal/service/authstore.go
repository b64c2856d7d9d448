package service

import (
	"context"

	"whatslens/internal/kv"
)

// KVAuthStore adapts the encrypted KV session store to the driver's
// AuthStore contract.
type KVAuthStore struct {
	store *kv.SessionStore
}

func NewKVAuthStore(store *kv.SessionStore) *KVAuthStore {
	return &KVAuthStore{store: store}
}

func (s *KVAuthStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	return s.store.Exists(ctx, sessionID)
}

func (s *KVAuthStore) Save(ctx context.Context, sessionID string, blob []byte) error {
	return s.store.Save(ctx, sessionID, blob)
}

func (s *KVAuthStore) Extract(ctx context.Context, sessionID string) ([]byte, error) {
	return s.store.Get(ctx, sessionID)
}

func (s *KVAuthStore) Delete(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}
