package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Key is the fixed storage key for the bearer credential.
const Key = "access_token"

// ErrStorage is returned when the underlying storage medium fails.
var ErrStorage = errors.New("credential storage failure")

// KV is a persistent key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// SessionSource derives a fresh credential from the current session.
type SessionSource interface {
	SessionToken(ctx context.Context) (string, error)
}

// Store caches the chat service credential.
type Store struct {
	kv      KV
	session SessionSource
	logger  *slog.Logger
}

func NewStore(kv KV, session SessionSource, logger *slog.Logger) *Store {
	return &Store{kv: kv, session: session, logger: logger}
}

// Get returns the persisted credential, if any.
func (s *Store) Get(ctx context.Context) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return "", false, fmt.Errorf("%w: get: %w", ErrStorage, err)
	}
	if v == "" {
		return "", false, nil
	}
	return v, ok, nil
}

// Set persists the credential, replacing any existing value.
func (s *Store) Set(ctx context.Context, credential string) error {
	if err := s.kv.Set(ctx, Key, credential); err != nil {
		return fmt.Errorf("%w: set: %w", ErrStorage, err)
	}
	return nil
}

// Clear removes the persisted credential.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, Key); err != nil {
		return fmt.Errorf("%w: remove: %w", ErrStorage, err)
	}
	s.logger.Info("credential cleared")
	return nil
}

// Load returns the stored credential or derives and persists a new one from
// the session.
func (s *Store) Load(ctx context.Context) (string, error) {
	cred, ok, err := s.Get(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return cred, nil
	}

	s.logger.Info("no stored credential, exchanging session")
	cred, err = s.session.SessionToken(ctx)
	if err != nil {
		return "", fmt.Errorf("session exchange: %w", err)
	}
	if err := s.Set(ctx, cred); err != nil {
		return "", err
	}
	return cred, nil
}
