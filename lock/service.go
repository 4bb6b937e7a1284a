// Package lock implements distributed session mutual exclusion over Redis.
//
// The lock is a key with expiry, set atomically with SET NX EX. At most
// one reasoning loop may hold a session's lock at a time across all
// service instances. The TTL is a crash-recovery safety net: if a
// holder dies without releasing, the lock self-expires instead of
// deadlocking the session.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// keyPrefix namespaces lock keys in Redis.
const keyPrefix = "session:busy:"

// DefaultTTL is the default lock expiry. It must exceed the maximum
// plausible loop duration (iteration budget times per-iteration
// timeout) with margin.
const DefaultTTL = 300 * time.Second

// Config configures the lock service.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// TTL is the lock expiry (default 300s).
	TTL time.Duration
}

// Service acquires and releases per-session locks.
type Service struct {
	client *goredis.Client
	ttl    time.Duration
}

// New creates a lock service from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Service, error) {
	if cfg.URL == "" {
		return nil, errors.New("lock service requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("lock service: invalid URL: %w", err)
	}

	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	return &Service{client: goredis.NewClient(opts), ttl: cfg.TTL}, nil
}

// NewWithClient creates a lock service over an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{client: client, ttl: ttl}
}

// Acquire attempts to take the session's lock. Returns false, without
// error, when the session is already locked. Only Acquire's return
// value may gate entry into the critical section.
func (s *Service) Acquire(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+sessionID, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", sessionID, err)
	}
	return ok, nil
}

// Release deletes the session's lock. Releasing an already-released or
// expired lock is a no-op, never an error.
func (s *Service) Release(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("lock: release %s: %w", sessionID, err)
	}
	return nil
}

// IsLocked reports whether the session's lock key exists. Advisory
// only; never use it for correctness decisions.
func (s *Service) IsLocked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("lock: check %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// TTL returns the configured lock expiry.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Close releases the underlying client.
func (s *Service) Close() error {
	return s.client.Close()
}
