package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// State key prefixes. State and console entries share the lock TTL so
// stale entries from a crashed holder expire on their own.
const (
	stateKeyPrefix   = "session:state:"
	consoleKeyPrefix = "session:console:"
)

// State is the transient per-session progress snapshot cached in Redis
// while a query runs. It lets other service instances answer "what is
// this session doing" without touching the durable store.
type State struct {
	QueryID   string    `msgpack:"query_id"`
	Phase     string    `msgpack:"phase"`
	Iteration int       `msgpack:"iteration"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// StateCache stores transient session state and console output in
// Redis. Entries expire with the lock TTL.
type StateCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewStateCache creates a state cache over an existing client.
func NewStateCache(client *goredis.Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StateCache{client: client, ttl: ttl}
}

// SetState writes the session's progress snapshot.
func (c *StateCache) SetState(ctx context.Context, sessionID string, st State) error {
	body, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", sessionID, err)
	}
	if err := c.client.Set(ctx, stateKeyPrefix+sessionID, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("state: set %s: %w", sessionID, err)
	}
	return nil
}

// GetState reads the session's progress snapshot. Returns nil, without
// error, when no snapshot exists.
func (c *StateCache) GetState(ctx context.Context, sessionID string) (*State, error) {
	body, err := c.client.Get(ctx, stateKeyPrefix+sessionID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: get %s: %w", sessionID, err)
	}

	var st State
	if err := msgpack.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("state: unmarshal %s: %w", sessionID, err)
	}
	return &st, nil
}

// AppendConsole appends one console line to the session's console log.
func (c *StateCache) AppendConsole(ctx context.Context, sessionID, line string) error {
	key := consoleKeyPrefix + sessionID
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, line)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: append console %s: %w", sessionID, err)
	}
	return nil
}

// Console returns the session's console lines in append order.
func (c *StateCache) Console(ctx context.Context, sessionID string) ([]string, error) {
	lines, err := c.client.LRange(ctx, consoleKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("state: console %s: %w", sessionID, err)
	}
	return lines, nil
}

// Clear removes the session's state and console entries. Clearing a
// session with no entries is a no-op.
func (c *StateCache) Clear(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, stateKeyPrefix+sessionID, consoleKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("state: clear %s: %w", sessionID, err)
	}
	return nil
}
