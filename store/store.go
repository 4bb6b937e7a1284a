// Package store persists sessions, messages, iterations, and artifacts.
//
// Two drivers are available: an in-memory store for tests and single
// process deployments, and a PostgREST-backed store for shared
// deployments.
package store

import (
	"context"
	"errors"

	"github.com/kaolin-io/kaolin/types"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidDriver is returned by the factory for unknown drivers.
	ErrInvalidDriver = errors.New("store: invalid driver")
	// ErrInvalidConfig is returned when a driver's required config is missing.
	ErrInvalidConfig = errors.New("store: invalid config")
)

// Store is the durable metadata store.
//
// DeleteSession cascades: the session's messages, iterations, and
// artifact records go with it. Iterations are append-only and keyed by
// the query ID that produced them.
type Store interface {
	CreateSession(ctx context.Context, session types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context, projectID string) ([]types.Session, error)
	RenameSession(ctx context.Context, id, name string) error
	DeleteSession(ctx context.Context, id string) error

	AddMessage(ctx context.Context, message types.Message) error
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]types.Message, error)

	AppendIteration(ctx context.Context, iteration types.Iteration) error
	ListIterations(ctx context.Context, queryID string) ([]types.Iteration, error)

	CreateArtifact(ctx context.Context, artifact types.Artifact) error
	GetArtifact(ctx context.Context, id string) (*types.Artifact, error)
	ListArtifacts(ctx context.Context, sessionID string) ([]types.Artifact, error)

	Close() error
}

// Driver identifies a store backend.
type Driver string

const (
	DriverMemory    Driver = "memory"
	DriverPostgrest Driver = "postgrest"
)

// Config configures the store factory.
type Config struct {
	// Driver selects the backend (default memory).
	Driver Driver
	// URL is the PostgREST endpoint (postgrest driver).
	URL string
	// APIKey is the PostgREST bearer token (postgrest driver, optional).
	APIKey string
	// Schema is the PostgREST schema (postgrest driver, default public).
	Schema string
}

// New creates a store for the configured driver.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverPostgrest:
		return newPostgrest(cfg)
	default:
		return nil, ErrInvalidDriver
	}
}
