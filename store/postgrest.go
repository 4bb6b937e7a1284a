package store

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"

	"github.com/kaolin-io/kaolin/types"
)

// Table names in the PostgREST schema.
const (
	tableSessions   = "sessions"
	tableMessages   = "messages"
	tableIterations = "iterations"
	tableArtifacts  = "artifacts"
)

// postgrestStore implements Store over a PostgREST endpoint.
type postgrestStore struct {
	client *postgrest.Client
}

func newPostgrest(cfg Config) (Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: postgrest driver requires a URL", ErrInvalidConfig)
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	client := postgrest.NewClient(cfg.URL, schema, nil)
	if cfg.APIKey != "" {
		client = client.SetAuthToken(cfg.APIKey).SetApiKey(cfg.APIKey)
	}
	return &postgrestStore{client: client}, nil
}

func (s *postgrestStore) CreateSession(ctx context.Context, session types.Session) error {
	_, _, err := s.client.From(tableSessions).Insert(session, false, "", "", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("store: create session %s: %w", session.ID, err)
	}
	return nil
}

func (s *postgrestStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var sessions []types.Session
	_, err := s.client.From(tableSessions).
		Select("*", "", false).
		Eq("id", id).
		ExecuteToWithContext(ctx, &sessions)
	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return &sessions[0], nil
}

func (s *postgrestStore) ListSessions(ctx context.Context, projectID string) ([]types.Session, error) {
	q := s.client.From(tableSessions).Select("*", "", false)
	if projectID != "" {
		q = q.Eq("project_id", projectID)
	}

	var sessions []types.Session
	_, err := q.Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteToWithContext(ctx, &sessions)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return sessions, nil
}

func (s *postgrestStore) RenameSession(ctx context.Context, id, name string) error {
	var updated []types.Session
	_, err := s.client.From(tableSessions).
		Update(map[string]any{"name": name}, "representation", "").
		Eq("id", id).
		ExecuteToWithContext(ctx, &updated)
	if err != nil {
		return fmt.Errorf("store: rename session %s: %w", id, err)
	}
	if len(updated) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgrestStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}

	// Iterations are keyed by query ID; delete through the session's
	// messages before the messages themselves go.
	var msgs []types.Message
	_, err := s.client.From(tableMessages).
		Select("*", "", false).
		Eq("session_id", id).
		ExecuteToWithContext(ctx, &msgs)
	if err != nil {
		return fmt.Errorf("store: delete session %s: list messages: %w", id, err)
	}
	for _, msg := range msgs {
		_, _, err := s.client.From(tableIterations).
			Delete("", "").
			Eq("query_id", msg.QueryID).
			ExecuteWithContext(ctx)
		if err != nil {
			return fmt.Errorf("store: delete session %s: iterations: %w", id, err)
		}
	}

	for _, table := range []string{tableMessages, tableArtifacts} {
		_, _, err := s.client.From(table).
			Delete("", "").
			Eq("session_id", id).
			ExecuteWithContext(ctx)
		if err != nil {
			return fmt.Errorf("store: delete session %s: %s: %w", id, table, err)
		}
	}

	_, _, err = s.client.From(tableSessions).
		Delete("", "").
		Eq("id", id).
		ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}

func (s *postgrestStore) AddMessage(ctx context.Context, message types.Message) error {
	_, _, err := s.client.From(tableMessages).Insert(message, false, "", "", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("store: add message %s: %w", message.ID, err)
	}
	return nil
}

func (s *postgrestStore) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]types.Message, error) {
	q := s.client.From(tableMessages).
		Select("*", "", false).
		Eq("session_id", sessionID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true})

	// PostgREST has no offset-without-limit form, so an unbounded
	// listing fetches from the start and trims here.
	trim := 0
	if limit > 0 {
		q = q.Range(offset, offset+limit-1, "")
	} else {
		trim = offset
	}

	var msgs []types.Message
	if _, err := q.ExecuteToWithContext(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("store: list messages %s: %w", sessionID, err)
	}
	if trim >= len(msgs) {
		return nil, nil
	}
	return msgs[trim:], nil
}

func (s *postgrestStore) AppendIteration(ctx context.Context, iteration types.Iteration) error {
	_, _, err := s.client.From(tableIterations).Insert(iteration, false, "", "", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("store: append iteration %s/%d: %w", iteration.QueryID, iteration.Index, err)
	}
	return nil
}

func (s *postgrestStore) ListIterations(ctx context.Context, queryID string) ([]types.Iteration, error) {
	var iters []types.Iteration
	_, err := s.client.From(tableIterations).
		Select("*", "", false).
		Eq("query_id", queryID).
		Order("index", &postgrest.OrderOpts{Ascending: true}).
		ExecuteToWithContext(ctx, &iters)
	if err != nil {
		return nil, fmt.Errorf("store: list iterations %s: %w", queryID, err)
	}
	return iters, nil
}

func (s *postgrestStore) CreateArtifact(ctx context.Context, artifact types.Artifact) error {
	_, _, err := s.client.From(tableArtifacts).Insert(artifact, false, "", "", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("store: create artifact %s: %w", artifact.ID, err)
	}
	return nil
}

func (s *postgrestStore) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	var artifacts []types.Artifact
	_, err := s.client.From(tableArtifacts).
		Select("*", "", false).
		Eq("id", id).
		ExecuteToWithContext(ctx, &artifacts)
	if err != nil {
		return nil, fmt.Errorf("store: get artifact %s: %w", id, err)
	}
	if len(artifacts) == 0 {
		return nil, ErrNotFound
	}
	return &artifacts[0], nil
}

func (s *postgrestStore) ListArtifacts(ctx context.Context, sessionID string) ([]types.Artifact, error) {
	var artifacts []types.Artifact
	_, err := s.client.From(tableArtifacts).
		Select("*", "", false).
		Eq("session_id", sessionID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteToWithContext(ctx, &artifacts)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts %s: %w", sessionID, err)
	}
	return artifacts, nil
}

func (s *postgrestStore) Close() error {
	return nil
}
