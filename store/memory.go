package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kaolin-io/kaolin/types"
)

// memoryStore implements Store with in-process maps.
type memoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]types.Session
	messages   map[string][]types.Message   // keyed by session ID
	iterations map[string][]types.Iteration // keyed by query ID
	artifacts  map[string]types.Artifact
}

// NewMemory creates an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		sessions:   make(map[string]types.Session),
		messages:   make(map[string][]types.Message),
		iterations: make(map[string][]types.Iteration),
		artifacts:  make(map[string]types.Artifact),
	}
}

func (s *memoryStore) CreateSession(_ context.Context, session types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	s.sessions[session.ID] = session
	return nil
}

func (s *memoryStore) GetSession(_ context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *memoryStore) ListSessions(_ context.Context, projectID string) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []types.Session
	for _, session := range s.sessions {
		if projectID == "" || session.ProjectID == projectID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *memoryStore) RenameSession(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Name = name
	session.UpdatedAt = time.Now().UTC()
	s.sessions[id] = session
	return nil
}

func (s *memoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)

	// Cascade: iterations are keyed by query ID, so walk the session's
	// messages to find them.
	for _, msg := range s.messages[id] {
		delete(s.iterations, msg.QueryID)
	}
	delete(s.messages, id)

	for artifactID, artifact := range s.artifacts {
		if artifact.SessionID == id {
			delete(s.artifacts, artifactID)
		}
	}
	return nil
}

func (s *memoryStore) AddMessage(_ context.Context, message types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return nil
}

func (s *memoryStore) ListMessages(_ context.Context, sessionID string, limit, offset int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}

	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memoryStore) AppendIteration(_ context.Context, iteration types.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if iteration.CreatedAt.IsZero() {
		iteration.CreatedAt = time.Now().UTC()
	}
	s.iterations[iteration.QueryID] = append(s.iterations[iteration.QueryID], iteration)
	return nil
}

func (s *memoryStore) ListIterations(_ context.Context, queryID string) ([]types.Iteration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iters := s.iterations[queryID]
	out := make([]types.Iteration, len(iters))
	copy(out, iters)
	return out, nil
}

func (s *memoryStore) CreateArtifact(_ context.Context, artifact types.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	s.artifacts[artifact.ID] = artifact
	return nil
}

func (s *memoryStore) GetArtifact(_ context.Context, id string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &artifact, nil
}

func (s *memoryStore) ListArtifacts(_ context.Context, sessionID string) ([]types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var artifacts []types.Artifact
	for _, artifact := range s.artifacts {
		if artifact.SessionID == sessionID {
			artifacts = append(artifacts, artifact)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	s.messages = nil
	s.iterations = nil
	s.artifacts = nil
	return nil
}
