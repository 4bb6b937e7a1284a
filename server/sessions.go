package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kaolin-io/kaolin/store"
	"github.com/kaolin-io/kaolin/types"
)

// defaultHistoryLimit caps history pages when the client omits limit.
const defaultHistoryLimit = 50

type createSessionRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := time.Now().UTC()
	session := types.Session{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.Name == "" {
		session.Name = "Untitled session"
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.logger.Error("create session failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		s.logger.Error("list sessions failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.store.RenameSession(r.Context(), r.PathValue("id"), req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("rename session failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not rename session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	logger := s.logger.WithSession(sessionID)

	// Workspace purge is best effort; the store delete decides the
	// response.
	if deleted, err := s.workspace.DeleteAll(r.Context(), sessionID); err != nil {
		logger.Warn("workspace purge incomplete", map[string]any{
			"deleted": deleted,
			"error":   err.Error(),
		})
	}

	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		logger.Error("delete session failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// historyEntry is one message with the iteration trace of the query
// that produced it, attached to assistant messages only.
type historyEntry struct {
	types.Message
	Iterations []types.Iteration `json:"iterations,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit := queryInt(r, "limit", defaultHistoryLimit)
	offset := queryInt(r, "offset", 0)

	messages, err := s.store.ListMessages(r.Context(), sessionID, limit, offset)
	if err != nil {
		s.logger.WithSession(sessionID).Error("list messages failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}

	entries := make([]historyEntry, 0, len(messages))
	for _, msg := range messages {
		entry := historyEntry{Message: msg}
		if msg.Role == types.RoleAssistant && msg.QueryID != "" {
			iterations, err := s.store.ListIterations(r.Context(), msg.QueryID)
			if err != nil {
				s.logger.WithSession(sessionID).Warn("list iterations failed", map[string]any{
					"query_id": msg.QueryID,
					"error":    err.Error(),
				})
			} else {
				entry.Iterations = iterations
			}
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
