package server

import (
	"encoding/json"
	"net/http"

	"github.com/kaolin-io/kaolin/runtime"
	"github.com/kaolin-io/kaolin/stream"
)

type queryRequest struct {
	Query   string   `json:"query"`
	FileIDs []string `json:"file_ids,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// handleQuery streams the query's events as server-sent events. The
// producer channel is drained to the end even if the client
// disconnects mid-stream, so the pipeline always finishes its cleanup
// and persistence.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	events := s.processor.ProcessQuery(r.Context(), runtime.QueryRequest{
		SessionID: sessionID,
		Query:     req.Query,
		FileIDs:   req.FileIDs,
		Model:     req.Model,
	})

	ew := stream.NewEventWriter(w, flusher)
	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		if err := ew.Write(ev); err != nil {
			// Keep draining so the producer's terminal event and
			// cleanup are never stranded.
			clientGone = true
			s.logger.WithSession(sessionID).Debug("client disconnected mid-stream", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// statusResponse reports transient per-session progress from the state
// cache plus the recent console tail.
type statusResponse struct {
	Active    bool     `json:"active"`
	QueryID   string   `json:"query_id,omitempty"`
	Phase     string   `json:"phase,omitempty"`
	Iteration int      `json:"iteration,omitempty"`
	Console   []string `json:"console,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if s.state == nil {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}

	st, err := s.state.GetState(r.Context(), sessionID)
	if err != nil {
		s.logger.WithSession(sessionID).Error("state lookup failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not read session state")
		return
	}
	if st == nil {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}

	console, err := s.state.Console(r.Context(), sessionID)
	if err != nil {
		s.logger.WithSession(sessionID).Warn("console read failed", map[string]any{"error": err.Error()})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Active:    true,
		QueryID:   st.QueryID,
		Phase:     st.Phase,
		Iteration: st.Iteration,
		Console:   console,
	})
}
