package types

import "time"

// Session is a bounded unit of conversation plus workspace state.
// Its workspace prefix is derived solely from the session ID; deleting
// a session cascades to its workspace files and artifacts.
type Session struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRole identifies the author of a message.
type MessageRole string

// Message role constants.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one durable exchange entry in a session's history.
// A user query and the assistant's answer share a QueryID, which also
// keys the iteration trace recorded while the answer was produced.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	QueryID   string         `json:"query_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WorkspaceFile is a live object-store listing entry under a session's
// prefix. It is not persisted; it becomes an Artifact only when
// registered.
type WorkspaceFile struct {
	// Name is the file name relative to the session prefix.
	Name string `json:"name"`
	// Key is the full object-store key.
	Key string `json:"key"`
	// Size is the object size in bytes.
	Size int64 `json:"size"`
}

// Artifact is a durably registered file produced or uploaded within a
// session. Artifacts are immutable once created; new versions are new
// artifacts.
type Artifact struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// MessageID links the artifact to the message whose query produced
	// it, when known.
	MessageID string `json:"message_id,omitempty"`
	FileName  string `json:"file_name"`
	// FileType is inferred from the name's extension; "unknown" when
	// the extension is unrecognized.
	FileType string `json:"file_type"`
	Size     int64  `json:"size"`
	// Key is the object-store key holding the content.
	Key       string         `json:"key"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Iteration is one reason, code, execute, observe cycle within a
// single query's reasoning loop. Iterations are appended in order and
// never mutated; together they form the durable trace of one query.
type Iteration struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// QueryID groups the iterations of one query.
	QueryID string `json:"query_id"`
	// Index is the one-based iteration ordinal.
	Index int `json:"index"`
	// Thoughts is the reasoning text for this cycle.
	Thoughts string `json:"thoughts"`
	// Code is the generated code, empty when the engine answered
	// without code.
	Code string `json:"code,omitempty"`
	// ExecutionLog is the raw stdout/stderr from the sandbox.
	ExecutionLog string `json:"execution_log,omitempty"`
	// Observation is the typed execution result.
	Observation Observation `json:"observation"`
	// Success reports whether the executed code ran without error.
	Success bool `json:"success"`
	// Error is the execution error text on failure; it is fed into the
	// next iteration as correction context.
	Error string `json:"error,omitempty"`
	// FinalAnswer is the distinguished answer payload, set only on the
	// iteration that ends the loop with an answer.
	FinalAnswer string `json:"final_answer,omitempty"`
	// Final reports whether this iteration ended the loop.
	Final     bool      `json:"final"`
	CreatedAt time.Time `json:"created_at"`
}
