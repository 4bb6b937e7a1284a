// Package sandbox runs generated code in an external execution service.
//
// The sandbox is a black box: it receives code plus the session's
// workspace files and returns stdout/stderr, a typed observation, and
// an optional final answer. A Go error from Execute means the service
// itself failed (infrastructure failure); code-level failures come
// back as a Result with Success false and are input to the next
// reasoning iteration, not errors.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaolin-io/kaolin/types"
)

// DefaultTimeout is the default per-execution timeout.
const DefaultTimeout = 60 * time.Second

// DefaultRetries is the default number of retry attempts on transport
// failures.
const DefaultRetries = 2

// Request is one code execution.
type Request struct {
	// SessionID scopes the execution to a session's workspace.
	SessionID string `json:"session_id"`
	// Code is the code to run.
	Code string `json:"code"`
	// Files are the workspace file names staged into the sandbox's
	// working directory.
	Files []string `json:"files,omitempty"`
}

// Result is the outcome of one execution.
type Result struct {
	// Success reports whether the code ran without error.
	Success bool `json:"success"`
	// Log is the combined stdout/stderr.
	Log string `json:"log"`
	// Observation is the typed result the code produced.
	Observation types.Observation `json:"observation"`
	// FinalAnswer carries the distinguished answer value, when the
	// code produced one.
	FinalAnswer string `json:"final_answer,omitempty"`
	// Error is the code-level error text on failure.
	Error string `json:"error,omitempty"`
}

// Executor runs code. Implementations must honor context cancellation.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Config configures the HTTP executor.
type Config struct {
	// URL is the execution service endpoint (required).
	URL string
	// Timeout is the per-execution timeout (default 60s).
	Timeout time.Duration
	// Retries is the number of retry attempts on transport failures
	// (default 2). Code-level failures are never retried here.
	Retries int
}

// HTTPExecutor implements Executor against an HTTP execution service.
type HTTPExecutor struct {
	config Config
	client *http.Client
}

// NewHTTP creates an HTTP executor from the given config.
func NewHTTP(cfg Config) (*HTTPExecutor, error) {
	if cfg.URL == "" {
		return nil, errors.New("sandbox executor requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &HTTPExecutor{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Execute posts the request and decodes the result. Retries with
// exponential backoff on transport errors and 5xx responses.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal request: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + e.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sandbox: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("sandbox: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err := e.post(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("sandbox: failed after %d attempts: %w", attempts, lastErr)
}

func (e *HTTPExecutor) post(ctx context.Context, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
