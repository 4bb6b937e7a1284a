// Package registry turns workspace files into durable artifact records.
//
// Registration is the only path by which a workspace file becomes an
// artifact. New files produced during a reasoning loop are discovered
// by diffing workspace listings taken before and after the loop.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaolin-io/kaolin/log"
	"github.com/kaolin-io/kaolin/types"
)

// ArtifactStore persists artifact records. Implemented by the store
// package; narrowed here so tests can substitute a spy.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact types.Artifact) error
}

// Registry creates artifact records for workspace files.
type Registry struct {
	store  ArtifactStore
	logger *log.Logger
}

// New creates a registry backed by the given store.
func New(store ArtifactStore, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewLogger("registry")
	}
	return &Registry{store: store, logger: logger}
}

// FileType infers a file's type from its name's extension,
// case-insensitively. An unrecognized shape (no extension) maps to
// "unknown" rather than failing.
func FileType(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return "unknown"
	}
	return strings.ToLower(fileName[idx+1:])
}

// MIMEType maps a file type to its MIME content type, defaulting to
// application/octet-stream.
func MIMEType(fileType string) string {
	mimes := map[string]string{
		"csv":  "text/csv",
		"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"xls":  "application/vnd.ms-excel",
		"json": "application/json",
		"png":  "image/png",
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"gif":  "image/gif",
		"py":   "text/x-python",
		"txt":  "text/plain",
		"md":   "text/markdown",
	}
	if m, ok := mimes[fileType]; ok {
		return m
	}
	return "application/octet-stream"
}

// DiffNew returns the files in after whose name is absent from before,
// in after's order. The comparison is by name, not content: a file
// overwritten in place during a loop is not re-registered. Deliberate
// simplification; artifact versioning is out of scope.
func DiffNew(before, after []types.WorkspaceFile) []types.WorkspaceFile {
	known := make(map[string]struct{}, len(before))
	for _, f := range before {
		known[f.Name] = struct{}{}
	}

	var fresh []types.WorkspaceFile
	for _, f := range after {
		if _, ok := known[f.Name]; !ok {
			fresh = append(fresh, f)
		}
	}
	return fresh
}

// Register creates exactly one durable artifact record for a workspace
// file. messageID may be empty when the owning message is not yet
// known.
func (r *Registry) Register(ctx context.Context, sessionID, messageID string, file types.WorkspaceFile, metadata map[string]any) (types.Artifact, error) {
	artifact := types.Artifact{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		MessageID: messageID,
		FileName:  file.Name,
		FileType:  FileType(file.Name),
		Size:      file.Size,
		Key:       file.Key,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.store.CreateArtifact(ctx, artifact); err != nil {
		return types.Artifact{}, fmt.Errorf("registry: register %s: %w", file.Name, err)
	}
	return artifact, nil
}

// CaptureNew diffs two workspace listings and registers every new
// file. A failure on one file is logged and the file skipped; the
// remaining files are still registered, since the reasoning result may
// be valuable even when one record cannot be written.
func (r *Registry) CaptureNew(ctx context.Context, sessionID, messageID string, before, after []types.WorkspaceFile) []types.Artifact {
	fresh := DiffNew(before, after)

	artifacts := make([]types.Artifact, 0, len(fresh))
	for _, f := range fresh {
		artifact, err := r.Register(ctx, sessionID, messageID, f, nil)
		if err != nil {
			r.logger.Warn("artifact registration failed", map[string]any{
				"session_id": sessionID,
				"file":       f.Name,
				"error":      err.Error(),
			})
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts
}
