package server

import (
	"errors"
	"net/http"
	"path"

	"github.com/kaolin-io/kaolin/store"
	"github.com/kaolin-io/kaolin/types"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing;
// larger files spill to disk.
const maxUploadMemory = 32 << 20

// handleUpload stages a file into the session workspace and registers
// it as an artifact in one request. A registration failure fails the
// request; the caller retries and the overwrite is harmless.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	logger := s.logger.WithSession(sessionID)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	fileName := path.Base(header.Filename)
	if fileName == "" || fileName == "." || fileName == "/" {
		writeError(w, http.StatusBadRequest, "file name is required")
		return
	}

	wsFile, err := s.workspace.Upload(r.Context(), sessionID, fileName, file, header.Size)
	if err != nil {
		logger.Error("upload failed", map[string]any{"file": fileName, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	artifact, err := s.registrar.Register(r.Context(), sessionID, "", wsFile, map[string]any{
		"source": "upload",
	})
	if err != nil {
		logger.Error("artifact registration failed", map[string]any{"file": fileName, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not register file")
		return
	}

	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	files, err := s.workspace.List(r.Context(), sessionID)
	if err != nil {
		s.logger.WithSession(sessionID).Error("workspace listing failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not list workspace files")
		return
	}
	if files == nil {
		files = []types.WorkspaceFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	artifacts, err := s.store.ListArtifacts(r.Context(), sessionID)
	if err != nil {
		s.logger.WithSession(sessionID).Error("list artifacts failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []types.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// handleDownloadArtifact redirects to a short-lived presigned URL; the
// object store serves the bytes directly.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.store.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("get artifact failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "could not load artifact")
		return
	}

	url, err := s.workspace.PresignedURL(r.Context(), artifact.SessionID, artifact.FileName)
	if err != nil {
		s.logger.WithSession(artifact.SessionID).Error("presign failed", map[string]any{
			"file":  artifact.FileName,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "could not mint download URL")
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}
