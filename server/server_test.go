package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kaolin-io/kaolin/runtime"
	"github.com/kaolin-io/kaolin/store"
	"github.com/kaolin-io/kaolin/stream"
	"github.com/kaolin-io/kaolin/types"
)

// fakeProcessor replays a scripted event sequence.
type fakeProcessor struct {
	events  []types.StreamEvent
	lastReq runtime.QueryRequest
}

func (p *fakeProcessor) ProcessQuery(_ context.Context, req runtime.QueryRequest) <-chan types.StreamEvent {
	p.lastReq = req
	ch := make(chan types.StreamEvent, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	close(ch)
	return ch
}

// fakeWorkspace keeps file contents in memory.
type fakeWorkspace struct {
	files       map[string][]byte
	deleteCalls int
	listErr     error
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{files: make(map[string][]byte)}
}

func (f *fakeWorkspace) key(sessionID, name string) string {
	return "sessions/" + sessionID + "/" + name
}

func (f *fakeWorkspace) List(_ context.Context, sessionID string) ([]types.WorkspaceFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	prefix := "sessions/" + sessionID + "/"
	var out []types.WorkspaceFile
	for key, body := range f.files {
		if strings.HasPrefix(key, prefix) {
			out = append(out, types.WorkspaceFile{
				Name: strings.TrimPrefix(key, prefix),
				Key:  key,
				Size: int64(len(body)),
			})
		}
	}
	return out, nil
}

func (f *fakeWorkspace) Upload(_ context.Context, sessionID, fileName string, body io.Reader, size int64) (types.WorkspaceFile, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return types.WorkspaceFile{}, err
	}
	key := f.key(sessionID, fileName)
	f.files[key] = data
	return types.WorkspaceFile{Name: fileName, Key: key, Size: size}, nil
}

func (f *fakeWorkspace) Download(_ context.Context, sessionID, fileName string) (io.ReadCloser, error) {
	body, ok := f.files[f.key(sessionID, fileName)]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeWorkspace) DeleteAll(_ context.Context, sessionID string) (int, error) {
	f.deleteCalls++
	prefix := "sessions/" + sessionID + "/"
	n := 0
	for key := range f.files {
		if strings.HasPrefix(key, prefix) {
			delete(f.files, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeWorkspace) PresignedURL(_ context.Context, sessionID, fileName string) (string, error) {
	return "https://signed.example.com/" + f.key(sessionID, fileName), nil
}

// fakeRegistrar records artifacts through the store like the real one.
type fakeRegistrar struct {
	store    store.Store
	failNext bool
	seq      int
}

func (r *fakeRegistrar) Register(ctx context.Context, sessionID, messageID string, file types.WorkspaceFile, metadata map[string]any) (types.Artifact, error) {
	if r.failNext {
		r.failNext = false
		return types.Artifact{}, errors.New("registration failed")
	}
	r.seq++
	artifact := types.Artifact{
		ID:        fmt.Sprintf("artifact-%d", r.seq),
		SessionID: sessionID,
		MessageID: messageID,
		FileName:  file.Name,
		FileType:  "csv",
		Size:      file.Size,
		Key:       file.Key,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateArtifact(ctx, artifact); err != nil {
		return types.Artifact{}, err
	}
	return artifact, nil
}

type fixture struct {
	processor *fakeProcessor
	workspace *fakeWorkspace
	registrar *fakeRegistrar
	store     store.Store
	server    *Server
}

func newFixture() *fixture {
	st := store.NewMemory()
	processor := &fakeProcessor{}
	ws := newFakeWorkspace()
	registrar := &fakeRegistrar{store: st}
	srv := New(processor, ws, registrar, st, nil, nil, nil, Config{})
	return &fixture{processor: processor, workspace: ws, registrar: registrar, store: st, server: srv}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) mustCreateSession(t *testing.T, name string) types.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"project_id":"p1","name":"`+name+`"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rec.Code, rec.Body.String())
	}
	var session types.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["version"] != types.Version {
		t.Errorf("expected version %s, got %q", types.Version, body["version"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture()

	session := f.mustCreateSession(t, "analysis")
	if session.ID == "" {
		t.Fatal("expected generated session ID")
	}

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPatch, "/api/v1/sessions/"+session.ID, strings.NewReader(`{"name":"renamed"}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename: expected 204, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sessions?project_id=p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var sessions []types.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "renamed" {
		t.Fatalf("expected one renamed session, got %+v", sessions)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+session.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	if f.workspace.deleteCalls != 1 {
		t.Errorf("expected one workspace purge, got %d", f.workspace.deleteCalls)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestRenameSession_NotFound(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPatch, "/api/v1/sessions/missing", strings.NewReader(`{"name":"x"}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestQuery_StreamsEvents(t *testing.T) {
	f := newFixture()

	started := types.NewStreamEvent(types.PhaseStarted, "coder", "Starting analysis")
	done := types.NewStreamEvent(types.PhaseCompleted, "coder", "Analysis complete")
	f.processor.events = []types.StreamEvent{started, done}

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/s1/query",
		strings.NewReader(`{"query":"plot revenue","model":"gpt-4o"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	if f.processor.lastReq.SessionID != "s1" || f.processor.lastReq.Query != "plot revenue" {
		t.Errorf("unexpected request: %+v", f.processor.lastReq)
	}
	if f.processor.lastReq.Model != "gpt-4o" {
		t.Errorf("expected model override, got %q", f.processor.lastReq.Model)
	}

	dec := stream.NewDecoder(rec.Body)
	var got []types.StreamEvent
	for {
		ev, err := dec.Next()
		if err != nil {
			break
		}
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 framed events, got %d", len(got))
	}
	if got[0].EventType != types.PhaseStarted || got[1].EventType != types.PhaseCompleted {
		t.Errorf("unexpected event order: %s, %s", got[0].EventType, got[1].EventType)
	}
}

func TestQuery_MissingQuery(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions/s1/query", strings.NewReader(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// failingWriter drops the connection after headers, as a disconnected
// client would.
type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (w *failingWriter) WriteHeader(int)           {}

func TestQuery_DrainsAfterClientGone(t *testing.T) {
	f := newFixture()
	f.processor.events = []types.StreamEvent{
		types.NewStreamEvent(types.PhaseStarted, "coder", ""),
		types.NewStreamEvent(types.PhaseThinking, "coder", ""),
		types.NewStreamEvent(types.PhaseCompleted, "coder", ""),
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/query",
		strings.NewReader(`{"query":"q"}`))
	req.Header.Set("Content-Type", "application/json")

	// The handler must return normally despite every write failing,
	// which means the producer channel was drained to close.
	f.server.ServeHTTP(&failingWriter{}, req)
}

func TestHistory_AttachesIterations(t *testing.T) {
	f := newFixture()
	ctx := t.Context()
	session := f.mustCreateSession(t, "s")

	now := time.Now().UTC()
	queryID := "q-1"
	if err := f.store.AddMessage(ctx, types.Message{
		ID: "m1", SessionID: session.ID, QueryID: queryID,
		Role: types.RoleUser, Content: "plot revenue", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AppendIteration(ctx, types.Iteration{
		ID: "i1", SessionID: session.ID, QueryID: queryID, Index: 1, Success: true, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AddMessage(ctx, types.Message{
		ID: "m2", SessionID: session.ID, QueryID: queryID,
		Role: types.RoleAssistant, Content: "done", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+session.ID+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var entries []historyEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if len(entries[0].Iterations) != 0 {
		t.Errorf("user message should carry no iterations")
	}
	if len(entries[1].Iterations) != 1 || entries[1].Iterations[0].Index != 1 {
		t.Errorf("assistant message should carry the iteration trace, got %+v", entries[1].Iterations)
	}
}

func multipartBody(t *testing.T, fileName, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload_StoresAndRegisters(t *testing.T) {
	f := newFixture()

	body, contentType := multipartBody(t, "sales.csv", "a,b\n1,2\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var artifact types.Artifact
	if err := json.Unmarshal(rec.Body.Bytes(), &artifact); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if artifact.FileName != "sales.csv" {
		t.Errorf("expected file_name sales.csv, got %q", artifact.FileName)
	}
	if _, ok := f.workspace.files["sessions/s1/sales.csv"]; !ok {
		t.Error("expected file in workspace")
	}

	stored, err := f.store.ListArtifacts(t.Context(), "s1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one stored artifact, got %v (%v)", stored, err)
	}
}

func TestUpload_RegistrationFailureFailsRequest(t *testing.T) {
	f := newFixture()
	f.registrar.failNext = true

	body, contentType := multipartBody(t, "sales.csv", "a,b\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	f := newFixture()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "no file here")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDownloadArtifact_Redirects(t *testing.T) {
	f := newFixture()
	if err := f.store.CreateArtifact(t.Context(), types.Artifact{
		ID: "a1", SessionID: "s1", FileName: "chart.png", FileType: "png",
		Key: "sessions/s1/chart.png", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/artifacts/a1/download", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://signed.example.com/sessions/s1/chart.png" {
		t.Errorf("unexpected redirect target %q", loc)
	}
}

func TestDownloadArtifact_NotFound(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/artifacts/missing/download", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListFiles(t *testing.T) {
	f := newFixture()
	f.workspace.files["sessions/s1/data.csv"] = []byte("x")

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/s1/files", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var files []types.WorkspaceFile
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("decode files: %v", err)
	}
	if len(files) != 1 || files[0].Name != "data.csv" {
		t.Errorf("unexpected listing: %+v", files)
	}
}

func TestStatus_NoStateCache(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/sessions/s1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Active {
		t.Error("expected inactive status without a state cache")
	}
}

func TestStats_NilCollector(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.QueriesStarted != 0 {
		t.Errorf("expected zero counters, got %+v", stats)
	}
}
