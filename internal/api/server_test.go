package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/archivist/internal/backup"
	"github.com/MikeSquared-Agency/archivist/internal/chatapi"
	"github.com/MikeSquared-Agency/archivist/internal/conversation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackups struct {
	mu        sync.Mutex
	busy      bool
	fullReqs  []backup.FullRequest
	singleURL []string
	err       error
}

func (f *fakeBackups) StartFull(_ context.Context, req backup.FullRequest) (<-chan backup.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, backup.ErrBusy
	}
	f.fullReqs = append(f.fullReqs, req)
	return done(&backup.Result{RunID: uuid.New()}, f.err), nil
}

func (f *fakeBackups) StartSingle(ctx context.Context, url string) (<-chan backup.Outcome, error) {
	if f.busy {
		return nil, backup.ErrBusy
	}
	res, err := f.Single(ctx, url)
	return done(res, err), nil
}

func (f *fakeBackups) Single(_ context.Context, url string) (*backup.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, backup.ErrBusy
	}
	f.singleURL = append(f.singleURL, url)
	if f.err != nil {
		return nil, f.err
	}
	return &backup.Result{
		RunID:    uuid.New(),
		Location: "chat-x.json",
		Records:  []conversation.Normalized{{Title: "only", Messages: []conversation.Message{}}},
	}, nil
}

func done(res *backup.Result, err error) <-chan backup.Outcome {
	ch := make(chan backup.Outcome, 1)
	ch <- backup.Outcome{Result: res, Err: err}
	return ch
}

func newTestServer(token string, b *fakeBackups) (*Server, *Dispatcher) {
	d := NewDispatcher(context.Background(), b, 0, -1, discardLogger())
	return NewServer(8760, token, d, NewStatusTracker()), d
}

func do(srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer("", &fakeBackups{})

	w := do(srv, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := newTestServer("", &fakeBackups{})

	if w := do(srv, "GET", "/nonexistent", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBackups_RequireToken(t *testing.T) {
	srv, _ := newTestServer("secret", &fakeBackups{})

	if w := do(srv, "GET", "/api/v1/backups/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := do(srv, "GET", "/api/v1/backups/status", "", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := do(srv, "GET", "/api/v1/backups/status", "", "secret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestStartFull_UsesDefaultsAndOverrides(t *testing.T) {
	b := &fakeBackups{}
	srv, d := newTestServer("", b)

	if w := do(srv, "POST", "/api/v1/backups/full", "", ""); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	d.Wait()
	if w := do(srv, "POST", "/api/v1/backups/full", `{"start_offset":20,"stop_offset":60}`, ""); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	d.Wait()

	if len(b.fullReqs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(b.fullReqs))
	}
	if b.fullReqs[0].StartOffset != 0 || b.fullReqs[0].StopOffset != nil {
		t.Errorf("default request = %+v", b.fullReqs[0])
	}
	if b.fullReqs[1].StartOffset != 20 || b.fullReqs[1].StopOffset == nil || *b.fullReqs[1].StopOffset != 60 {
		t.Errorf("override request = %+v", b.fullReqs[1])
	}
}

func TestStartFull_Busy(t *testing.T) {
	srv, _ := newTestServer("", &fakeBackups{busy: true})

	if w := do(srv, "POST", "/api/v1/backups/full", "", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestStartFull_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer("", &fakeBackups{})

	if w := do(srv, "POST", "/api/v1/backups/full", "{", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStartSingle_ReturnsConversation(t *testing.T) {
	b := &fakeBackups{}
	srv, _ := newTestServer("", b)

	w := do(srv, "POST", "/api/v1/backups/single", `{"url":"https://chat.openai.com/c/a-b-c"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Status       string                    `json:"status"`
		Location     string                    `json:"location"`
		Conversation []conversation.Normalized `json:"conversation"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "done" || body.Location != "chat-x.json" {
		t.Errorf("unexpected body %+v", body)
	}
	if len(body.Conversation) != 1 || body.Conversation[0].Title != "only" {
		t.Errorf("unexpected conversation %+v", body.Conversation)
	}
	if len(b.singleURL) != 1 || b.singleURL[0] != "https://chat.openai.com/c/a-b-c" {
		t.Errorf("single urls = %v", b.singleURL)
	}
}

func TestStartSingle_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{backup.ErrBusy, http.StatusConflict},
		{backup.ErrInvalidURL, http.StatusBadRequest},
		{errors.New("upstream"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		srv, _ := newTestServer("", &fakeBackups{err: tt.err})
		w := do(srv, "POST", "/api/v1/backups/single", `{"url":"x"}`, "")
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestStatusTracker(t *testing.T) {
	tr := NewStatusTracker()
	ctx := context.Background()
	id := uuid.New()

	tr.Report(ctx, backup.Event{RunID: id, Kind: backup.EventStarted})
	tr.Report(ctx, backup.Event{RunID: id, Kind: backup.EventFetched, Done: 3, Expected: 10})

	s := tr.Snapshot()
	if !s.Running || s.Current == nil || s.Current.Done != 3 {
		t.Errorf("unexpected running snapshot %+v", s)
	}

	tr.Report(ctx, backup.Event{RunID: id, Kind: backup.EventCompleted, Done: 10})
	s = tr.Snapshot()
	if s.Running || s.Current != nil {
		t.Errorf("expected idle after completion, got %+v", s)
	}
	if s.Last == nil || s.Last.Kind != backup.EventCompleted || s.Last.Done != 10 {
		t.Errorf("unexpected last %+v", s.Last)
	}
}

func TestHandleBackupRequest(t *testing.T) {
	b := &fakeBackups{}
	d := NewDispatcher(context.Background(), b, 5, -1, discardLogger())

	d.HandleBackupRequest("swarm.archivist.backup.request", []byte(`{"workflow":"full","stop_offset":45}`))
	d.Wait()
	d.HandleBackupRequest("swarm.archivist.backup.request", []byte(`{"workflow":"single","url":"https://x/c/a-b-c"}`))
	d.Wait()
	d.HandleBackupRequest("swarm.archivist.backup.request", []byte(`not json`))
	d.HandleBackupRequest("swarm.archivist.backup.request", []byte(`{"workflow":"weekly"}`))
	d.Wait()

	if len(b.fullReqs) != 1 {
		t.Fatalf("expected 1 full run, got %d", len(b.fullReqs))
	}
	if b.fullReqs[0].StartOffset != 5 || b.fullReqs[0].StopOffset == nil || *b.fullReqs[0].StopOffset != 45 {
		t.Errorf("unexpected full request %+v", b.fullReqs[0])
	}
	if len(b.singleURL) != 1 || b.singleURL[0] != "https://x/c/a-b-c" {
		t.Errorf("single urls = %v", b.singleURL)
	}
}

// gatedCreds blocks Load until the gate is closed so a run stays in flight.
type gatedCreds struct {
	gate chan struct{}
}

func (g *gatedCreds) Load(ctx context.Context) (string, error) {
	select {
	case <-g.gate:
		return "cred", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedCreds) Clear(context.Context) error { return nil }

type emptyService struct{}

func (emptyService) ListPage(context.Context, string, int) (chatapi.Page, error) {
	return chatapi.Page{}, nil
}

func (emptyService) ListFirstID(context.Context, string) (string, error) {
	return "", chatapi.ErrList
}

func (emptyService) FetchConversation(context.Context, string, string) (*conversation.RawDocument, error) {
	return nil, chatapi.ErrFetch
}

type countingExporter struct {
	mu    sync.Mutex
	count int
}

func (c *countingExporter) Export(context.Context, []conversation.Normalized, string, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return "chat-x.json", nil
}

func TestStartFull_SecondRequestWhileRunningGetsConflict(t *testing.T) {
	creds := &gatedCreds{gate: make(chan struct{})}
	exp := &countingExporter{}
	runner := backup.NewRunner(backup.Config{}, creds, emptyService{}, exp, nil, discardLogger())
	d := NewDispatcher(context.Background(), runner, 0, -1, discardLogger())
	srv := NewServer(8760, "", d, NewStatusTracker())

	first := do(srv, "POST", "/api/v1/backups/full", "", "")
	second := do(srv, "POST", "/api/v1/backups/full", "", "")
	close(creds.gate)
	d.Wait()

	if first.Code != http.StatusAccepted {
		t.Errorf("first request: expected 202, got %d", first.Code)
	}
	if second.Code != http.StatusConflict {
		t.Errorf("second request: expected 409, got %d", second.Code)
	}
	if exp.count != 1 {
		t.Errorf("expected 1 exported backup, got %d", exp.count)
	}
	if runner.Busy() {
		t.Error("runner should be idle after the backup finished")
	}

	if w := do(srv, "POST", "/api/v1/backups/full", "", ""); w.Code != http.StatusAccepted {
		t.Errorf("request after completion: expected 202, got %d", w.Code)
	}
	d.Wait()
}

func TestHandleBackupRequest_SingleRejectedWhileBusy(t *testing.T) {
	b := &fakeBackups{busy: true}
	d := NewDispatcher(context.Background(), b, 0, -1, discardLogger())

	d.HandleBackupRequest("swarm.archivist.backup.request", []byte(`{"workflow":"single","url":"https://x/c/a-b-c"}`))
	d.Wait()

	if len(b.singleURL) != 0 {
		t.Errorf("expected no single run while busy, got %v", b.singleURL)
	}
}
