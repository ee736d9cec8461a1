package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/internal/analysis"
	"counsel/internal/api"
	"counsel/internal/config"
	"counsel/internal/extract"
	"counsel/internal/services"
	"counsel/internal/session"
	"counsel/internal/stream"
	"counsel/internal/workflow"
)

type fakeOrchestrator struct {
	mu          sync.Mutex
	submissions []workflow.Submission
	submitErr   error
	results     map[string]workflow.Result
	events      chan stream.Event
	streamErr   error
	released    chan struct{}
	chatReply   string
	chatErr     error
	chats       []string
	history     []session.Message
	ended       []string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		results:  make(map[string]workflow.Result),
		released: make(chan struct{}),
	}
}

func (f *fakeOrchestrator) Submit(_ context.Context, sub workflow.Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submissions = append(f.submissions, sub)
	id := fmt.Sprintf("sess-%d", len(f.submissions))
	f.results[id] = workflow.Result{SessionID: id, Filename: sub.Filename, State: session.StateReceived}
	return id, nil
}

func (f *fakeOrchestrator) Stream(string) (<-chan stream.Event, func(), error) {
	if f.streamErr != nil {
		return nil, nil, f.streamErr
	}
	var once sync.Once
	return f.events, func() { once.Do(func() { close(f.released) }) }, nil
}

func (f *fakeOrchestrator) Result(id string) (workflow.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[id]
	if !ok {
		return workflow.Result{}, workflow.ErrSessionNotFound
	}
	return res, nil
}

func (f *fakeOrchestrator) Chat(_ context.Context, _ string, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return "", f.chatErr
	}
	f.chats = append(f.chats, message)
	return f.chatReply, nil
}

func (f *fakeOrchestrator) ChatHistory(id string) ([]session.Message, error) {
	if _, err := f.Result(id); err != nil {
		return nil, err
	}
	return f.history, nil
}

func (f *fakeOrchestrator) End(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.results[id]; !ok {
		return workflow.ErrSessionNotFound
	}
	delete(f.results, id)
	f.ended = append(f.ended, id)
	return nil
}

func (f *fakeOrchestrator) Status() workflow.StatusSummary {
	return workflow.StatusSummary{
		Sessions: map[session.State]int{session.StateChatReady: 2, session.StateFailed: 1},
		Active:   1,
	}
}

func (f *fakeOrchestrator) Sessions() []workflow.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]workflow.Result, 0, len(f.results))
	for _, res := range f.results {
		out = append(out, res)
	}
	return out
}

func (f *fakeOrchestrator) Health(context.Context) []workflow.CollaboratorHealth {
	return []workflow.CollaboratorHealth{
		workflow.Unhealthy("privacy", "presidio down"),
		workflow.Healthy("inference"),
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Paths.APIToken = ""
	return &cfg
}

func newTestServer(t *testing.T, cfg *config.Config, orch Orchestrator) (*apiServer, *httptest.Server) {
	t.Helper()
	d, err := New(cfg, orch, nil, nil)
	require.NoError(t, err)
	srv, err := newAPIServer(cfg, d, nil)
	require.NoError(t, err)
	require.NotNil(t, srv)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestSubmitRawBodyUsesFilenameAndRequestID(t *testing.T) {
	orch := newFakeOrchestrator()
	_, ts := newTestServer(t, testConfig(t), orch)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions?filename=../lease.txt", strings.NewReader("LEASE AGREEMENT"))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "/api/sessions/sess-1", resp.Header.Get("Location"))
	var body api.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sess-1", body.SessionID)

	require.Len(t, orch.submissions, 1)
	assert.Equal(t, "lease.txt", orch.submissions[0].Filename)
	assert.Equal(t, "LEASE AGREEMENT", string(orch.submissions[0].Data))
	assert.Equal(t, "req-42", orch.submissions[0].RequestID)
}

func TestSubmitMultipartThroughClient(t *testing.T) {
	orch := newFakeOrchestrator()
	_, ts := newTestServer(t, testConfig(t), orch)
	client := api.NewClient(ts.URL, "")

	id, err := client.Submit(context.Background(), "nda.md", strings.NewReader("# Mutual NDA"))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
	require.Len(t, orch.submissions, 1)
	assert.Equal(t, "nda.md", orch.submissions[0].Filename)
	assert.NotEmpty(t, orch.submissions[0].RequestID)

	got, err := client.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "nda.md", got.Filename)
	assert.Equal(t, string(session.StateReceived), got.State)
}

func TestSubmitRejectsOversizedUpload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parser.MaxBytes = 8
	orch := newFakeOrchestrator()
	_, ts := newTestServer(t, cfg, orch)

	resp, err := http.Post(ts.URL+"/api/sessions?filename=big.txt", "text/plain", bytes.NewReader(bytes.Repeat([]byte("a"), 64)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Empty(t, orch.submissions)
}

func TestSubmitBusySetsRetryAfter(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.submitErr = workflow.ErrBusy
	_, ts := newTestServer(t, testConfig(t), orch)

	resp, err := http.Post(ts.URL+"/api/sessions", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))

	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, workflow.ErrBusy.Error(), body.Error)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing session", workflow.ErrSessionNotFound, http.StatusNotFound},
		{"missing stream", stream.ErrNotFound, http.StatusNotFound},
		{"empty message", workflow.ErrEmptyMessage, http.StatusBadRequest},
		{"busy", workflow.ErrBusy, http.StatusServiceUnavailable},
		{"shutting down", workflow.ErrShuttingDown, http.StatusServiceUnavailable},
		{"chat not ready", fmt.Errorf("%w (state analyzing)", workflow.ErrChatNotReady), http.StatusConflict},
		{"second consumer", stream.ErrAttached, http.StatusConflict},
		{"drained stream", stream.ErrGone, http.StatusGone},
		{"chat timeout", services.Wrap(services.ErrExternalTool, "chat", "complete", "", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"chat upstream", services.Wrap(services.ErrExternalTool, "chat", "complete", "status 500", nil), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestAuthProtectsAPIButNotHealthz(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.APIToken = "s3cret"
	_, ts := newTestServer(t, cfg, newFakeOrchestrator())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = api.NewClient(ts.URL, "").Status(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))

	_, err = api.NewClient(ts.URL, "wrong").Status(context.Background())
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))

	status, err := api.NewClient(ts.URL, "s3cret").Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.Workflow.Sessions[string(session.StateChatReady)])
	assert.Equal(t, 0, status.Workflow.Sessions[string(session.StateReceived)])
	require.Len(t, status.Health, 2)
	assert.Equal(t, "inference", status.Health[0].Name)
	assert.False(t, status.Health[1].Ready)
	assert.Nil(t, status.Cache)
}

func TestEventsStreamUntilTerminal(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.events = make(chan stream.Event, 4)
	now := time.Now()
	orch.events <- stream.Event{SessionID: "sess-1", Sequence: 1, Kind: stream.KindProgress, At: now,
		Payload: stream.ProgressPayload{State: "anonymizing", Percent: 25}}
	orch.events <- stream.Event{SessionID: "sess-1", Sequence: 2, Kind: stream.KindPartial, At: now,
		Payload: stream.PartialPayload{Field: "risk_level", Value: "High"}}
	orch.events <- stream.Event{SessionID: "sess-1", Sequence: 3, Kind: stream.KindComplete, At: now}
	_, ts := newTestServer(t, testConfig(t), orch)

	var got []api.Event
	err := api.NewClient(ts.URL, "").Events(context.Background(), "sess-1", func(evt api.Event) error {
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{got[0].Sequence, got[1].Sequence, got[2].Sequence})
	assert.Equal(t, "complete", got[2].Kind)

	var progress stream.ProgressPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &progress))
	assert.Equal(t, 25, progress.Percent)

	select {
	case <-orch.released:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not released after the terminal event")
	}
}

func TestEventsReleasedWhenClientDisconnects(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.events = make(chan stream.Event, 1)
	orch.events <- stream.Event{SessionID: "sess-1", Sequence: 1, Kind: stream.KindProgress, At: time.Now()}
	_, ts := newTestServer(t, testConfig(t), orch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := api.NewClient(ts.URL, "").Events(ctx, "sess-1", func(api.Event) error {
		cancel()
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-orch.released:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not released after the client went away")
	}
}

func TestEventsErrorsMapToStatus(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.streamErr = stream.ErrGone
	_, ts := newTestServer(t, testConfig(t), orch)

	err := api.NewClient(ts.URL, "").Events(context.Background(), "sess-1", func(api.Event) error { return nil })
	assert.True(t, api.IsStatus(err, http.StatusGone), "got %v", err)
}

func TestChatHistoryAndEnd(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.chatReply = "Clause 9 limits competing work for 24 months."
	orch.history = []session.Message{
		{Role: session.RoleUser, Text: "What does clause 9 mean?", At: time.Now()},
		{Role: session.RoleAssistant, Text: orch.chatReply, At: time.Now()},
	}
	_, ts := newTestServer(t, testConfig(t), orch)
	client := api.NewClient(ts.URL, "")
	ctx := context.Background()

	id, err := client.Submit(ctx, "contract.txt", strings.NewReader("EMPLOYMENT AGREEMENT"))
	require.NoError(t, err)

	reply, err := client.Chat(ctx, id, "What does clause 9 mean?")
	require.NoError(t, err)
	assert.Equal(t, orch.chatReply, reply)
	assert.Equal(t, []string{"What does clause 9 mean?"}, orch.chats)

	history, err := client.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "assistant", history[1].Role)

	sessions, err := client.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, client.End(ctx, id))
	assert.Equal(t, []string{id}, orch.ended)
	err = client.End(ctx, id)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
}

func TestChatRejectsMalformedBody(t *testing.T) {
	orch := newFakeOrchestrator()
	_, ts := newTestServer(t, testConfig(t), orch)

	resp, err := http.Post(ts.URL+"/api/sessions/sess-1/chat", "application/json", strings.NewReader(`{"msg":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, orch.chats)
}

func TestChatNotReadyIsConflict(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.chatErr = fmt.Errorf("%w (state %s)", workflow.ErrChatNotReady, session.StateAnalyzing)
	_, ts := newTestServer(t, testConfig(t), orch)

	_, err := api.NewClient(ts.URL, "").Chat(context.Background(), "sess-1", "hello")
	assert.True(t, api.IsStatus(err, http.StatusConflict), "got %v", err)
}

func TestSessionResultCarriesRecord(t *testing.T) {
	orch := newFakeOrchestrator()
	record := analysis.Record{DocumentType: "Residential Lease", RiskLevel: analysis.RiskMedium, Confidence: 0.7}
	orch.results["sess-9"] = workflow.Result{
		SessionID: "sess-9",
		Filename:  "lease.pdf",
		State:     session.StateChatReady,
		Progress:  100,
		Record:    &record,
		Brief:     "This is a residential lease.",
	}
	_, ts := newTestServer(t, testConfig(t), orch)

	got, err := api.NewClient(ts.URL, "").Session(context.Background(), "sess-9")
	require.NoError(t, err)
	assert.Equal(t, "chat_ready", got.State)
	assert.Equal(t, "This is a residential lease.", got.Brief)

	var decoded analysis.Record
	require.NoError(t, json.Unmarshal(got.Record, &decoded))
	assert.Equal(t, "Residential Lease", decoded.DocumentType)
	assert.Equal(t, analysis.RiskMedium, decoded.RiskLevel)
}

func TestSessionResultMarksDegradedRecord(t *testing.T) {
	orch := newFakeOrchestrator()
	record := extract.Normalize("**Risk Level**: High")
	require.True(t, record.Degraded)
	orch.results["sess-3"] = workflow.Result{
		SessionID: "sess-3",
		Filename:  "offer.txt",
		State:     session.StateChatReady,
		Progress:  100,
		Record:    &record,
	}
	_, ts := newTestServer(t, testConfig(t), orch)

	got, err := api.NewClient(ts.URL, "").Session(context.Background(), "sess-3")
	require.NoError(t, err)
	assert.Contains(t, string(got.Record), `"degraded":true`)

	var decoded analysis.Record
	require.NoError(t, json.Unmarshal(got.Record, &decoded))
	assert.True(t, decoded.Degraded)
	assert.Equal(t, analysis.RiskHigh, decoded.RiskLevel)
}
