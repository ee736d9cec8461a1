package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"counsel/internal/analysis"
	"counsel/internal/api"
	"counsel/internal/config"
	"counsel/internal/daemon"
	"counsel/internal/daemonrun"
	"counsel/internal/extract"
	"counsel/internal/logging"
	"counsel/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	llm        *testsupport.LLMServer
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	for _, key := range []string{"COUNSEL_LLM_API_KEY", "OPENROUTER_API_KEY", "COUNSEL_API_TOKEN", "PRESIDIO_URL", "GOOGLE_CLOUD_PROJECT", "COUNSEL_NTFY_TOPIC"} {
		t.Setenv(key, "")
	}

	server := testsupport.NewLLMServer(t, testsupport.SampleRecord())

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		llm:        server,
	}
	env.writeConfig(t, "127.0.0.1:0", true)
	return env
}

func (e *cliTestEnv) writeConfig(t *testing.T, bind string, cacheEnabled bool) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
log_dir = %q
api_bind = %q
api_token = "cli-token"

[llm]
api_key = "test-key"
base_url = %q
model = "stub-model"
requests_per_minute = 0

[privacy]
engine = "patterns"

[cache]
enabled = %t
path = %q
`,
		filepath.Join(e.baseDir, "logs"),
		bind,
		e.llm.URL,
		cacheEnabled,
		filepath.Join(e.baseDir, "cache", "analysis.db"),
	)
	if err := os.WriteFile(e.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, _, err := config.Load(e.configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "fresh", "config.toml")

	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected target path in output, got %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}
	if _, _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	// The sample ships without an API key.
	if _, _, err := runCLI(t, "", "--config", target, "config", "validate"); err == nil || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected missing api key error, got %v", err)
	}
	t.Setenv("COUNSEL_LLM_API_KEY", "from-env")
	out, _, err = runCLI(t, "", "--config", target, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	for _, want := range []string{"Config path: " + target, "Privacy engine: presidio", "Configuration valid"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestCalibrateScoresGoldenSet(t *testing.T) {
	env := setupCLITestEnv(t)
	golden := filepath.Join(env.baseDir, "golden.yaml")
	content := `cases:
  - name: strict
    raw: '{"is_legal":true,"document_type":"NDA","risk_level":"Low","risks":[],"recommendations":["Sign"],"confidence":0.9}'
    expect:
      document_type: NDA
      risk_level: Low
      degraded: false
  - name: labelled
    raw: "**Document Type:** Lease\n**Risk Level:** Medium"
    expect:
      document_type: Lease
      risk_level: Medium
`
	if err := os.WriteFile(golden, []byte(content), 0o644); err != nil {
		t.Fatalf("write golden: %v", err)
	}

	out, _, err := runCLI(t, "", "--config", env.configPath, "calibrate", "--golden", golden, "-t", "0.7", "-t", "0.9", "--json")
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	var scores []extract.Score
	if err := json.Unmarshal([]byte(out), &scores); err != nil {
		t.Fatalf("decode scores: %v\n%s", err, out)
	}
	if len(scores) != 2 {
		t.Fatalf("expected two scores, got %d", len(scores))
	}
	for _, s := range scores {
		if s.Cases != 2 || s.Checks != 5 {
			t.Fatalf("unexpected totals: %+v", s)
		}
		if s.Passed != s.Checks {
			t.Fatalf("expected every check to pass at %.2f, failures: %v", s.Threshold, s.Failures)
		}
	}

	out, _, err = runCLI(t, "", "--config", env.configPath, "calibrate", "--golden", golden)
	if err != nil {
		t.Fatalf("calibrate table: %v", err)
	}
	if !strings.Contains(out, "ACCURACY") || !strings.Contains(out, "0.80") {
		t.Fatalf("expected table at configured threshold, got %q", out)
	}

	if _, _, err := runCLI(t, "", "--config", env.configPath, "calibrate"); err == nil {
		t.Fatal("expected error without --golden")
	}
}

func TestCacheCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, "", "--config", env.configPath, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if !strings.Contains(out, "Entries: 0") {
		t.Fatalf("expected empty cache, got %q", out)
	}

	out, _, err = runCLI(t, "", "--config", env.configPath, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 0 entries") {
		t.Fatalf("unexpected clear output %q", out)
	}

	out, _, err = runCLI(t, "", "--config", env.configPath, "cache", "purge")
	if err != nil {
		t.Fatalf("cache purge: %v", err)
	}
	if !strings.Contains(out, "Purged 0 expired entries") {
		t.Fatalf("unexpected purge output %q", out)
	}

	env.writeConfig(t, "127.0.0.1:0", false)
	out, _, err = runCLI(t, "", "--config", env.configPath, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats disabled: %v", err)
	}
	if !strings.Contains(out, "disabled") {
		t.Fatalf("expected disabled notice, got %q", out)
	}
}

func TestDoctorReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, "", "--config", env.configPath, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	for _, want := range []string{"Log directory", "Analysis cache", "ok"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in doctor output, got %q", want, out)
		}
	}

	env.llm.Close()
	if _, _, err := runCLI(t, "", "--config", env.configPath, "doctor"); err == nil {
		t.Fatal("expected doctor to fail once the LLM is unreachable")
	}
}

func TestAnalyzeRunsInProcess(t *testing.T) {
	env := setupCLITestEnv(t)
	doc := filepath.Join(env.baseDir, "agreement.txt")
	testsupport.WriteFile(t, doc, testsupport.SampleAgreement)

	out, _, err := runCLI(t, "", "--config", env.configPath, "analyze", doc, "--json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var s api.Session
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode session: %v\n%s", err, out)
	}
	if s.State != "chat_ready" || s.Filename != "agreement.txt" {
		t.Fatalf("unexpected session %+v", s)
	}
	record, ok := decodeRecord(s.Record)
	if !ok {
		t.Fatalf("session carries no record: %s", out)
	}
	if record.DocumentType != "Employment Agreement" || record.RiskLevel != analysis.RiskHigh {
		t.Fatalf("unexpected record %+v", record)
	}

	calls := env.llm.Calls()
	out, _, err = runCLI(t, "", "--config", env.configPath, "analyze", doc, "--json")
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if env.llm.Calls() != calls {
		t.Fatalf("expected no model call on a cache hit, got %d more", env.llm.Calls()-calls)
	}
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode second session: %v", err)
	}
	if !s.Cached {
		t.Fatal("expected second run to be served from the cache")
	}
}

func TestDaemonCommandsAgainstRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	cfg := env.loadConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rt, err := daemonrun.Build(ctx, cfg, logging.NewNop(), daemonrun.BuildOptions{})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	t.Cleanup(func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer drainCancel()
		rt.Manager.Shutdown(drainCtx)
		_ = rt.Close()
	})
	d, err := daemon.New(cfg, rt.Manager, rt.Cache, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	addr := d.Addr()
	cli := func(args ...string) (string, string, error) {
		return runCLI(t, "", append([]string{"--config", env.configPath, "--addr", addr}, args...)...)
	}

	out, _, err := cli("sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "No sessions") {
		t.Fatalf("expected no sessions, got %q", out)
	}

	doc := filepath.Join(env.baseDir, "agreement.txt")
	testsupport.WriteFile(t, doc, testsupport.SampleAgreement)
	out, stderr, err := cli("submit", doc, "--follow")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(stderr, "analysis complete") {
		t.Fatalf("expected progress on stderr, got %q", stderr)
	}
	if !strings.Contains(out, "Employment Agreement") {
		t.Fatalf("expected rendered analysis, got %q", out)
	}

	out, _, err = cli("sessions", "--json")
	if err != nil {
		t.Fatalf("sessions --json: %v", err)
	}
	var list api.SessionListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list.Sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(list.Sessions))
	}
	id := list.Sessions[0].ID

	out, _, err = cli("show", id, "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var shown api.Session
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode show: %v", err)
	}
	if shown.State != "chat_ready" {
		t.Fatalf("expected chat_ready, got %s", shown.State)
	}

	out, _, err = cli("status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Workflow.Sessions["chat_ready"] != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	out, _, err = cli("chat", id, "What", "does", "clause", "1", "mean?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, testsupport.ChatReply) {
		t.Fatalf("unexpected chat reply %q", out)
	}
	out, _, err = cli("chat", id, "--history")
	if err != nil {
		t.Fatalf("chat --history: %v", err)
	}
	if !strings.Contains(out, "user: What does clause 1 mean?") {
		t.Fatalf("expected the question in history, got %q", out)
	}

	out, _, err = cli("end", id)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !strings.Contains(out, "Ended session") {
		t.Fatalf("unexpected end output %q", out)
	}
	if _, _, err := cli("show", id); err == nil || !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 after end, got %v", err)
	}

	_, err = api.NewClient(addr, "wrong-token").Status(context.Background())
	if !api.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 for a wrong token, got %v", err)
	}
}

func TestLogsPrintsSessionLines(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := filepath.Join(env.baseDir, "logs", logging.FileName)
	testsupport.WriteFile(t, logPath, "INFO workflow: received [sess-a]\nINFO workflow: received [sess-b]\nWARN workflow: retry [sess-a chat]\n")

	out, _, err := runCLI(t, "", "--config", env.configPath, "logs", "--session", "sess-a", "-n", "1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.TrimSpace(out) != "WARN workflow: retry [sess-a chat]" {
		t.Fatalf("unexpected logs output %q", out)
	}

	out, _, err = runCLI(t, "", "--config", env.configPath, "logs", "-n", "0")
	if err != nil {
		t.Fatalf("logs all: %v", err)
	}
	if got := strings.Count(out, "\n"); got != 3 {
		t.Fatalf("expected three lines, got %d: %q", got, out)
	}
}

func TestTestNotifyRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, "", "--config", env.configPath, "test-notify")
	if err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected missing topic error, got %v", err)
	}

	received := make(chan string, 1)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("Title")
	}))
	t.Cleanup(ntfy.Close)
	t.Setenv("COUNSEL_NTFY_TOPIC", ntfy.URL)

	out, _, err := runCLI(t, "", "--config", env.configPath, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, ntfy.URL) {
		t.Fatalf("unexpected output %q", out)
	}
	if title := <-received; title != "Counsel - Test" {
		t.Fatalf("unexpected title %q", title)
	}
}
