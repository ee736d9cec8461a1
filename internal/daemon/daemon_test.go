package daemon_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/internal/analysis"
	"counsel/internal/api"
	"counsel/internal/cache"
	"counsel/internal/config"
	"counsel/internal/daemon"
	"counsel/internal/docstore"
	"counsel/internal/privacy"
	"counsel/internal/services/docparse"
	"counsel/internal/services/llm"
	"counsel/internal/testsupport"
	"counsel/internal/workflow"
)

type scriptedInference struct{}

func (scriptedInference) Model() string { return "scripted" }

func (scriptedInference) Complete(context.Context, string, string) (string, error) {
	return analysis.Record{
		DocumentType: "Employment Agreement",
		RiskLevel:    analysis.RiskHigh,
		Risks: []analysis.RiskItem{{
			Category:        "Non-compete",
			Severity:        analysis.RiskHigh,
			ClauseReference: "Clause 9",
			Explanation:     "Restricts work for 24 months.",
			Suggestion:      "Ask for 6 months.",
		}},
		Recommendations: []string{"Negotiate the non-compete term"},
		Confidence:      0.8,
		Verdict:         analysis.VerdictNegotiate,
		CoachTip:        "Write to <EMAIL_ADDRESS_1> before signing.",
	}.Serialize(), nil
}

func (scriptedInference) Chat(context.Context, []llm.Message) (string, error) {
	return "Clause 9 stops you working for a competitor for two years.", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t, testsupport.WithAPIToken("token"))
}

func newManager(t *testing.T) *workflow.Manager {
	t.Helper()
	mgr, err := workflow.NewManager(workflow.Config{}, workflow.Dependencies{
		Parser:    docparse.New(),
		Privacy:   privacy.NewAnonymizer(privacy.NewPatternDetector("EMAIL_ADDRESS")),
		Inference: scriptedInference{},
		Store:     docstore.New(),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	store, err := cache.Open(filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d, err := daemon.New(cfg, newManager(t), store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx))
	status := d.Status(ctx)
	assert.True(t, status.Running)
	assert.False(t, status.StartedAt.IsZero())
	assert.Equal(t, filepath.Join(cfg.Paths.LogDir, "counseld.lock"), status.LockFilePath)
	require.NotNil(t, status.Cache)
	assert.Equal(t, 0, status.Cache.Entries)
	assert.NotEmpty(t, d.Addr())

	require.Error(t, d.Start(ctx), "second start should fail")

	other, err := daemon.New(cfg, newManager(t), nil, nil)
	require.NoError(t, err)
	err = other.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	d.Stop()
	assert.False(t, d.Status(ctx).Running)
	assert.Empty(t, d.Addr())

	require.NoError(t, other.Start(ctx), "lock should be free after stop")
	other.Stop()
}

func TestDaemonServesAnalysisEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	d, err := daemon.New(cfg, newManager(t), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))

	client := api.NewClient(d.Addr(), cfg.Paths.APIToken)
	require.NoError(t, client.Health(ctx))

	text := "EMPLOYMENT AGREEMENT\nNotices go to jane@example.com.\nClause 9 Non-compete: no competing work for 24 months."
	id, err := client.Submit(ctx, "contract.txt", strings.NewReader(text))
	require.NoError(t, err)

	var kinds []string
	require.NoError(t, client.Events(ctx, id, func(evt api.Event) error {
		kinds = append(kinds, evt.Kind)
		return nil
	}))
	require.NotEmpty(t, kinds)
	assert.Equal(t, "complete", kinds[len(kinds)-1])
	assert.Contains(t, kinds, "progress")

	got, err := client.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "chat_ready", got.State)
	var record analysis.Record
	require.NoError(t, json.Unmarshal(got.Record, &record))
	assert.Equal(t, "Employment Agreement", record.DocumentType)
	assert.Contains(t, record.CoachTip, "jane@example.com")

	reply, err := client.Chat(ctx, id, "What does clause 9 mean?")
	require.NoError(t, err)
	assert.Contains(t, reply, "Clause 9")

	history, err := client.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.Workflow.Sessions["chat_ready"])

	require.NoError(t, client.End(ctx, id))
	_, err = client.Session(ctx, id)
	assert.True(t, api.IsStatus(err, 404), "got %v", err)
}
