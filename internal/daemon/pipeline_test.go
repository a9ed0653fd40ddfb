package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/execqueue"
	"github.com/davan/docplan/pkg/history"
	"github.com/davan/docplan/pkg/hooks"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/memdoc"
	"github.com/davan/docplan/pkg/plan"
)

const simplePlan = `{"schema_version":"v1","host":"text","actions":[{"op":"insert_text","content":"hello"}]}`

func newTestRunner(t *testing.T, cfg RunnerConfig) *PlanRunner {
	t.Helper()
	if cfg.Engine == nil {
		cfg.Engine = engine.New(engine.DefaultConfig(), zerolog.Nop(), nil)
	}
	cfg.Logger = zerolog.Nop()
	runner, err := NewPlanRunner(cfg)
	require.NoError(t, err)
	return runner
}

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.New(history.Config{
		DBPath: filepath.Join(t.TempDir(), "history.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunExecutesPlan(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})

	result := runner.Run(context.Background(), "cli", "", []byte(simplePlan), nil)

	require.NotNil(t, result)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, "plan applied", result.Message)
	require.Len(t, result.Steps, 1)
	require.NotNil(t, result.Debug)
	assert.Equal(t, "text", result.Debug.ActualHost)
}

func TestRunRecordsHistory(t *testing.T) {
	store := newTestHistory(t)
	runner := newTestRunner(t, RunnerConfig{History: store})

	result := runner.Run(context.Background(), "gateway", "budget.docx", []byte(simplePlan), nil)
	require.True(t, result.Success, result.Message)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, result.Debug.RunID, entry.RunID)
	assert.Equal(t, "budget.docx", entry.DocumentID)
	assert.Equal(t, "text", entry.Host)
	assert.Equal(t, "gateway", entry.Source)
	assert.True(t, entry.Success)
	assert.Equal(t, 1, entry.ActionCount)
	assert.NotEmpty(t, entry.Steps)
}

func TestRunRecordsFailedRuns(t *testing.T) {
	store := newTestHistory(t)
	runner := newTestRunner(t, RunnerConfig{History: store})

	result := runner.Run(context.Background(), "cli", "", []byte(`{"host": "text"`), nil)
	require.False(t, result.Success)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "malformed_plan", entries[0].ErrorKind)
}

func TestRunFiresLifecycleHooks(t *testing.T) {
	completed := filepath.Join(t.TempDir(), "completed.txt")
	failed := filepath.Join(t.TempDir(), "failed.txt")
	mgr, err := hooks.NewManager(hooks.Config{
		Enabled: true,
		Hooks: []hooks.Hook{
			{
				Event:   hooks.EventPlanCompleted,
				Script:  fmt.Sprintf(`echo "$DOCPLAN_HOOK_DATA_SOURCE:$DOCPLAN_HOOK_DATA_RUN_ID" > %s`, completed),
				Timeout: 5 * time.Second,
				Enabled: true,
			},
			{
				Event:   hooks.EventPlanFailed,
				Script:  fmt.Sprintf(`echo "$DOCPLAN_HOOK_DATA_ERROR_KIND" > %s`, failed),
				Timeout: 5 * time.Second,
				Enabled: true,
			},
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	runner := newTestRunner(t, RunnerConfig{Hooks: mgr})

	result := runner.Run(context.Background(), "watcher", "report.json", []byte(simplePlan), nil)
	require.True(t, result.Success, result.Message)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(completed)
		return err == nil && len(data) > 0
	}, 3*time.Second, 20*time.Millisecond)

	data, err := os.ReadFile(completed)
	require.NoError(t, err)
	assert.Equal(t, "watcher:"+result.Debug.RunID+"\n", string(data))

	result = runner.Run(context.Background(), "watcher", "report.json", []byte(`{"host": "text"`), nil)
	require.False(t, result.Success)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(failed)
		return err == nil && string(data) == "malformed_plan\n"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRunSessionFactoryFailure(t *testing.T) {
	store := newTestHistory(t)
	runner := newTestRunner(t, RunnerConfig{
		History: store,
		Sessions: func(context.Context, *plan.Plan) (host.Session, error) {
			return nil, errors.New("document is locked")
		},
	})

	result := runner.Run(context.Background(), "gateway", "budget.docx", []byte(simplePlan), nil)

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "failed to open session: document is locked")
	require.NotNil(t, result.Debug)
	assert.NotEmpty(t, result.Debug.RunID)
	assert.Equal(t, "text", result.Debug.DeclaredHost)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "text", entries[0].Host)
}

func TestRunReportsClosedQueue(t *testing.T) {
	queue := execqueue.New(zerolog.Nop())
	require.NoError(t, queue.Close())

	runner := newTestRunner(t, RunnerConfig{Queue: queue})

	result := runner.Run(context.Background(), "cli", "", []byte(simplePlan), nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "plan was not executed")
}

func TestRunSharesSessionAcrossPlans(t *testing.T) {
	// A factory that hands every plan the same session models real hosts,
	// where consecutive plans against one document build on each other.
	session := memdoc.NewTextSession(memdoc.Quirks{})
	queue := execqueue.New(zerolog.Nop())
	t.Cleanup(func() { queue.Close() })

	runner := newTestRunner(t, RunnerConfig{
		Queue: queue,
		Sessions: func(context.Context, *plan.Plan) (host.Session, error) {
			return session, nil
		},
	})

	first := `{"schema_version":"v1","host":"text","actions":[{"op":"insert_text","content":"one "}]}`
	second := `{"schema_version":"v1","host":"text","actions":[{"op":"insert_text","content":"two"}]}`

	require.True(t, runner.Run(context.Background(), "cli", "notes.docx", []byte(first), nil).Success)
	require.True(t, runner.Run(context.Background(), "cli", "notes.docx", []byte(second), nil).Success)

	assert.Equal(t, "one two", session.Doc().Body())
}

func TestScratchSessionsMatchDeclaredHost(t *testing.T) {
	factory := ScratchSessions(memdoc.Quirks{})

	session, err := factory(context.Background(), &plan.Plan{Host: plan.HostSpreadsheet})
	require.NoError(t, err)
	assert.NotNil(t, session.Workbook())
	assert.Nil(t, session.Text())

	session, err = factory(context.Background(), &plan.Plan{Host: plan.HostText})
	require.NoError(t, err)
	assert.NotNil(t, session.Text())
}

func TestNewPlanRunnerRequiresEngine(t *testing.T) {
	_, err := NewPlanRunner(RunnerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")
}
