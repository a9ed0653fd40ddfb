package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/pkg/engine"
)

// recordingExecutor captures every invocation and answers with a canned
// result.
type recordingExecutor struct {
	mu     sync.Mutex
	names  []string
	raws   []string
	result *engine.Result
}

func (e *recordingExecutor) execute(ctx context.Context, name string, raw []byte) *engine.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	e.raws = append(e.raws, string(raw))
	if e.result != nil {
		return e.result
	}
	return &engine.Result{Success: true, Message: "plan applied"}
}

func (e *recordingExecutor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

func startWatcher(t *testing.T, dir string, exec *recordingExecutor) *Watcher {
	t.Helper()
	w, err := New(Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Execute:  exec.execute,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", path)
		case <-time.After(20 * time.Millisecond):
			if data, err := os.ReadFile(path); err == nil {
				return data
			}
		}
	}
}

func TestWatcherExecutesDroppedPlan(t *testing.T) {
	dir := t.TempDir()
	exec := &recordingExecutor{}
	startWatcher(t, dir, exec)

	payload := `{"host":"text","actions":[{"op":"append_paragraph","content":"hi"}]}`
	planPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(planPath, []byte(payload), 0o644))

	data := waitForFile(t, filepath.Join(dir, "report.result.json"))

	var result engine.Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "plan applied", result.Message)

	require.Equal(t, []string{"report.json"}, exec.calls())
	exec.mu.Lock()
	assert.Equal(t, payload, exec.raws[0])
	exec.mu.Unlock()
}

func TestWatcherWritesFailureResult(t *testing.T) {
	dir := t.TempDir()
	exec := &recordingExecutor{
		result: &engine.Result{Success: false, Message: "target not found: missing block"},
	}
	startWatcher(t, dir, exec)

	planPath := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(planPath, []byte(`{"actions":[]}`), 0o644))

	data := waitForFile(t, filepath.Join(dir, "broken.result.json"))

	var result engine.Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "target not found")
}

func TestWatcherIgnoresResultFiles(t *testing.T) {
	dir := t.TempDir()
	exec := &recordingExecutor{}
	startWatcher(t, dir, exec)

	resultFile := filepath.Join(dir, "old.result.json")
	require.NoError(t, os.WriteFile(resultFile, []byte(`{"success":true}`), 0o644))

	notesFile := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notesFile, []byte("not a plan"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, exec.calls())
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	exec := &recordingExecutor{}

	w, err := New(Config{
		Dir:      dir,
		Debounce: 150 * time.Millisecond,
		Execute:  exec.execute,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	planPath := filepath.Join(dir, "busy.json")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(planPath, []byte(`{"actions":[]}`), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	waitForFile(t, filepath.Join(dir, "busy.result.json"))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, []string{"busy.json"}, exec.calls())
}

func TestWatcherPicksUpExistingPlans(t *testing.T) {
	dir := t.TempDir()

	// A plan without a result is pending; one with a result was already
	// handled by an earlier run.
	pending := filepath.Join(dir, "pending.json")
	require.NoError(t, os.WriteFile(pending, []byte(`{"actions":[]}`), 0o644))

	done := filepath.Join(dir, "done.json")
	require.NoError(t, os.WriteFile(done, []byte(`{"actions":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.result.json"), []byte(`{"success":true}`), 0o644))

	exec := &recordingExecutor{}
	startWatcher(t, dir, exec)

	waitForFile(t, filepath.Join(dir, "pending.result.json"))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, []string{"pending.json"}, exec.calls())
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	exec := &recordingExecutor{}

	w, err := New(Config{
		Dir:     dir,
		Execute: exec.execute,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestNewRequiresDirAndExecutor(t *testing.T) {
	_, err := New(Config{Execute: (&recordingExecutor{}).execute, Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dir")

	_, err = New(Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor")
}

func TestIsPlanFile(t *testing.T) {
	tests := []struct {
		name string
		plan bool
	}{
		{"report.json", true},
		{"q3 budget.json", true},
		{"report.result.json", false},
		{"report.result.json.tmp", false},
		{".hidden.json", false},
		{"notes.txt", false},
		{"plan", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.plan, isPlanFile(tt.name))
		})
	}
}
