package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/pkg/history"
)

// seedHistory fills the execution log the test config points at.
func seedHistory(t *testing.T, cfgPath string, records ...history.Record) {
	t.Helper()

	store, err := history.New(history.Config{
		DBPath: filepath.Join(filepath.Dir(cfgPath), "history.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer store.Close()

	for _, rec := range records {
		_, err := store.Record(context.Background(), rec)
		require.NoError(t, err)
	}
}

func TestHistoryCommandListsRuns(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seedHistory(t, cfgPath,
		history.Record{
			RunID:       "run_older",
			Host:        "text",
			Source:      "gateway",
			Success:     true,
			Message:     "plan applied",
			ActionCount: 2,
			Duration:    40 * time.Millisecond,
			CreatedAt:   time.Now().Add(-time.Hour),
		},
		history.Record{
			RunID:     "run_newer",
			Host:      "spreadsheet",
			Source:    "cli",
			Success:   false,
			ErrorKind: "target_not_found",
			Message:   "sheet not found",
			CreatedAt: time.Now(),
		},
	)

	out, err := execCommand(t, "history", "--config", cfgPath)
	require.NoError(t, err)

	assert.Contains(t, out, "run_older")
	assert.Contains(t, out, "run_newer")
	assert.Contains(t, out, "gateway")
	// Newest first.
	assert.Less(t, strings.Index(out, "run_newer"), strings.Index(out, "run_older"))
}

func TestHistoryCommandShowsRunDetail(t *testing.T) {
	cfgPath := writeTestConfig(t)
	steps, err := json.Marshal([]map[string]any{
		{"id": "act_1", "title": "Insert text", "op": "insert_text", "status": "completed"},
	})
	require.NoError(t, err)
	seedHistory(t, cfgPath, history.Record{
		RunID:       "run_detail",
		DocumentID:  "budget.docx",
		Host:        "text",
		Source:      "gateway",
		Success:     true,
		Message:     "plan applied",
		ActionCount: 1,
		Duration:    12 * time.Millisecond,
		Steps:       steps,
		CreatedAt:   time.Now(),
	})

	out, err := execCommand(t, "history", "--run-id", "run_detail", "--config", cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { historyRunID = "" })

	assert.Contains(t, out, "run_detail")
	assert.Contains(t, out, "budget.docx")
	assert.Contains(t, out, "plan applied")
	assert.Contains(t, out, "Insert text")
}

func TestHistoryCommandUnknownRunID(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seedHistory(t, cfgPath, history.Record{RunID: "run_x", Host: "text", Source: "cli", CreatedAt: time.Now()})

	_, err := execCommand(t, "history", "--run-id", "run_missing", "--config", cfgPath)
	require.Error(t, err)
	t.Cleanup(func() { historyRunID = "" })
	assert.Contains(t, err.Error(), "run_missing")
}

func TestHistoryCommandJSON(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seedHistory(t, cfgPath, history.Record{
		RunID:     "run_json",
		Host:      "presentation",
		Source:    "watcher",
		Success:   true,
		CreatedAt: time.Now(),
	})

	out, err := execCommand(t, "history", "--config", cfgPath, "--json")
	require.NoError(t, err)
	t.Cleanup(func() { historyJSON = false })

	var entries []history.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "run_json", entries[0].RunID)
	assert.Equal(t, "presentation", entries[0].Host)
}

func TestHistoryCommandEmptyLog(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execCommand(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no executions recorded yet")
}
