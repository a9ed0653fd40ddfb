package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/history"
)

const testPlan = `{"schema_version":"v1","host":"text","actions":[{"op":"insert_text","content":"hello"}]}`

// writeTestConfig writes a config rooted in a temp dir so commands under test
// never touch ~/.docplan.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Logging.Level = "error"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(cfg.DataDir, "docplan.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writePlanFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func TestRunCommandExecutesPlan(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, testPlan)

	out, err := execCommand(t, "run", planPath, "--config", cfgPath, "--document", "memo.docx")
	require.NoError(t, err)
	t.Cleanup(func() { runDocumentID = "" })

	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "plan applied")

	// The one-shot run lands in the same execution log the daemon uses.
	store, err := history.New(history.Config{
		DBPath: filepath.Join(filepath.Dir(cfgPath), "history.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cli", entries[0].Source)
	assert.Equal(t, "memo.docx", entries[0].DocumentID)
	assert.True(t, entries[0].Success)
}

func TestRunCommandJSONOutput(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, testPlan)

	out, err := execCommand(t, "run", planPath, "--config", cfgPath, "--json")
	require.NoError(t, err)
	t.Cleanup(func() { runJSON = false })

	var result engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Debug)
	assert.Equal(t, "text", result.Debug.ActualHost)
}

func TestRunCommandSnapshot(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, testPlan)

	out, err := execCommand(t, "run", planPath, "--config", cfgPath, "--snapshot")
	require.NoError(t, err)
	t.Cleanup(func() { runSnapshot = false })

	assert.Contains(t, out, "--- document ---")
	assert.Contains(t, out, `"body": "hello"`)
}

func TestRunCommandSnapshotJSON(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, testPlan)

	out, err := execCommand(t, "run", planPath, "--config", cfgPath, "--snapshot", "--json")
	require.NoError(t, err)
	t.Cleanup(func() {
		runSnapshot = false
		runJSON = false
	})

	var payload struct {
		Result   engine.Result  `json:"result"`
		Document map[string]any `json:"document"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.True(t, payload.Result.Success)
	assert.Equal(t, "hello", payload.Document["body"])
}

func TestRunCommandReadsStdin(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"run", "--config", cfgPath})
	cmd.SetIn(bytes.NewBufferString(testPlan))

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "plan applied")
}

func TestRunCommandReportsFailure(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, `{"schema_version":"v1","host":"text","actions":[]}`)

	_, err := execCommand(t, "run", planPath, "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan failed")
}

func TestRunCommandMissingFile(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := execCommand(t, "run", filepath.Join(t.TempDir(), "missing.json"), "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read plan")
}
