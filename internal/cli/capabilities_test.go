package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/internal/telemetry"
	"github.com/davan/docplan/pkg/engine"
)

// seedCapabilities records events through a collector so the matrix store the
// test config points at has rows.
func seedCapabilities(t *testing.T, cfgPath string, events ...engine.CapabilityEvent) {
	t.Helper()

	collector, err := telemetry.NewCollector(telemetry.Config{
		DBPath: filepath.Join(filepath.Dir(cfgPath), "capabilities.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	for _, ev := range events {
		collector.RecordCapability(ev)
	}
	require.NoError(t, collector.Flush(context.Background()))
	require.NoError(t, collector.Close())
}

func TestCapabilitiesCommandShowsMatrix(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seedCapabilities(t, cfgPath,
		engine.CapabilityEvent{Host: "text", Op: "upsert_block", Branch: "bookmark", Success: true, Timestamp: time.Now()},
		engine.CapabilityEvent{Host: "text", Op: "upsert_block", Branch: "full_text_scan", Fallback: true, Success: true, Timestamp: time.Now()},
		engine.CapabilityEvent{Host: "spreadsheet", Op: "set_cells", Branch: "range_write", Success: true, Timestamp: time.Now()},
	)

	out, err := execCommand(t, "capabilities", "--config", cfgPath)
	require.NoError(t, err)

	assert.Contains(t, out, "upsert_block")
	assert.Contains(t, out, "bookmark")
	assert.Contains(t, out, "full_text_scan")
	assert.Contains(t, out, "set_cells")
}

func TestCapabilitiesCommandFiltersByHost(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seedCapabilities(t, cfgPath,
		engine.CapabilityEvent{Host: "text", Op: "insert_text", Branch: "body_append", Success: true, Timestamp: time.Now()},
		engine.CapabilityEvent{Host: "spreadsheet", Op: "set_cells", Branch: "range_write", Success: true, Timestamp: time.Now()},
	)

	out, err := execCommand(t, "capabilities", "--config", cfgPath, "--host", "spreadsheet")
	require.NoError(t, err)
	t.Cleanup(func() { capsHost = "" })

	assert.Contains(t, out, "set_cells")
	assert.NotContains(t, out, "insert_text")
}

func TestCapabilitiesCommandJSON(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seedCapabilities(t, cfgPath,
		engine.CapabilityEvent{Host: "text", Op: "replace_region", Branch: "anchor_span", Success: true, Timestamp: time.Now()},
	)

	out, err := execCommand(t, "capabilities", "--config", cfgPath, "--json")
	require.NoError(t, err)
	t.Cleanup(func() { capsJSON = false })

	var rows []telemetry.MatrixRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "replace_region", rows[0].Op)
	assert.Equal(t, int64(1), rows[0].Attempts)
}

func TestCapabilitiesCommandEmptyStore(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execCommand(t, "capabilities", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no capability data recorded yet")
}
