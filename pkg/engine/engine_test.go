package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/memdoc"
	"github.com/davan/docplan/pkg/plan"
)

// sinkRecorder captures capability events for assertions.
type sinkRecorder struct {
	mu     sync.Mutex
	events []CapabilityEvent
}

func (s *sinkRecorder) RecordCapability(ev CapabilityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// branch returns the first recorded event for a named branch.
func (s *sinkRecorder) branch(name string) (CapabilityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Branch == name {
			return ev, true
		}
	}
	return CapabilityEvent{}, false
}

func newTestEngine(sink CapabilitySink) *Engine {
	return New(DefaultConfig(), zerolog.Nop(), sink)
}

func runPlan(t *testing.T, session host.Session, raw string) *Result {
	t.Helper()
	return newTestEngine(nil).Execute(context.Background(), session, raw, nil)
}

func runPlanWithSink(t *testing.T, session host.Session, raw string) (*Result, *sinkRecorder) {
	t.Helper()
	sink := &sinkRecorder{}
	res := newTestEngine(sink).Execute(context.Background(), session, raw, nil)
	return res, sink
}

func TestExecuteTextPlan(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "Hello, "},
			{"op": "insert_text", "content": "world."}
		]
	}`
	res := runPlan(t, session, raw)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "plan applied", res.Message)
	assert.Equal(t, "Hello, world.", session.Doc().Body())

	require.Len(t, res.Steps, 2)
	for _, step := range res.Steps {
		assert.Equal(t, StepCompleted, step.Status)
		assert.NotEmpty(t, step.ID)
		assert.NotEmpty(t, step.Title)
		assert.Empty(t, step.Error)
	}

	require.NotNil(t, res.Debug)
	assert.NotEmpty(t, res.Debug.RunID)
	assert.Equal(t, "text", res.Debug.DeclaredHost)
	assert.Equal(t, "text", res.Debug.ActualHost)
	assert.False(t, res.Debug.HostMismatch)
	assert.Equal(t, 2, res.Debug.ActionCount)
	assert.Equal(t, 1, session.SyncCalls())
}

func TestExecuteStreamsSteps(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "one"},
			{"op": "insert_text", "content": "two"}
		]
	}`

	var seen []Step
	res := newTestEngine(nil).Execute(context.Background(), session, raw, func(step Step) {
		seen = append(seen, step)
	})

	require.True(t, res.Success, res.Message)
	require.Len(t, seen, 4)
	assert.Equal(t, StepProcessing, seen[0].Status)
	assert.Equal(t, StepCompleted, seen[1].Status)
	assert.Equal(t, seen[0].ID, seen[1].ID)
	assert.Equal(t, StepProcessing, seen[2].Status)
	assert.Equal(t, StepCompleted, seen[3].Status)
	assert.NotEqual(t, seen[0].ID, seen[2].ID)
}

func TestExecuteAbortsOnFirstFailure(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "alpha"},
			{"op": "apply_style", "find": "missing", "style": {"bold": true}},
			{"op": "insert_text", "content": "omega"}
		]
	}`
	res := runPlan(t, session, raw)

	require.False(t, res.Success)
	assert.Equal(t, string(execerr.KindTargetNotFound), res.Debug.ErrorKind)

	// Only the attempted actions show up; the third never started.
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepCompleted, res.Steps[0].Status)
	assert.Equal(t, StepError, res.Steps[1].Status)
	assert.Contains(t, res.Steps[1].Error, "missing")
	assert.Equal(t, "alpha", session.Doc().Body())
}

func TestExecuteMalformedPayload(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	res := runPlan(t, session, "sorry, I cannot produce a plan for that")

	require.False(t, res.Success)
	assert.Equal(t, string(execerr.KindMalformedPlan), res.Debug.ErrorKind)
	assert.Empty(t, res.Steps)
}

func TestExecuteHostMismatchTolerated(t *testing.T) {
	session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "set_cell_value", "cell": "A1", "value": 7}
		]
	}`
	res := runPlan(t, session, raw)

	require.True(t, res.Success, res.Message)
	assert.True(t, res.Debug.HostMismatch)
	assert.Equal(t, "text", res.Debug.DeclaredHost)
	assert.Equal(t, "spreadsheet", res.Debug.ActualHost)
	assert.Equal(t, float64(7), session.Book().MustSheet("Sheet1").ValueA1("A1"))
}

func TestExecuteHostMismatchRejected(t *testing.T) {
	session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "hi"},
			{"op": "set_cell_value", "cell": "A1", "value": 1}
		]
	}`
	res := runPlan(t, session, raw)

	require.False(t, res.Success)
	assert.Equal(t, string(execerr.KindHostMismatch), res.Debug.ErrorKind)
	assert.Contains(t, res.Message, "insert_text")
	assert.NotContains(t, res.Message, "set_cell_value")
	assert.Empty(t, res.Steps)
}

func TestExecuteUnsupportedOperation(t *testing.T) {
	// Declared and actual host agree, so routing passes; the executor itself
	// rejects an op that has no business on a spreadsheet.
	session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "spreadsheet",
		"actions": [
			{"op": "insert_text", "content": "hi"}
		]
	}`
	res := runPlan(t, session, raw)

	require.False(t, res.Success)
	assert.Equal(t, string(execerr.KindUnsupportedOperation), res.Debug.ErrorKind)
}

func TestExecuteCanceledContext(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := `{"schema_version":"v1","host":"text","actions":[{"op":"insert_text","content":"hi"}]}`
	res := newTestEngine(nil).Execute(ctx, session, raw, nil)

	require.False(t, res.Success)
	assert.Equal(t, string(execerr.KindCanceled), res.Debug.ErrorKind)
	assert.Empty(t, res.Steps)
	assert.Equal(t, "", session.Doc().Body())
}

func TestExecuteSyncFailureTolerated(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{FailSync: true})
	raw := `{"schema_version":"v1","host":"text","actions":[{"op":"insert_text","content":"still lands"}]}`
	res := runPlan(t, session, raw)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, session.SyncCalls())
	assert.Equal(t, "still lands", session.Doc().Body())
}

func TestExecuteCallbackPanicIsContained(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "a"},
			{"op": "insert_text", "content": "b"}
		]
	}`

	calls := 0
	res := newTestEngine(nil).Execute(context.Background(), session, raw, func(Step) {
		calls++
		panic("listener bug")
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, calls, "callback should be disarmed after the first panic")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepCompleted, res.Steps[0].Status)
	assert.Equal(t, StepCompleted, res.Steps[1].Status)
}

func TestExecuteReportsFallbackCapability(t *testing.T) {
	session := memdoc.NewSpreadsheetSession(memdoc.Quirks{NoA1Writes: true})
	raw := `{"schema_version":"v1","host":"spreadsheet","actions":[{"op":"set_cell_value","cell":"B2","value":"x"}]}`
	res, sink := runPlanWithSink(t, session, raw)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "x", session.Book().MustSheet("Sheet1").ValueA1("B2"))

	primary, ok := sink.branch("a1_write")
	require.True(t, ok)
	assert.False(t, primary.Fallback)
	assert.False(t, primary.Success)

	fallback, ok := sink.branch("rc_write")
	require.True(t, ok)
	assert.True(t, fallback.Fallback)
	assert.True(t, fallback.Success)
	assert.Equal(t, "spreadsheet", fallback.Host)
	assert.Equal(t, "set_cell_value", fallback.Op)
}

func TestExecuteDecorativePlaceholder(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{NoInlineImages: true})
	raw := `{"schema_version":"v1","host":"text","actions":[{"op":"insert_image","source":"https://example.com/chart.png"}]}`
	res, sink := runPlanWithSink(t, session, raw)

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepCompleted, res.Steps[0].Status)

	assert.Contains(t, session.Doc().Body(), "[image: https://example.com/chart.png]")
	assert.Empty(t, session.Doc().Images())

	sub, ok := sink.branch("placeholder")
	require.True(t, ok)
	assert.True(t, sub.Fallback)
	assert.True(t, sub.Success)
}

func TestExecuteBlockDepthLimit(t *testing.T) {
	e := New(Config{MaxBlockDepth: 1}, zerolog.Nop(), nil)
	session := memdoc.NewTextSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "upsert_block", "block_id": "outer", "actions": [
				{"op": "upsert_block", "block_id": "inner", "actions": [
					{"op": "insert_text", "content": "deep"}
				]}
			]}
		]
	}`
	res := e.Execute(context.Background(), session, raw, nil)

	require.False(t, res.Success)
	assert.Equal(t, string(execerr.KindInvalidPlan), res.Debug.ErrorKind)
	assert.Contains(t, res.Message, "nesting")
}

func TestOnDegradedBlockNotifier(t *testing.T) {
	e := newTestEngine(nil)

	var gotHost, gotID, gotReason string
	e.OnDegradedBlock(func(hostName, blockID, reason string) {
		gotHost, gotID, gotReason = hostName, blockID, reason
	})

	ec := &execContext{log: zerolog.Nop(), kind: plan.HostText}
	e.warnDegraded(ec, "BID_b1", "start marker lost after write", nil)

	assert.Equal(t, "text", gotHost)
	assert.Equal(t, "BID_b1", gotID)
	assert.Equal(t, "start marker lost after write", gotReason)
}

func TestOnDegradedBlockNotifierSurvivesPanic(t *testing.T) {
	e := newTestEngine(nil)
	e.OnDegradedBlock(func(string, string, string) { panic("listener bug") })

	ec := &execContext{log: zerolog.Nop(), kind: plan.HostText}
	require.NotPanics(t, func() {
		e.warnDegraded(ec, "BID_b1", "end marker lost after write", nil)
	})
}
