package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/memdoc"
)

func TestTextBlockIdempotentViaBookmark(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "insert_text", "content": "Quarterly summary."}
			]}
		]
	}`

	for run := 1; run <= 2; run++ {
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "Quarterly summary.", session.Doc().Body(), "run %d", run)
	}

	marks := session.Doc().Bookmarks()
	require.Contains(t, marks, "blk:b1")
	assert.Equal(t, host.TextSelection{Start: 0, End: 18}, marks["blk:b1"])
}

func TestTextBlockIdempotentViaMarkers(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{NoBookmarks: true})
	raw := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "insert_text", "content": "Draft."}
			]}
		]
	}`

	want := "[[b1:START]]Draft.[[b1:END]]"
	for run := 1; run <= 2; run++ {
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, want, session.Doc().Body(), "run %d", run)
	}

	// Markers are written faint, not hidden.
	styles := session.Doc().StyleLog()
	require.NotEmpty(t, styles)
	assert.Equal(t, "[[b1:START]][[b1:END]]", styles[0].Text)
	assert.Equal(t, "#FEFEFE", styles[0].Style.Color)
}

func TestTextBlockRewriteReplacesContentInPlace(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	seed := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "intro "},
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "insert_text", "content": "v1"}
			]}
		]
	}`
	res := runPlan(t, session, seed)
	require.True(t, res.Success, res.Message)
	require.Equal(t, "intro v1", session.Doc().Body())

	rewrite := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "insert_text", "content": "v2!"}
			]}
		]
	}`
	res = runPlan(t, session, rewrite)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "intro v2!", session.Doc().Body())
	assert.Equal(t, host.TextSelection{Start: 6, End: 9}, session.Doc().Bookmarks()["blk:b1"])
}

func TestTextBlockCursorRestore(t *testing.T) {
	t.Run("frozen by default", func(t *testing.T) {
		session := memdoc.NewTextSession(memdoc.Quirks{})
		require.NoError(t, session.Doc().InsertAt(0, "prologue "))

		raw := `{
			"schema_version": "v1",
			"host": "text",
			"actions": [
				{"op": "upsert_block", "block_id": "b1", "actions": [
					{"op": "insert_text", "content": "v1"}
				]}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		assert.Equal(t, "prologue v1", session.Doc().Body())
		sel, err := session.Doc().Selection()
		require.NoError(t, err)
		assert.Equal(t, host.TextSelection{Start: 9, End: 9}, sel)
	})

	t.Run("disabled leaves the cursor after the write", func(t *testing.T) {
		session := memdoc.NewTextSession(memdoc.Quirks{})
		require.NoError(t, session.Doc().InsertAt(0, "prologue "))

		raw := `{
			"schema_version": "v1",
			"host": "text",
			"actions": [
				{"op": "upsert_block", "block_id": "b1", "freeze_cursor": false, "actions": [
					{"op": "insert_text", "content": "v1"}
				]}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		sel, err := session.Doc().Selection()
		require.NoError(t, err)
		assert.Equal(t, host.TextSelection{Start: 11, End: 11}, sel)
	})
}

func TestTextBlockDelete(t *testing.T) {
	session := memdoc.NewTextSession(memdoc.Quirks{})
	seed := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "insert_text", "content": "keep "},
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "insert_text", "content": "temporary"}
			]}
		]
	}`
	res := runPlan(t, session, seed)
	require.True(t, res.Success, res.Message)
	require.Equal(t, "keep temporary", session.Doc().Body())

	del := `{
		"schema_version": "v1",
		"host": "text",
		"actions": [
			{"op": "delete_block", "block_id": "b1"}
		]
	}`
	res = runPlan(t, session, del)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "keep ", session.Doc().Body())
	assert.NotContains(t, session.Doc().Bookmarks(), "blk:b1")

	// Deleting again converges on the same state.
	res = runPlan(t, session, del)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "keep ", session.Doc().Body())
}

func TestSheetBlockIdempotent(t *testing.T) {
	session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "spreadsheet",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "set_cell_formula", "cell": "A1", "formula": "SUM(B1:B3)"}
			]}
		]
	}`

	for run := 1; run <= 2; run++ {
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		names, err := session.Book().SheetNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"Sheet1", "BID_b1"}, names, "run %d", run)
		assert.Equal(t, "=SUM(B1:B3)", session.Book().MustSheet("BID_b1").ValueA1("A1"))
	}

	// The caller's active sheet is put back after the block write.
	active, err := session.Book().ActiveSheet()
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", active.Name())
}

func TestSheetBlockScopesUnqualifiedAddresses(t *testing.T) {
	session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "spreadsheet",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "set_cell_value", "cell": "A1", "value": "inside"},
				{"op": "set_cell_value", "cell": "Sheet1!A1", "value": "outside"}
			]}
		]
	}`
	res := runPlan(t, session, raw)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "inside", session.Book().MustSheet("BID_b1").ValueA1("A1"))
	assert.Equal(t, "outside", session.Book().MustSheet("Sheet1").ValueA1("A1"))
}

func TestSheetBlockDelete(t *testing.T) {
	seed := `{
		"schema_version": "v1",
		"host": "spreadsheet",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "set_cell_value", "cell": "A1", "value": 1}
			]}
		]
	}`
	del := `{
		"schema_version": "v1",
		"host": "spreadsheet",
		"actions": [
			{"op": "delete_block", "block_id": "b1"}
		]
	}`

	t.Run("removes the sheet", func(t *testing.T) {
		session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
		require.True(t, runPlan(t, session, seed).Success)

		res := runPlan(t, session, del)
		require.True(t, res.Success, res.Message)
		names, err := session.Book().SheetNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"Sheet1"}, names)
	})

	t.Run("degrades to clearing when removal is refused", func(t *testing.T) {
		session := memdoc.NewSpreadsheetSession(memdoc.Quirks{NoSheetRemoval: true})
		require.True(t, runPlan(t, session, seed).Success)

		res, sink := runPlanWithSink(t, session, del)
		require.True(t, res.Success, res.Message)

		names, err := session.Book().SheetNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"Sheet1", "BID_b1"}, names)
		assert.Empty(t, session.Book().MustSheet("BID_b1").CellsA1())

		cleared, ok := sink.branch("clear_sheet")
		require.True(t, ok)
		assert.True(t, cleared.Fallback)
		assert.True(t, cleared.Success)
	})

	t.Run("absent block is a no-op", func(t *testing.T) {
		session := memdoc.NewSpreadsheetSession(memdoc.Quirks{})
		res := runPlan(t, session, del)
		require.True(t, res.Success, res.Message)
	})
}

func TestBlockSheetNameSanitized(t *testing.T) {
	assert.Equal(t, "BID_q3_report", blockSheetName("q3/report"))
	assert.Equal(t, "BID_a_b_c", blockSheetName("a[b]c"))

	long := blockSheetName(strings.Repeat("x", 40))
	assert.Len(t, long, 31)
	assert.True(t, strings.HasPrefix(long, "BID_x"))
}

func TestSlideBlockIdempotent(t *testing.T) {
	session := memdoc.NewPresentationSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "set_slide_title", "content": "Status"},
				{"op": "add_bullets", "items": ["On track", "Risks low"]}
			]}
		]
	}`

	for run := 1; run <= 2; run++ {
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		count, err := session.Deck().SlideCount()
		require.NoError(t, err)
		assert.Equal(t, 2, count, "run %d", run)

		slide := session.Deck().SlideAt(2)
		assert.Equal(t, "Status", slide.TitleText())
		assert.Equal(t, "• On track\n• Risks low", slide.BodyText())
		assert.Equal(t, "b1", slide.Tags()["docplan:block"])
	}
}

func TestSlideBlockMarkerShapeFallback(t *testing.T) {
	session := memdoc.NewPresentationSession(memdoc.Quirks{NoTags: true})
	raw := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "set_slide_title", "content": "Status"}
			]}
		]
	}`

	for run := 1; run <= 2; run++ {
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		count, err := session.Deck().SlideCount()
		require.NoError(t, err)
		assert.Equal(t, 2, count, "run %d", run)
	}

	slide := session.Deck().SlideAt(2)
	assert.Equal(t, "Status", slide.TitleText())
	assert.Contains(t, slide.ShapeNames(), "BLK_b1")
}

func TestSlideBlockDelete(t *testing.T) {
	session := memdoc.NewPresentationSession(memdoc.Quirks{})
	seed := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "upsert_block", "block_id": "b1", "actions": [
				{"op": "set_slide_title", "content": "Temp"}
			]}
		]
	}`
	require.True(t, runPlan(t, session, seed).Success)

	del := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "delete_block", "block_id": "b1"}
		]
	}`
	res := runPlan(t, session, del)
	require.True(t, res.Success, res.Message)

	count, err := session.Deck().SlideCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same delete again finds nothing and still succeeds.
	res = runPlan(t, session, del)
	require.True(t, res.Success, res.Message)
}
