package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davan/docplan/pkg/execerr"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/memdoc"
)

func TestAddSlide(t *testing.T) {
	t.Run("appends with placeholder text", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide", "title": "Agenda", "body": "Overview"}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		count, err := session.Deck().SlideCount()
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		slide := session.Deck().SlideAt(2)
		assert.Equal(t, host.LayoutTitleContent, slide.Layout())
		assert.Equal(t, "Agenda", slide.TitleText())
		assert.Equal(t, "Overview", slide.BodyText())
	})

	t.Run("insert position honored", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide", "index": 1, "layout": "section", "title": "Kickoff"}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		assert.Equal(t, "Kickoff", session.Deck().SlideAt(1).TitleText())
		assert.Equal(t, host.LayoutSection, session.Deck().SlideAt(1).Layout())
	})

	t.Run("insert position degrades to append", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{NoSlideInsertAt: true})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide", "index": 1, "layout": "section", "title": "Kickoff"}
			]
		}`
		res, sink := runPlanWithSink(t, session, raw)
		require.True(t, res.Success, res.Message)

		assert.Equal(t, "Kickoff", session.Deck().SlideAt(2).TitleText())

		ev, ok := sink.branch("append")
		require.True(t, ok)
		assert.True(t, ev.Fallback)
		assert.True(t, ev.Success)
	})
}

func TestSetSlideTitle(t *testing.T) {
	t.Run("writes the placeholder", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "set_slide_title", "content": "Hello"}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "Hello", session.Deck().SlideAt(1).TitleText())
	})

	t.Run("blank layout gets a title text box", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide", "layout": "blank"},
				{"op": "set_slide_title", "content": "T"}
			]
		}`
		res, sink := runPlanWithSink(t, session, raw)
		require.True(t, res.Success, res.Message)

		slide := session.Deck().SlideAt(2)
		assert.Empty(t, slide.TitleText(), "blank layout has no title placeholder")

		shapes, err := slide.Shapes()
		require.NoError(t, err)
		require.Len(t, shapes, 1)
		text, err := shapes[0].Text()
		require.NoError(t, err)
		assert.Equal(t, "T", text)
		box, err := shapes[0].Bounds()
		require.NoError(t, err)
		assert.Equal(t, defaultTitleBox, box)

		ev, ok := sink.branch("title_text_box")
		require.True(t, ok)
		assert.True(t, ev.Fallback)
		assert.True(t, ev.Success)
	})
}

func TestAddTextBoxPlacement(t *testing.T) {
	t.Run("reuses an empty body placeholder then floats", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide"},
				{"op": "add_text_box", "content": "hello"},
				{"op": "add_text_box", "content": "world"}
			]
		}`
		res, sink := runPlanWithSink(t, session, raw)
		require.True(t, res.Success, res.Message)

		slide := session.Deck().SlideAt(2)
		assert.Equal(t, "hello", slide.BodyText())

		shapes, err := slide.Shapes()
		require.NoError(t, err)
		require.Len(t, shapes, 3)
		text, err := shapes[2].Text()
		require.NoError(t, err)
		assert.Equal(t, "world", text)
		box, err := shapes[2].Bounds()
		require.NoError(t, err)
		assert.Equal(t, defaultBodyBox, box)

		ev, ok := sink.branch("floating_box")
		require.True(t, ok)
		assert.True(t, ev.Fallback)
	})

	t.Run("explicit coordinates win", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide"},
				{"op": "add_text_box", "content": "corner", "x": 10, "y": 20, "width": 100, "height": 50}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		slide := session.Deck().SlideAt(2)
		assert.Empty(t, slide.BodyText(), "placeholder must not be touched")

		shapes, err := slide.Shapes()
		require.NoError(t, err)
		require.Len(t, shapes, 3)
		box, err := shapes[2].Bounds()
		require.NoError(t, err)
		assert.Equal(t, host.Box{X: 10, Y: 20, Width: 100, Height: 50}, box)
	})
}

func TestAddBullets(t *testing.T) {
	session := memdoc.NewPresentationSession(memdoc.Quirks{})
	raw := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "add_slide"},
			{"op": "add_bullets", "items": ["One", "Two"]},
			{"op": "add_bullets", "items": ["Three"]}
		]
	}`
	res := runPlan(t, session, raw)
	require.True(t, res.Success, res.Message)

	// The second batch appends below the first instead of overwriting it.
	assert.Equal(t, "• One\n• Two\n• Three", session.Deck().SlideAt(2).BodyText())
}

func TestSetSpeakerNotes(t *testing.T) {
	t.Run("writes the notes", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "set_speaker_notes", "content": "Remember the demo", "slide": 1}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "Remember the demo", session.Deck().SlideAt(1).Notes())
	})

	t.Run("fails when the host has no notes surface", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{NoNotes: true})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "set_speaker_notes", "content": "never lands", "slide": 1}
			]
		}`
		res := runPlan(t, session, raw)

		require.False(t, res.Success)
		assert.Equal(t, string(execerr.KindStructuralWriteFailure), res.Debug.ErrorKind)
	})
}

func TestApplyTheme(t *testing.T) {
	raw := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "apply_theme", "name": "boardroom"}
		]
	}`

	t.Run("applies when supported", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "boardroom", session.Deck().Theme())
	})

	t.Run("gap is absorbed silently", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{NoThemes: true})
		res, sink := runPlanWithSink(t, session, raw)

		require.True(t, res.Success, res.Message)
		assert.Empty(t, session.Deck().Theme())

		ev, ok := sink.branch("skipped")
		require.True(t, ok)
		assert.True(t, ev.Fallback)
		assert.True(t, ev.Success)
	})
}

func TestAddImage(t *testing.T) {
	raw := `{
		"schema_version": "v1",
		"host": "presentation",
		"actions": [
			{"op": "add_image", "source": "diagrams/arch.png", "slide": 1}
		]
	}`

	t.Run("places the image", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, []string{"diagrams/arch.png"}, session.Deck().SlideAt(1).ImageSources())
	})

	t.Run("substitutes a visible placeholder", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{NoSlideImages: true})
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		slide := session.Deck().SlideAt(1)
		assert.Empty(t, slide.ImageSources())

		shapes, err := slide.Shapes()
		require.NoError(t, err)
		require.Len(t, shapes, 2)
		text, err := shapes[1].Text()
		require.NoError(t, err)
		assert.Equal(t, "[image: diagrams/arch.png]", text)
	})
}

func TestDeleteSlide(t *testing.T) {
	t.Run("removes by index", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "add_slide", "title": "Doomed"},
				{"op": "delete_slide", "slide": 2}
			]
		}`
		res := runPlan(t, session, raw)
		require.True(t, res.Success, res.Message)

		count, err := session.Deck().SlideCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("missing slide", func(t *testing.T) {
		session := memdoc.NewPresentationSession(memdoc.Quirks{})
		raw := `{
			"schema_version": "v1",
			"host": "presentation",
			"actions": [
				{"op": "delete_slide", "slide": 9}
			]
		}`
		res := runPlan(t, session, raw)

		require.False(t, res.Success)
		assert.Equal(t, string(execerr.KindTargetNotFound), res.Debug.ErrorKind)
	})
}
