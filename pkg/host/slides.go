package host

// SlideLayout names the placeholder arrangement of a new slide.
type SlideLayout string

const (
	LayoutTitle        SlideLayout = "title"
	LayoutTitleContent SlideLayout = "title_content"
	LayoutSection      SlideLayout = "section"
	LayoutBlank        SlideLayout = "blank"
)

// PlaceholderKind names the layout placeholders auto-placement can reuse.
type PlaceholderKind string

const (
	PlaceholderTitle PlaceholderKind = "title"
	PlaceholderBody  PlaceholderKind = "body"
)

// Box is a shape's position and size in points.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Presentation is the required core of a slide host. Slide indexes are
// 1-based.
type Presentation interface {
	SlideCount() (int, error)
	// Slide returns the slide at a 1-based index.
	Slide(index int) (Slide, error)
	// AppendSlide adds a slide at the end.
	AppendSlide(layout SlideLayout) (Slide, error)
	// RemoveSlide deletes the slide at a 1-based index.
	RemoveSlide(index int) error
	// ActiveIndex returns the slide current edits land on.
	ActiveIndex() (int, error)
	// SetActive changes the active slide.
	SetActive(index int) error
}

// SlideInserter places a new slide at a specific position.
type SlideInserter interface {
	InsertSlideAt(index int, layout SlideLayout) (Slide, error)
}

// ThemeApplier switches the presentation theme.
type ThemeApplier interface {
	ApplyTheme(name string) error
}

// Slide is one slide's shape collection.
type Slide interface {
	// Placeholder resolves a layout placeholder. ok=false when the layout
	// does not carry one.
	Placeholder(kind PlaceholderKind) (Shape, bool, error)
	// AddTextBox adds a free-floating text shape.
	AddTextBox(box Box, text string) (Shape, error)
	// Shapes lists shapes in z-order.
	Shapes() ([]Shape, error)
	// RemoveShape deletes a shape by name.
	RemoveShape(name string) error
}

// Tagger attaches key/value tags to a slide, the preferred block anchor.
type Tagger interface {
	SetTag(key, value string) error
	Tag(key string) (string, bool, error)
}

// NotesSetter writes the speaker-notes text of a slide.
type NotesSetter interface {
	SetSpeakerNotes(text string) error
}

// SlideImageWriter places an image shape on a slide.
type SlideImageWriter interface {
	AddImage(source string, box Box) (Shape, error)
}

// Shape is one drawable on a slide.
type Shape interface {
	Name() string
	SetName(name string) error
	Text() (string, error)
	SetText(text string) error
	Bounds() (Box, error)
	SetBounds(box Box) error
}
