package memdoc

import (
	"fmt"
	"strings"

	"github.com/davan/docplan/pkg/host"
)

// Deck is an in-memory presentation host.
type Deck struct {
	q      Quirks
	slides []*MemSlide
	active int
	theme  string
	nextID int
}

// NewDeck builds a presentation with a single title slide.
func NewDeck(q Quirks) *Deck {
	d := &Deck{q: q, nextID: 1}
	d.slides = append(d.slides, d.newSlide(host.LayoutTitle))
	return d
}

func (d *Deck) SlideCount() (int, error) {
	return len(d.slides), nil
}

func (d *Deck) Slide(index int) (host.Slide, error) {
	if index < 1 || index > len(d.slides) {
		return nil, fmt.Errorf("slide %d out of range 1..%d", index, len(d.slides))
	}
	return d.slides[index-1], nil
}

func (d *Deck) AppendSlide(layout host.SlideLayout) (host.Slide, error) {
	s := d.newSlide(layout)
	d.slides = append(d.slides, s)
	d.active = len(d.slides) - 1
	return s, nil
}

func (d *Deck) RemoveSlide(index int) error {
	if index < 1 || index > len(d.slides) {
		return fmt.Errorf("slide %d out of range 1..%d", index, len(d.slides))
	}
	d.slides = append(d.slides[:index-1], d.slides[index:]...)
	if d.active >= len(d.slides) && d.active > 0 {
		d.active = len(d.slides) - 1
	}
	return nil
}

func (d *Deck) ActiveIndex() (int, error) {
	if len(d.slides) == 0 {
		return 0, fmt.Errorf("presentation has no slides")
	}
	return d.active + 1, nil
}

func (d *Deck) SetActive(index int) error {
	if index < 1 || index > len(d.slides) {
		return fmt.Errorf("slide %d out of range 1..%d", index, len(d.slides))
	}
	d.active = index - 1
	return nil
}

// SlideInserter

func (d *Deck) InsertSlideAt(index int, layout host.SlideLayout) (host.Slide, error) {
	if d.q.NoSlideInsertAt {
		return nil, host.ErrNotSupported
	}
	if index < 1 {
		index = 1
	}
	if index > len(d.slides)+1 {
		index = len(d.slides) + 1
	}
	s := d.newSlide(layout)
	d.slides = append(d.slides, nil)
	copy(d.slides[index:], d.slides[index-1:])
	d.slides[index-1] = s
	d.active = index - 1
	return s, nil
}

// ThemeApplier

func (d *Deck) ApplyTheme(name string) error {
	if d.q.NoThemes {
		return host.ErrNotSupported
	}
	d.theme = name
	return nil
}

// Theme returns the applied theme name, empty when untouched.
func (d *Deck) Theme() string { return d.theme }

// SlideAt returns a concrete slide for assertions, 1-based.
func (d *Deck) SlideAt(index int) *MemSlide {
	if index < 1 || index > len(d.slides) {
		panic(fmt.Sprintf("memdoc: slide %d out of range", index))
	}
	return d.slides[index-1]
}

func (d *Deck) newSlide(layout host.SlideLayout) *MemSlide {
	s := &MemSlide{deck: d, layout: layout, tags: make(map[string]string)}
	switch layout {
	case host.LayoutTitle, host.LayoutSection:
		s.addPlaceholder(host.PlaceholderTitle)
	case host.LayoutTitleContent:
		s.addPlaceholder(host.PlaceholderTitle)
		s.addPlaceholder(host.PlaceholderBody)
	}
	return s
}

// MemSlide is one in-memory slide.
type MemSlide struct {
	deck   *Deck
	layout host.SlideLayout
	shapes []*MemShape
	tags   map[string]string
	notes  string
}

var placeholderBounds = map[host.PlaceholderKind]host.Box{
	host.PlaceholderTitle: {X: 48, Y: 30, Width: 624, Height: 70},
	host.PlaceholderBody:  {X: 48, Y: 120, Width: 624, Height: 360},
}

func (s *MemSlide) addPlaceholder(kind host.PlaceholderKind) {
	label := string(kind)
	label = strings.ToUpper(label[:1]) + label[1:]
	s.shapes = append(s.shapes, &MemShape{
		slide:       s,
		name:        fmt.Sprintf("%s %d", label, len(s.shapes)+1),
		placeholder: kind,
		box:         placeholderBounds[kind],
	})
}

func (s *MemSlide) Placeholder(kind host.PlaceholderKind) (host.Shape, bool, error) {
	for _, sh := range s.shapes {
		if sh.placeholder == kind {
			return sh, true, nil
		}
	}
	return nil, false, nil
}

func (s *MemSlide) AddTextBox(box host.Box, text string) (host.Shape, error) {
	s.deck.nextID++
	sh := &MemShape{
		slide: s,
		name:  fmt.Sprintf("TextBox %d", s.deck.nextID),
		text:  text,
		box:   box,
	}
	s.shapes = append(s.shapes, sh)
	return sh, nil
}

func (s *MemSlide) Shapes() ([]host.Shape, error) {
	out := make([]host.Shape, len(s.shapes))
	for i, sh := range s.shapes {
		out[i] = sh
	}
	return out, nil
}

func (s *MemSlide) RemoveShape(name string) error {
	for i, sh := range s.shapes {
		if sh.name == name {
			s.shapes = append(s.shapes[:i], s.shapes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("shape %q not found", name)
}

// Tagger

func (s *MemSlide) SetTag(key, value string) error {
	if s.deck.q.NoTags {
		return host.ErrNotSupported
	}
	s.tags[key] = value
	return nil
}

func (s *MemSlide) Tag(key string) (string, bool, error) {
	if s.deck.q.NoTags {
		return "", false, host.ErrNotSupported
	}
	v, ok := s.tags[key]
	return v, ok, nil
}

// NotesSetter

func (s *MemSlide) SetSpeakerNotes(text string) error {
	if s.deck.q.NoNotes {
		return host.ErrNotSupported
	}
	s.notes = text
	return nil
}

// SlideImageWriter

func (s *MemSlide) AddImage(source string, box host.Box) (host.Shape, error) {
	if s.deck.q.NoSlideImages {
		return nil, host.ErrNotSupported
	}
	s.deck.nextID++
	sh := &MemShape{
		slide:  s,
		name:   fmt.Sprintf("Image %d", s.deck.nextID),
		source: source,
		box:    box,
	}
	s.shapes = append(s.shapes, sh)
	return sh, nil
}

// Snapshot accessors

// Layout returns the slide's layout.
func (s *MemSlide) Layout() host.SlideLayout { return s.layout }

// Notes returns the speaker notes.
func (s *MemSlide) Notes() string { return s.notes }

// Tags returns a copy of the slide's tags.
func (s *MemSlide) Tags() map[string]string {
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// TitleText returns the title placeholder's text, empty when absent.
func (s *MemSlide) TitleText() string {
	sh, ok, _ := s.Placeholder(host.PlaceholderTitle)
	if !ok {
		return ""
	}
	text, _ := sh.Text()
	return text
}

// BodyText returns the body placeholder's text, empty when absent.
func (s *MemSlide) BodyText() string {
	sh, ok, _ := s.Placeholder(host.PlaceholderBody)
	if !ok {
		return ""
	}
	text, _ := sh.Text()
	return text
}

// ShapeNames lists shape names in z-order.
func (s *MemSlide) ShapeNames() []string {
	names := make([]string, 0, len(s.shapes))
	for _, sh := range s.shapes {
		names = append(names, sh.name)
	}
	return names
}

// ImageSources lists image shape sources in z-order.
func (s *MemSlide) ImageSources() []string {
	var sources []string
	for _, sh := range s.shapes {
		if sh.source != "" {
			sources = append(sources, sh.source)
		}
	}
	return sources
}

// MemShape is one in-memory shape.
type MemShape struct {
	slide       *MemSlide
	name        string
	text        string
	source      string
	placeholder host.PlaceholderKind
	box         host.Box
}

func (sh *MemShape) Name() string { return sh.name }

func (sh *MemShape) SetName(name string) error {
	sh.name = name
	return nil
}

func (sh *MemShape) Text() (string, error) {
	return sh.text, nil
}

func (sh *MemShape) SetText(text string) error {
	sh.text = text
	return nil
}

func (sh *MemShape) Bounds() (host.Box, error) {
	return sh.box, nil
}

func (sh *MemShape) SetBounds(box host.Box) error {
	sh.box = box
	return nil
}
