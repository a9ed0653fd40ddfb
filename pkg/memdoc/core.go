package memdoc

import "github.com/davan/docplan/pkg/host"

// CoreSession strips every optional capability interface from a session's
// host objects, simulating a minimal object-model build where the
// capabilities are absent at probe time rather than refused at call time.
func CoreSession(s host.Session) host.Session {
	return &coreSession{inner: s}
}

type coreSession struct {
	inner host.Session
}

func (c *coreSession) Text() host.TextDocument {
	if d := c.inner.Text(); d != nil {
		return coreText{d}
	}
	return nil
}

func (c *coreSession) Workbook() host.Workbook {
	if b := c.inner.Workbook(); b != nil {
		return coreWorkbook{b}
	}
	return nil
}

func (c *coreSession) Presentation() host.Presentation {
	if p := c.inner.Presentation(); p != nil {
		return corePresentation{p}
	}
	return nil
}

// Embedding the interface keeps exactly the core method set: assertions for
// optional capabilities fail on these wrappers.

type coreText struct{ host.TextDocument }

type coreWorkbook struct{ host.Workbook }

func (c coreWorkbook) ActiveSheet() (host.Sheet, error) {
	s, err := c.Workbook.ActiveSheet()
	if err != nil {
		return nil, err
	}
	return coreSheet{s}, nil
}

func (c coreWorkbook) Sheet(name string) (host.Sheet, bool, error) {
	s, ok, err := c.Workbook.Sheet(name)
	if err != nil || !ok {
		return nil, ok, err
	}
	return coreSheet{s}, true, nil
}

func (c coreWorkbook) AddSheet(name string) (host.Sheet, error) {
	s, err := c.Workbook.AddSheet(name)
	if err != nil {
		return nil, err
	}
	return coreSheet{s}, nil
}

type coreSheet struct{ host.Sheet }

type corePresentation struct{ host.Presentation }

func (c corePresentation) Slide(index int) (host.Slide, error) {
	s, err := c.Presentation.Slide(index)
	if err != nil {
		return nil, err
	}
	return coreSlide{s}, nil
}

func (c corePresentation) AppendSlide(layout host.SlideLayout) (host.Slide, error) {
	s, err := c.Presentation.AppendSlide(layout)
	if err != nil {
		return nil, err
	}
	return coreSlide{s}, nil
}

type coreSlide struct{ host.Slide }
