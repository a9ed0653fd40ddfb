// Package host abstracts the live document application a plan executes
// against. Each host kind exposes a small required core plus named optional
// capability interfaces; callers probe with type assertions and treat
// ErrNotSupported as a refused branch, never assuming a capability exists.
package host

import (
	"context"
	"errors"
)

// Kind is the detected document host kind.
type Kind string

const (
	KindText         Kind = "text"
	KindSpreadsheet  Kind = "spreadsheet"
	KindPresentation Kind = "presentation"
)

// ErrNotSupported is returned by a host object when a probed capability is
// present on the interface but refused by the underlying build.
var ErrNotSupported = errors.New("host: not supported")

// IsNotSupported reports whether err marks a refused capability branch.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// Session is a live handle to the document application. Exactly one of the
// three accessors returns non-nil, whichever document collection is active.
type Session interface {
	Text() TextDocument
	Workbook() Workbook
	Presentation() Presentation
}

// Syncer is an optional session capability: a best-effort pre-flight sync of
// pending host-side state. Callers race it against a short timeout and
// proceed regardless of outcome.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Detect probes the session for its actual host kind. The plan's declared
// host is never trusted; upstream generation can mislabel it.
func Detect(s Session) (Kind, error) {
	if s == nil {
		return "", errors.New("host: nil session")
	}
	switch {
	case s.Text() != nil:
		return KindText, nil
	case s.Workbook() != nil:
		return KindSpreadsheet, nil
	case s.Presentation() != nil:
		return KindPresentation, nil
	}
	return "", errors.New("host: session exposes no document collection")
}
