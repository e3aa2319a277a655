// Package pirerr defines the error categories raised while building PIR
// databases: malformed input, geometry that cannot be satisfied, and I/O
// failures against the output directory.
package pirerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category distinguishes the three failure classes a build can raise.
type Category int

const (
	// Input covers malformed transactions: duplicate addresses in a single
	// transaction, inconsistent address lengths, or a short-form collision
	// between two distinct long addresses.
	Input Category = iota
	// Geometry covers block-size arithmetic that cannot produce a usable
	// layout: a requested block size too small to hold a header, or a
	// degenerate (empty) address-index record length.
	Geometry
	// IO covers failures opening or reading the transaction input file, and
	// opening, writing, renaming, or closing an output file.
	IO
)

func (c Category) String() string {
	switch c {
	case Input:
		return "input"
	case Geometry:
		return "geometry"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is a categorized, stack-annotated build failure. Step names the
// pipeline stage that was running when the failure occurred, so the CLI can
// print a diagnostic that pinpoints where the build aborted.
type Error struct {
	Category Category
	Step     string
	cause    error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %s", e.Category, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Category, e.Step, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(cat Category, step, format string, args ...any) *Error {
	return &Error{Category: cat, Step: step, cause: errors.WithStack(fmt.Errorf(format, args...))}
}

// InputError reports malformed input at the given pipeline step.
func InputError(step, format string, args ...any) error {
	return newError(Input, step, format, args...)
}

// GeometryError reports unsatisfiable block geometry at the given step.
func GeometryError(step, format string, args ...any) error {
	return newError(Geometry, step, format, args...)
}

// IoError wraps an underlying I/O failure, naming the step that was running.
func IoError(step string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Category: IO, Step: step, cause: errors.WithStack(cause)}
}

// Wrap annotates cause with step without changing its category, or returns
// nil if cause is nil. Used to add context as an error propagates up through
// package boundaries.
func Wrap(cause error, step string) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return &Error{Category: e.Category, Step: step + ": " + e.Step, cause: e.cause}
	}
	return &Error{Category: IO, Step: step, cause: errors.WithStack(cause)}
}
