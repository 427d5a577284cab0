package tensor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrShapeMismatch  = errors.New("shape mismatch")
	ErrDimensionality = errors.New("unsupported dimensionality")
	ErrInvalidShape   = errors.New("invalid shape")
)

// ShapeError reports which operation rejected which shapes. It unwraps to one
// of the sentinel errors above so callers can match with errors.Is.
type ShapeError struct {
	Context string
	Issue   string
	Shapes  []Shape
	Kind    error
}

func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s: %s (%s)", e.Context, e.Issue, strings.Join(parts, " vs "))
}

func (e *ShapeError) Unwrap() error {
	return e.Kind
}

func mismatch(context string, shapes ...Shape) error {
	return &ShapeError{
		Context: context,
		Issue:   "shapes are not broadcast compatible",
		Shapes:  shapes,
		Kind:    ErrShapeMismatch,
	}
}
