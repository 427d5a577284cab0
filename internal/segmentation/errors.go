package segmentation

import (
	"errors"
	"fmt"

	"xrseg/internal/tensor"
)

var (
	ErrShapeMismatch  = tensor.ErrShapeMismatch
	ErrDimensionality = tensor.ErrDimensionality
	ErrEmptyMask      = errors.New("mask has no foreground")
	ErrInvalidTarget  = errors.New("target outside [0,1]")
)

// ConfigError names an option whose value cannot be used.
type ConfigError struct {
	Option string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Option, e.Value, e.Reason)
}

// EmptyMaskError is returned by the distance metrics under EmptyFail when a
// plane has no foreground after thresholding.
type EmptyMaskError struct {
	Metric     string
	Sample     int
	Class      int
	Prediction bool
	Target     bool
}

func (e *EmptyMaskError) Error() string {
	side := "prediction and target"
	switch {
	case e.Prediction && !e.Target:
		side = "prediction"
	case e.Target && !e.Prediction:
		side = "target"
	}
	return fmt.Sprintf("%s: %s empty at sample %d class %d: %v", e.Metric, side, e.Sample, e.Class, ErrEmptyMask)
}

func (e *EmptyMaskError) Unwrap() error {
	return ErrEmptyMask
}
