package segmentation

import (
	"fmt"
	"math"
	"strings"
)

const (
	DefaultThreshold    = 0.5
	DefaultConnectivity = 1
)

// Average selects how per-class overlap scores collapse into one value.
type Average int

const (
	// AverageNone scores each sample over all of its cells and averages over
	// the batch only.
	AverageNone Average = iota
	AverageMacro
	AverageWeighted
)

func (a Average) String() string {
	switch a {
	case AverageNone:
		return "none"
	case AverageMacro:
		return "macro"
	case AverageWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("average(%d)", int(a))
	}
}

func ParseAverage(s string) (Average, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "binary":
		return AverageNone, nil
	case "macro":
		return AverageMacro, nil
	case "weighted":
		return AverageWeighted, nil
	default:
		return AverageNone, &ConfigError{Option: "average", Value: s, Reason: `want "macro", "weighted" or none`}
	}
}

// EmptyPolicy decides what the distance metrics do with a plane whose
// prediction or target has no foreground.
type EmptyPolicy int

const (
	// EmptyFail returns an *EmptyMaskError.
	EmptyFail EmptyPolicy = iota
	// EmptyMaxDistance scores the plane with the grid diagonal, or 0 when both
	// sides are empty.
	EmptyMaxDistance
)

func (p EmptyPolicy) String() string {
	switch p {
	case EmptyFail:
		return "fail"
	case EmptyMaxDistance:
		return "max_distance"
	default:
		return fmt.Sprintf("empty_policy(%d)", int(p))
	}
}

func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return EmptyFail, nil
	case "max_distance", "max":
		return EmptyMaxDistance, nil
	default:
		return EmptyFail, &ConfigError{Option: "empty_policy", Value: s, Reason: `want "fail" or "max_distance"`}
	}
}

type Options struct {
	Threshold    float64
	Average      Average
	Connectivity int
	Spacing      []float64
	EmptyPolicy  EmptyPolicy
}

type Option func(*Options)

func DefaultOptions() Options {
	return Options{
		Threshold:    DefaultThreshold,
		Average:      AverageNone,
		Connectivity: DefaultConnectivity,
		EmptyPolicy:  EmptyFail,
	}
}

func WithThreshold(t float64) Option {
	return func(o *Options) { o.Threshold = t }
}

func WithAverage(a Average) Option {
	return func(o *Options) { o.Average = a }
}

func WithConnectivity(c int) Option {
	return func(o *Options) { o.Connectivity = c }
}

// WithSpacing sets the physical size of one cell along each spatial axis.
func WithSpacing(spacing ...float64) Option {
	return func(o *Options) { o.Spacing = append([]float64(nil), spacing...) }
}

func WithEmptyPolicy(p EmptyPolicy) Option {
	return func(o *Options) { o.EmptyPolicy = p }
}

func resolve(opts []Option) (Options, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if math.IsNaN(o.Threshold) || o.Threshold < 0 || o.Threshold > 1 {
		return o, &ConfigError{Option: "threshold", Value: o.Threshold, Reason: "must be within [0,1]"}
	}
	if o.Average < AverageNone || o.Average > AverageWeighted {
		return o, &ConfigError{Option: "average", Value: o.Average, Reason: "unknown averaging mode"}
	}
	if o.Connectivity < 1 {
		return o, &ConfigError{Option: "connectivity", Value: o.Connectivity, Reason: "must be at least 1"}
	}
	for _, s := range o.Spacing {
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return o, &ConfigError{Option: "spacing", Value: o.Spacing, Reason: "values must be positive and finite"}
		}
	}
	if o.EmptyPolicy < EmptyFail || o.EmptyPolicy > EmptyMaxDistance {
		return o, &ConfigError{Option: "empty_policy", Value: o.EmptyPolicy, Reason: "unknown policy"}
	}
	return o, nil
}
