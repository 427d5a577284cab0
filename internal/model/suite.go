package model

import (
	"fmt"
	"sort"

	"xrseg/internal/segmentation"
	"xrseg/internal/tensor"
)

// MetricFunc is the common signature of every segmentation metric.
type MetricFunc func(predictions, targets *tensor.Mask, opts ...segmentation.Option) (float64, error)

const (
	MetricDice                     = "dice"
	MetricJaccardIndex             = "jaccard_index"
	MetricAverageSurfaceDistance   = "average_surface_distance"
	MetricBalancedAverageHausdorff = "balanced_average_hausdorff_distance"
	MetricAverageHausdorff         = "average_hausdorff_distance"
	MetricHausdorff                = "hausdorff_distance"
)

// MetricFamily groups metrics that accept the same options.
type MetricFamily int

const (
	FamilyOverlap MetricFamily = iota
	FamilyDistance
)

func (f MetricFamily) String() string {
	if f == FamilyDistance {
		return "distance"
	}
	return "overlap"
}

var familyOptions = map[MetricFamily]map[string]bool{
	FamilyOverlap:  {"threshold": true, "average": true},
	FamilyDistance: {"threshold": true, "connectivity": true, "spacing": true, "empty_policy": true},
}

type registered struct {
	fn     MetricFunc
	family MetricFamily
}

var registry = map[string]registered{
	MetricDice:                     {segmentation.Dice, FamilyOverlap},
	MetricJaccardIndex:             {segmentation.JaccardIndex, FamilyOverlap},
	MetricAverageSurfaceDistance:   {segmentation.AverageSurfaceDistance, FamilyDistance},
	MetricBalancedAverageHausdorff: {segmentation.BalancedAverageHausdorffDistance, FamilyDistance},
	MetricAverageHausdorff:         {segmentation.AverageHausdorffDistance, FamilyDistance},
	MetricHausdorff:                {segmentation.HausdorffDistance, FamilyDistance},
}

// FamilyOf reports which option family a registered metric belongs to.
func FamilyOf(name string) (MetricFamily, bool) {
	r, ok := registry[name]
	return r.family, ok
}

// MetricNames lists every metric a suite can be built from.
func MetricNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetricSpec names a metric and the options it is evaluated with. Key
// overrides the result name so one metric can appear twice with different
// options.
type MetricSpec struct {
	Name    string                 `yaml:"name" json:"name"`
	Key     string                 `yaml:"key,omitempty" json:"key,omitempty"`
	Options map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
}

func (s MetricSpec) ResultKey() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Name
}

// Metric is a MetricSpec resolved against the registry with its options
// already parsed.
type Metric struct {
	spec MetricSpec
	fn   MetricFunc
	opts []segmentation.Option
}

func (m Metric) Key() string      { return m.spec.ResultKey() }
func (m Metric) Name() string     { return m.spec.Name }
func (m Metric) Spec() MetricSpec { return m.spec }

func (m Metric) Compute(predictions, targets *tensor.Mask) (float64, error) {
	v, err := m.fn(predictions, targets, m.opts...)
	if err != nil {
		return 0, &MetricError{Key: m.Key(), Err: err}
	}
	return v, nil
}

// Suite evaluates a fixed, ordered list of metrics.
type Suite struct {
	metrics []Metric
}

func NewSuite(specs []MetricSpec) (*Suite, error) {
	if len(specs) == 0 {
		return nil, &ConfigError{Field: "metrics", Value: specs, Reason: "at least one metric is required"}
	}

	seen := make(map[string]bool, len(specs))
	suite := &Suite{metrics: make([]Metric, 0, len(specs))}
	for _, spec := range specs {
		reg, ok := registry[spec.Name]
		if !ok {
			return nil, &ConfigError{Field: "metric", Value: spec.Name, Reason: "unknown metric"}
		}
		key := spec.ResultKey()
		if seen[key] {
			return nil, &ConfigError{Field: "metric", Value: key, Reason: "duplicate result key"}
		}
		seen[key] = true

		if err := checkFamilyOptions(spec, reg.family); err != nil {
			return nil, fmt.Errorf("metric %s: %w", key, err)
		}
		opts, err := segmentation.OptionsFromParams(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", key, err)
		}
		suite.metrics = append(suite.metrics, Metric{spec: spec, fn: reg.fn, opts: opts})
	}
	return suite, nil
}

func checkFamilyOptions(spec MetricSpec, family MetricFamily) error {
	allowed := familyOptions[family]
	names := make([]string, 0, len(spec.Options))
	for name := range spec.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !allowed[name] {
			return &ConfigError{
				Field:  "options." + name,
				Value:  spec.Options[name],
				Reason: fmt.Sprintf("not accepted by %s metric %s", family, spec.Name),
			}
		}
	}
	return nil
}

func (s *Suite) Metrics() []Metric {
	return append([]Metric(nil), s.metrics...)
}

func (s *Suite) Keys() []string {
	keys := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		keys[i] = m.Key()
	}
	return keys
}

// Evaluate runs every metric. The first failure aborts the evaluation and
// no partial results are returned; the error is a *MetricError naming the
// failed metric.
func (s *Suite) Evaluate(predictions, targets *tensor.Mask) (map[string]float64, error) {
	results := make(map[string]float64, len(s.metrics))
	for _, m := range s.metrics {
		v, err := m.Compute(predictions, targets)
		if err != nil {
			return nil, err
		}
		results[m.Key()] = v
	}
	return results, nil
}
