package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"xrseg/internal/tensor"
)

// directed returns, for every point in from, the Euclidean distance to the
// nearest point in to. Both sets must be non-empty.
func directed(from, to kdtree.Points) []float64 {
	tree := kdtree.New(append(kdtree.Points(nil), to...), false)
	out := make([]float64, len(from))
	for i, q := range from {
		_, d2 := tree.Nearest(q)
		out[i] = math.Sqrt(d2)
	}
	return out
}

// reducer folds the prediction→target and target→prediction distances of one
// plane into a score.
type reducer func(forward, backward []float64) float64

func pooledMean(forward, backward []float64) float64 {
	all := make([]float64, 0, len(forward)+len(backward))
	all = append(all, forward...)
	all = append(all, backward...)
	return stat.Mean(all, nil)
}

func maxOfMeans(forward, backward []float64) float64 {
	return math.Max(stat.Mean(forward, nil), stat.Mean(backward, nil))
}

func meanOfMeans(forward, backward []float64) float64 {
	return (stat.Mean(forward, nil) + stat.Mean(backward, nil)) / 2
}

func maxOfMax(forward, backward []float64) float64 {
	return math.Max(floats.Max(forward), floats.Max(backward))
}

// AverageSurfaceDistance pools the nearest-surface distances of both
// directions for each plane and averages them; planes are averaged per sample
// and samples over the batch.
func AverageSurfaceDistance(predictions, targets *tensor.Mask, opts ...Option) (float64, error) {
	return surfaceMetric("average surface distance", predictions, targets, opts, pooledMean)
}

// AverageHausdorffDistance takes the larger of the two directed mean
// distances.
func AverageHausdorffDistance(predictions, targets *tensor.Mask, opts ...Option) (float64, error) {
	return surfaceMetric("average hausdorff distance", predictions, targets, opts, maxOfMeans)
}

// BalancedAverageHausdorffDistance takes the arithmetic mean of the two
// directed mean distances, so neither mask dominates when their sizes differ.
func BalancedAverageHausdorffDistance(predictions, targets *tensor.Mask, opts ...Option) (float64, error) {
	return surfaceMetric("balanced average hausdorff distance", predictions, targets, opts, meanOfMeans)
}

// HausdorffDistance is the classical symmetric maximum.
func HausdorffDistance(predictions, targets *tensor.Mask, opts ...Option) (float64, error) {
	return surfaceMetric("hausdorff distance", predictions, targets, opts, maxOfMax)
}

// SurfaceDistances returns the directed distances from the surface of a single
// thresholded prediction plane to the surface of its target plane.
func SurfaceDistances(prediction, target *tensor.Mask, opts ...Option) ([]float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if !prediction.Shape().Equal(target.Shape()) {
		return nil, fmt.Errorf("surface distances: %w", &tensor.ShapeError{
			Context: "surface distances",
			Issue:   "planes differ in shape",
			Shapes:  []tensor.Shape{prediction.Shape(), target.Shape()},
			Kind:    tensor.ErrShapeMismatch,
		})
	}
	spatial := prediction.Shape()
	spacing, err := spacingFor(o, len(spatial))
	if err != nil {
		return nil, err
	}
	e, err := newExtractor(spatial, o.Connectivity)
	if err != nil {
		return nil, err
	}

	p, err := e.points(prediction.Threshold(o.Threshold).Data())
	if err != nil {
		return nil, err
	}
	t, err := e.points(target.Binarize().Data())
	if err != nil {
		return nil, err
	}
	if len(p) == 0 || len(t) == 0 {
		return nil, &EmptyMaskError{Metric: "surface distances", Prediction: len(p) == 0, Target: len(t) == 0}
	}
	return directed(scaled(p, spacing), scaled(t, spacing)), nil
}

func surfaceMetric(name string, predictions, targets *tensor.Mask, opts []Option, reduce reducer) (float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return 0, err
	}
	pair, err := preparePair(predictions, targets, o.Threshold, name)
	if err != nil {
		return 0, err
	}

	l := pair.layout
	e, err := newExtractor(l.Spatial, o.Connectivity)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	spacing, err := spacingFor(o, len(l.Spatial))
	if err != nil {
		return 0, err
	}

	samples := make([]float64, l.Batch)
	planes := make([]float64, l.Classes)
	for b := 0; b < l.Batch; b++ {
		for c := 0; c < l.Classes; c++ {
			p, err := e.points(pair.pred.PlaneData(l, b, c))
			if err != nil {
				return 0, fmt.Errorf("%s: %w", name, err)
			}
			t, err := e.points(pair.target.PlaneData(l, b, c))
			if err != nil {
				return 0, fmt.Errorf("%s: %w", name, err)
			}

			if len(p) == 0 || len(t) == 0 {
				if o.EmptyPolicy == EmptyFail {
					return 0, &EmptyMaskError{Metric: name, Sample: b, Class: c, Prediction: len(p) == 0, Target: len(t) == 0}
				}
				if len(p) == 0 && len(t) == 0 {
					planes[c] = 0
				} else {
					planes[c] = diagonal(l.Spatial, spacing)
				}
				continue
			}

			ps, ts := scaled(p, spacing), scaled(t, spacing)
			planes[c] = reduce(directed(ps, ts), directed(ts, ps))
		}
		samples[b] = stat.Mean(planes, nil)
	}
	return stat.Mean(samples, nil), nil
}

func spacingFor(o Options, rank int) ([]float64, error) {
	if len(o.Spacing) == 0 {
		spacing := make([]float64, rank)
		for i := range spacing {
			spacing[i] = 1
		}
		return spacing, nil
	}
	if len(o.Spacing) != rank {
		return nil, &ConfigError{
			Option: "spacing",
			Value:  o.Spacing,
			Reason: fmt.Sprintf("need one value per spatial axis (%d)", rank),
		}
	}
	return o.Spacing, nil
}

// diagonal is the longest distance between two cells of the grid.
func diagonal(spatial tensor.Shape, spacing []float64) float64 {
	var sum float64
	for i, d := range spatial {
		span := float64(d-1) * spacing[i]
		sum += span * span
	}
	return math.Sqrt(sum)
}
