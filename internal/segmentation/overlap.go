package segmentation

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"xrseg/internal/tensor"
)

// Dice returns 2|P∩T|/(|P|+|T|) per sample, averaged over the batch. A sample
// where both masks are empty scores 1.
func Dice(predictions, targets *tensor.Mask, opts ...Option) (float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return 0, err
	}
	pair, err := preparePair(predictions, targets, o.Threshold, "dice")
	if err != nil {
		return 0, err
	}

	scores := make([]float64, pair.layout.Batch)
	for b := range scores {
		p := pair.pred.SampleData(b)
		t := pair.target.SampleData(b)
		scores[b] = diceScore(floats.Dot(p, t), floats.Sum(p), floats.Sum(t))
	}
	return stat.Mean(scores, nil), nil
}

// JaccardIndex returns |P∩T|/|P∪T|. AverageNone scores each sample over all
// of its cells; AverageMacro and AverageWeighted score each class over the
// whole batch and combine the class scores, the latter weighting by the
// number of target foreground cells per class.
func JaccardIndex(predictions, targets *tensor.Mask, opts ...Option) (float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return 0, err
	}
	pair, err := preparePair(predictions, targets, o.Threshold, "jaccard index")
	if err != nil {
		return 0, err
	}

	if o.Average == AverageNone {
		scores := make([]float64, pair.layout.Batch)
		for b := range scores {
			p := pair.pred.SampleData(b)
			t := pair.target.SampleData(b)
			inter := floats.Dot(p, t)
			scores[b] = jaccardScore(inter, floats.Sum(p)+floats.Sum(t)-inter)
		}
		return stat.Mean(scores, nil), nil
	}

	l := pair.layout
	scores := make([]float64, l.Classes)
	support := make([]float64, l.Classes)
	for c := 0; c < l.Classes; c++ {
		var inter, union float64
		for b := 0; b < l.Batch; b++ {
			p := pair.pred.PlaneData(l, b, c)
			t := pair.target.PlaneData(l, b, c)
			i := floats.Dot(p, t)
			ts := floats.Sum(t)
			inter += i
			union += floats.Sum(p) + ts - i
			support[c] += ts
		}
		scores[c] = jaccardScore(inter, union)
	}

	if o.Average == AverageWeighted && floats.Sum(support) > 0 {
		return stat.Mean(scores, support), nil
	}
	return stat.Mean(scores, nil), nil
}

func diceScore(inter, predSize, targetSize float64) float64 {
	denom := predSize + targetSize
	if denom == 0 {
		return 1
	}
	return 2 * inter / denom
}

func jaccardScore(inter, union float64) float64 {
	if union == 0 {
		return 1
	}
	return inter / union
}
