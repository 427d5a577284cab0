package segmentation

import "xrseg/internal/tensor"

// Confusion holds pixel counts of a thresholded prediction against its target,
// summed over the whole batch.
type Confusion struct {
	TruePositives  int
	TrueNegatives  int
	FalsePositives int
	FalseNegatives int
	TotalPixels    int
}

func ConfusionMatrix(predictions, targets *tensor.Mask, opts ...Option) (Confusion, error) {
	o, err := resolve(opts)
	if err != nil {
		return Confusion{}, err
	}
	pair, err := preparePair(predictions, targets, o.Threshold, "confusion matrix")
	if err != nil {
		return Confusion{}, err
	}

	var m Confusion
	pred := pair.pred.Data()
	for i, t := range pair.target.Data() {
		gt := t > 0
		res := pred[i] > 0
		switch {
		case gt && res:
			m.TruePositives++
		case !gt && !res:
			m.TrueNegatives++
		case !gt && res:
			m.FalsePositives++
		default:
			m.FalseNegatives++
		}
	}
	m.TotalPixels = len(pred)
	return m, nil
}

func (m Confusion) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0.0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m Confusion) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0.0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

// Dice over pooled counts; 1 when neither side has foreground.
func (m Confusion) Dice() float64 {
	return diceScore(float64(m.TruePositives),
		float64(m.TruePositives+m.FalsePositives),
		float64(m.TruePositives+m.FalseNegatives))
}

func (m Confusion) Jaccard() float64 {
	return jaccardScore(float64(m.TruePositives),
		float64(m.TruePositives+m.FalsePositives+m.FalseNegatives))
}

func (m Confusion) Specificity() float64 {
	if m.TrueNegatives+m.FalsePositives == 0 {
		return 0.0
	}
	return float64(m.TrueNegatives) / float64(m.TrueNegatives+m.FalsePositives)
}
