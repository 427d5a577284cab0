package segmentation

import (
	"fmt"

	"xrseg/internal/tensor"
)

// maskPair is a thresholded prediction and binarised target sharing one
// broadcast shape and layout.
type maskPair struct {
	pred   *tensor.Mask
	target *tensor.Mask
	layout tensor.Layout
}

func preparePair(predictions, targets *tensor.Mask, threshold float64, context string) (maskPair, error) {
	if predictions == nil || targets == nil {
		return maskPair{}, fmt.Errorf("%s: nil mask", context)
	}

	pred, target, err := tensor.Broadcast(predictions, targets)
	if err != nil {
		return maskPair{}, fmt.Errorf("%s: %w", context, err)
	}

	layout, err := pred.Layout()
	if err != nil {
		return maskPair{}, fmt.Errorf("%s: %w", context, err)
	}

	return maskPair{
		pred:   pred.Threshold(threshold),
		target: target.Binarize(),
		layout: layout,
	}, nil
}
