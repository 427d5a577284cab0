package model

import (
	"fmt"

	"gocv.io/x/gocv"

	"xrseg/internal/opencv/bridge"
	"xrseg/internal/tensor"
)

// Grid is the spatial size of the network input.
type Grid struct {
	Height int
	Width  int
}

// Head shapes a backbone's raw output for one task.
type Head interface {
	Task() Task
	Outputs() int
	Forward(features *tensor.Mask, grid Grid) (*tensor.Mask, error)
}

// NewHead resolves task into its head once, at construction.
func NewHead(task Task, nOutputs int) (Head, error) {
	if nOutputs <= 0 {
		return nil, &ConfigError{Field: "outputs", Value: nOutputs, Reason: "must be positive"}
	}
	switch task {
	case TaskSegmentation:
		return &segmentationHead{outputs: nOutputs}, nil
	case TaskClassification:
		return &classificationHead{outputs: nOutputs}, nil
	default:
		return nil, &ConfigError{Field: "task", Value: task, Reason: "unknown task"}
	}
}

type segmentationHead struct {
	outputs int
}

func (h *segmentationHead) Task() Task   { return TaskSegmentation }
func (h *segmentationHead) Outputs() int { return h.outputs }

// Forward resizes every (B, K, h, w) feature plane onto the input grid with
// bilinear interpolation. A flat (B, K) output is treated as K planes of 1×1.
func (h *segmentationHead) Forward(features *tensor.Mask, grid Grid) (*tensor.Mask, error) {
	if features == nil {
		return nil, fmt.Errorf("segmentation head: nil features")
	}
	if grid.Height <= 0 || grid.Width <= 0 {
		return nil, &ConfigError{Field: "grid", Value: grid, Reason: "must be positive"}
	}

	shape := features.Shape()
	switch len(shape) {
	case 2:
		reshaped, err := features.Reshape(shape[0], shape[1], 1, 1)
		if err != nil {
			return nil, fmt.Errorf("segmentation head: %w", err)
		}
		features = reshaped
		shape = features.Shape()
	case 4:
	default:
		return nil, fmt.Errorf("segmentation head: %w", &tensor.ShapeError{
			Context: "segmentation head",
			Issue:   "want (B, K) or (B, K, h, w)",
			Shapes:  []tensor.Shape{shape},
			Kind:    tensor.ErrDimensionality,
		})
	}
	if shape[1] != h.outputs {
		return nil, fmt.Errorf("segmentation head: %w", &tensor.ShapeError{
			Context: "segmentation head",
			Issue:   fmt.Sprintf("want %d output channels", h.outputs),
			Shapes:  []tensor.Shape{shape},
			Kind:    tensor.ErrShapeMismatch,
		})
	}

	out, err := tensor.New(shape[0], shape[1], grid.Height, grid.Width)
	if err != nil {
		return nil, err
	}
	layout, err := features.Layout()
	if err != nil {
		return nil, err
	}
	outLayout, err := out.Layout()
	if err != nil {
		return nil, err
	}

	rows, cols := shape[2], shape[3]
	for b := 0; b < layout.Batch; b++ {
		for c := 0; c < layout.Classes; c++ {
			resized, err := resizePlane(features.PlaneData(layout, b, c), rows, cols, grid)
			if err != nil {
				return nil, fmt.Errorf("segmentation head: sample %d channel %d: %w", b, c, err)
			}
			copy(out.PlaneData(outLayout, b, c), resized)
		}
	}
	return out, nil
}

func resizePlane(plane []float64, rows, cols int, grid Grid) ([]float64, error) {
	if rows == grid.Height && cols == grid.Width {
		return append([]float64(nil), plane...), nil
	}

	src, err := bridge.PlaneToMat(plane, rows, cols)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst, err := src.Resize(grid.Height, grid.Width, gocv.InterpolationLinear)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	return bridge.MatToPlane(dst)
}

type classificationHead struct {
	outputs int
}

func (h *classificationHead) Task() Task   { return TaskClassification }
func (h *classificationHead) Outputs() int { return h.outputs }

// Forward passes (B, K) scores through unchanged once K matches the head.
func (h *classificationHead) Forward(features *tensor.Mask, _ Grid) (*tensor.Mask, error) {
	if features == nil {
		return nil, fmt.Errorf("classification head: nil features")
	}
	shape := features.Shape()
	if len(shape) != 2 || shape[1] != h.outputs {
		return nil, fmt.Errorf("classification head: %w", &tensor.ShapeError{
			Context: "classification head",
			Issue:   fmt.Sprintf("want (B, %d)", h.outputs),
			Shapes:  []tensor.Shape{shape},
			Kind:    tensor.ErrShapeMismatch,
		})
	}
	return features.Clone(), nil
}
