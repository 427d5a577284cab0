// Package bridge moves single mask planes between row-major float64 slices,
// Go images and OpenCV matrices.
package bridge

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"xrseg/internal/opencv/safe"
)

// PlaneToMat copies a rows×cols plane into a CV_32FC1 Mat.
func PlaneToMat(plane []float64, rows, cols int) (*safe.Mat, error) {
	if len(plane) != rows*cols {
		return nil, fmt.Errorf("plane has %d values, want %dx%d", len(plane), cols, rows)
	}

	values := make([]float32, len(plane))
	for i, v := range plane {
		values[i] = float32(v)
	}
	return safe.FromFloats(rows, cols, values)
}

// MatToPlane reads a single-channel Mat back into a row-major plane. 8-bit
// data is scaled to [0,1]; float data is copied as is.
func MatToPlane(mat *safe.Mat) ([]float64, error) {
	if err := safe.ValidateMatForOperation(mat, "MatToPlane"); err != nil {
		return nil, err
	}

	switch mat.Type() {
	case gocv.MatTypeCV8UC1:
		values, err := mat.Bytes()
		if err != nil {
			return nil, fmt.Errorf("failed to read pixels: %w", err)
		}
		plane := make([]float64, len(values))
		for i, v := range values {
			plane[i] = float64(v) / 255
		}
		return plane, nil
	case gocv.MatTypeCV32FC1:
		values, err := mat.Floats()
		if err != nil {
			return nil, fmt.Errorf("failed to read values: %w", err)
		}
		plane := make([]float64, len(values))
		for i, v := range values {
			plane[i] = float64(v)
		}
		return plane, nil
	default:
		return nil, fmt.Errorf("unsupported Mat type: %v", mat.Type())
	}
}

// ImageToMat converts any decoded image to an 8-bit grayscale Mat.
func ImageToMat(img image.Image) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	bounds := img.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	pixels := make([]uint8, 0, rows*cols)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pixels = append(pixels, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return safe.FromBytes(rows, cols, pixels)
}

// Boundary marks the foreground cells of a rows×cols plane that touch
// background under 4-connectivity (connectivity 1) or 8-connectivity
// (connectivity 2). Non-zero values are foreground and cells beyond the edge
// count as background.
func Boundary(plane []float64, rows, cols, connectivity int) ([]bool, error) {
	if len(plane) != rows*cols {
		return nil, fmt.Errorf("plane has %d values, want %dx%d", len(plane), cols, rows)
	}

	var shape gocv.MorphShape
	switch connectivity {
	case 1:
		shape = gocv.MorphCross
	case 2:
		shape = gocv.MorphRect
	default:
		return nil, fmt.Errorf("connectivity %d not supported for 2-D planes", connectivity)
	}

	// one cell of zero padding keeps the edge as background under erosion
	stride := cols + 2
	padded := make([]uint8, (rows+2)*stride)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if plane[r*cols+c] != 0 {
				padded[(r+1)*stride+c+1] = 1
			}
		}
	}

	src, err := safe.FromBytes(rows+2, stride, padded)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	eroded, err := src.Erode(shape)
	if err != nil {
		return nil, err
	}
	defer eroded.Close()

	inner, err := eroded.Bytes()
	if err != nil {
		return nil, err
	}

	edge := make([]bool, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			at := (r+1)*stride + c + 1
			edge[r*cols+c] = padded[at] != 0 && inner[at] == 0
		}
	}
	return edge, nil
}
