package segmentation

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"

	"xrseg/internal/opencv/bridge"
	"xrseg/internal/tensor"
)

// neighbourhood lists the offsets adjacent to the origin in a grid of the
// given rank. Connectivity c admits offsets that move along at most c axes:
// 1 gives 4 (2-D) or 6 (3-D) neighbours, 2 gives 8 or 18, 3 gives 26.
func neighbourhood(rank, connectivity int) [][]int {
	var out [][]int
	off := make([]int, rank)
	var walk func(axis, moved int)
	walk = func(axis, moved int) {
		if axis == rank {
			if moved > 0 && moved <= connectivity {
				out = append(out, append([]int(nil), off...))
			}
			return
		}
		for _, d := range [...]int{-1, 0, 1} {
			off[axis] = d
			if d != 0 {
				walk(axis+1, moved+1)
			} else {
				walk(axis+1, moved)
			}
		}
		off[axis] = 0
	}
	walk(0, 0)
	return out
}

func checkConnectivity(rank, connectivity int) error {
	if rank < 2 || rank > 3 {
		return &tensor.ShapeError{
			Context: "surface extraction",
			Issue:   fmt.Sprintf("planes must be 2-D or 3-D, got rank %d", rank),
			Kind:    tensor.ErrDimensionality,
		}
	}
	if connectivity < 1 || connectivity > rank {
		return &ConfigError{
			Option: "connectivity",
			Value:  connectivity,
			Reason: fmt.Sprintf("must be within [1,%d] for %d-D planes", rank, rank),
		}
	}
	return nil
}

// extractor finds mask surfaces on a fixed grid. 2-D planes are eroded with
// OpenCV; volumes fall back to walking the neighbourhood since OpenCV
// morphology is planar only.
type extractor struct {
	spatial      tensor.Shape
	connectivity int
	offsets      [][]int
}

func newExtractor(spatial tensor.Shape, connectivity int) (*extractor, error) {
	if err := checkConnectivity(len(spatial), connectivity); err != nil {
		return nil, err
	}
	e := &extractor{spatial: spatial, connectivity: connectivity}
	if len(spatial) == 3 {
		e.offsets = neighbourhood(3, connectivity)
	}
	return e, nil
}

// points returns the coordinates of every foreground cell that touches a
// background cell. Cells beyond the grid edge count as background.
func (e *extractor) points(plane []float64) ([][]int, error) {
	if len(e.spatial) == 3 {
		return volumeBoundary(plane, e.spatial, e.offsets), nil
	}

	rows, cols := e.spatial[0], e.spatial[1]
	edge, err := bridge.Boundary(plane, rows, cols, e.connectivity)
	if err != nil {
		return nil, fmt.Errorf("surface extraction: %w", err)
	}
	var points [][]int
	for i, on := range edge {
		if on {
			points = append(points, []int{i / cols, i % cols})
		}
	}
	return points, nil
}

func volumeBoundary(plane []float64, spatial tensor.Shape, offsets [][]int) [][]int {
	rank := len(spatial)
	strides := make([]int, rank)
	step := 1
	for i := rank - 1; i >= 0; i-- {
		strides[i] = step
		step *= spatial[i]
	}

	var points [][]int
	coord := make([]int, rank)
	for pos, v := range plane {
		if v != 0 {
			rem := pos
			for i := range coord {
				coord[i] = rem / strides[i]
				rem %= strides[i]
			}
			if onEdge(plane, spatial, strides, coord, offsets) {
				points = append(points, append([]int(nil), coord...))
			}
		}
	}
	return points
}

func onEdge(plane []float64, spatial tensor.Shape, strides, coord []int, offsets [][]int) bool {
	for _, off := range offsets {
		idx := 0
		for axis, d := range off {
			n := coord[axis] + d
			if n < 0 || n >= spatial[axis] {
				return true
			}
			idx += n * strides[axis]
		}
		if plane[idx] == 0 {
			return true
		}
	}
	return false
}

// BoundaryPoints extracts the surface of a single 2-D or 3-D mask. Cells with
// a non-zero value are foreground.
func BoundaryPoints(mask *tensor.Mask, connectivity int) ([][]int, error) {
	e, err := newExtractor(mask.Shape(), connectivity)
	if err != nil {
		return nil, err
	}
	return e.points(mask.Data())
}

// scaled converts grid coordinates to physical positions for the k-d tree.
func scaled(points [][]int, spacing []float64) kdtree.Points {
	out := make(kdtree.Points, len(points))
	for i, p := range points {
		q := make(kdtree.Point, len(p))
		for axis, v := range p {
			q[axis] = float64(v) * spacing[axis]
		}
		out[i] = q
	}
	return out
}
