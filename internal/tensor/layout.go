package tensor

import "fmt"

// Layout splits a batched mask into per-sample class planes.
//
//	rank 3: (batch, H, W)        one 2-D plane per sample
//	rank 4: (batch, C, H, W)     C 2-D planes per sample
//	rank 5: (batch, C, D, H, W)  C 3-D volumes per sample
type Layout struct {
	Batch   int
	Classes int
	Spatial Shape
}

func (l Layout) PlaneSize() int {
	return l.Spatial.Size()
}

func (m *Mask) Layout() (Layout, error) {
	switch len(m.shape) {
	case 3:
		return Layout{Batch: m.shape[0], Classes: 1, Spatial: m.shape[1:].Clone()}, nil
	case 4, 5:
		return Layout{Batch: m.shape[0], Classes: m.shape[1], Spatial: m.shape[2:].Clone()}, nil
	default:
		return Layout{}, &ShapeError{
			Context: "layout",
			Issue:   fmt.Sprintf("rank %d is not (batch, H, W), (batch, C, H, W) or (batch, C, D, H, W)", len(m.shape)),
			Shapes:  []Shape{m.shape},
			Kind:    ErrDimensionality,
		}
	}
}

// PlaneData returns the backing slice of class c in sample b without copying.
func (m *Mask) PlaneData(l Layout, b, c int) []float64 {
	n := l.PlaneSize()
	start := (b*l.Classes + c) * n
	return m.data[start : start+n]
}
