// Package tensor holds the dense float masks that every metric and loss in
// xrseg operates on. Masks are row-major, laid out as (batch, [channels],
// *spatial), and every transform returns a new mask.
package tensor

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// TargetCutoff separates background from foreground in ground-truth masks.
const TargetCutoff = 0.5

type Shape []int

func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s Shape) strides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

func (s Shape) validate(context string) error {
	if len(s) == 0 {
		return &ShapeError{Context: context, Issue: "shape has no dimensions", Shapes: []Shape{s}, Kind: ErrInvalidShape}
	}
	for _, d := range s {
		if d <= 0 {
			return &ShapeError{Context: context, Issue: "dimensions must be positive", Shapes: []Shape{s}, Kind: ErrInvalidShape}
		}
	}
	return nil
}

type Mask struct {
	shape Shape
	data  []float64
}

// New returns a zero-filled mask.
func New(shape ...int) (*Mask, error) {
	s := Shape(shape).Clone()
	if err := s.validate("new mask"); err != nil {
		return nil, err
	}
	return &Mask{shape: s, data: make([]float64, s.Size())}, nil
}

// FromSlice copies data into a mask of the given shape.
func FromSlice(data []float64, shape ...int) (*Mask, error) {
	s := Shape(shape).Clone()
	if err := s.validate("mask from slice"); err != nil {
		return nil, err
	}
	if len(data) != s.Size() {
		return nil, &ShapeError{
			Context: "mask from slice",
			Issue:   fmt.Sprintf("%d values do not fill shape", len(data)),
			Shapes:  []Shape{s},
			Kind:    ErrShapeMismatch,
		}
	}
	return &Mask{shape: s, data: append([]float64(nil), data...)}, nil
}

func Full(value float64, shape ...int) (*Mask, error) {
	m, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range m.data {
		m.data[i] = value
	}
	return m, nil
}

func (m *Mask) Shape() Shape { return m.shape.Clone() }
func (m *Mask) Rank() int    { return len(m.shape) }
func (m *Mask) Len() int     { return len(m.data) }

// Data exposes the backing slice. Callers must treat it as read-only.
func (m *Mask) Data() []float64 { return m.data }

func (m *Mask) Clone() *Mask {
	return &Mask{shape: m.shape.Clone(), data: append([]float64(nil), m.data...)}
}

// Offset converts a full index into a position in the backing slice.
func (m *Mask) Offset(idx ...int) (int, error) {
	if len(idx) != len(m.shape) {
		return 0, fmt.Errorf("index rank %d does not match mask rank %d", len(idx), len(m.shape))
	}
	strides := m.shape.strides()
	off := 0
	for i, v := range idx {
		if v < 0 || v >= m.shape[i] {
			return 0, fmt.Errorf("index %d out of range [0,%d) on axis %d", v, m.shape[i], i)
		}
		off += v * strides[i]
	}
	return off, nil
}

func (m *Mask) At(idx ...int) (float64, error) {
	off, err := m.Offset(idx...)
	if err != nil {
		return 0, err
	}
	return m.data[off], nil
}

func (m *Mask) Set(value float64, idx ...int) error {
	off, err := m.Offset(idx...)
	if err != nil {
		return err
	}
	m.data[off] = value
	return nil
}

// Map applies fn to every element and returns the result as a new mask.
func (m *Mask) Map(fn func(float64) float64) *Mask {
	out := &Mask{shape: m.shape.Clone(), data: make([]float64, len(m.data))}
	for i, v := range m.data {
		out.data[i] = fn(v)
	}
	return out
}

// Threshold marks a cell as foreground iff its value is strictly above t.
func (m *Mask) Threshold(t float64) *Mask {
	return m.Map(func(v float64) float64 {
		if v > t {
			return 1
		}
		return 0
	})
}

// Binarize thresholds a ground-truth mask at TargetCutoff.
func (m *Mask) Binarize() *Mask {
	return m.Threshold(TargetCutoff)
}

func (m *Mask) Sum() float64 {
	return floats.Sum(m.data)
}

func (m *Mask) CountNonZero() int {
	n := 0
	for _, v := range m.data {
		if v != 0 {
			n++
		}
	}
	return n
}

func (m *Mask) Reshape(shape ...int) (*Mask, error) {
	s := Shape(shape).Clone()
	if err := s.validate("reshape"); err != nil {
		return nil, err
	}
	if s.Size() != len(m.data) {
		return nil, &ShapeError{
			Context: "reshape",
			Issue:   "element count differs",
			Shapes:  []Shape{m.shape, s},
			Kind:    ErrShapeMismatch,
		}
	}
	return &Mask{shape: s, data: append([]float64(nil), m.data...)}, nil
}

// Sample copies batch element i, dropping the leading axis.
func (m *Mask) Sample(i int) (*Mask, error) {
	if len(m.shape) < 2 {
		return nil, &ShapeError{Context: "sample", Issue: "mask has no batch axis", Shapes: []Shape{m.shape}, Kind: ErrDimensionality}
	}
	if i < 0 || i >= m.shape[0] {
		return nil, fmt.Errorf("sample %d out of range [0,%d)", i, m.shape[0])
	}
	data := m.SampleData(i)
	return &Mask{shape: m.shape[1:].Clone(), data: append([]float64(nil), data...)}, nil
}

// SampleData returns the backing slice of batch element i without copying.
func (m *Mask) SampleData(i int) []float64 {
	n := len(m.data) / m.shape[0]
	return m.data[i*n : (i+1)*n]
}

// Stack joins equally shaped masks along a new leading axis.
func Stack(masks []*Mask) (*Mask, error) {
	if len(masks) == 0 {
		return nil, &ShapeError{Context: "stack", Issue: "no masks to stack", Kind: ErrInvalidShape}
	}
	first := masks[0].shape
	data := make([]float64, 0, len(masks)*first.Size())
	for _, m := range masks {
		if !m.shape.Equal(first) {
			return nil, &ShapeError{Context: "stack", Issue: "masks differ in shape", Shapes: []Shape{first, m.shape}, Kind: ErrShapeMismatch}
		}
		data = append(data, m.data...)
	}
	shape := append(Shape{len(masks)}, first...)
	return &Mask{shape: shape, data: data}, nil
}
