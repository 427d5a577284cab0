package tensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold(t *testing.T) {
	m, err := FromSlice([]float64{0.1, 0.5, 0.51, 0.9}, 1, 2, 2)
	require.NoError(t, err)

	bin := m.Threshold(0.5)
	assert.Equal(t, []float64{0, 0, 1, 1}, bin.Data())
	// input untouched
	assert.Equal(t, []float64{0.1, 0.5, 0.51, 0.9}, m.Data())
}

func TestBinarize(t *testing.T) {
	m, err := FromSlice([]float64{0, 1, 255, 0.4}, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 0}, m.Binarize().Data())
}

func TestFromSliceRejectsWrongLength(t *testing.T) {
	_, err := FromSlice([]float64{1, 2, 3}, 2, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestNewRejectsNonPositive(t *testing.T) {
	_, err := New(2, 0, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestAtSet(t *testing.T) {
	m, err := New(2, 3, 4)
	require.NoError(t, err)

	require.NoError(t, m.Set(7, 1, 2, 3))
	v, err := m.At(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
	assert.Equal(t, 7.0, m.Data()[23])

	_, err = m.At(2, 0, 0)
	assert.Error(t, err)
	_, err = m.At(0, 0)
	assert.Error(t, err)
}

func TestBroadcastShapes(t *testing.T) {
	type test struct {
		a, b  Shape
		out   Shape
		fails bool
	}

	tests := map[string]test{
		"equal": {
			a: Shape{2, 1, 4, 4}, b: Shape{2, 1, 4, 4}, out: Shape{2, 1, 4, 4},
		},
		"stretch-channel": {
			a: Shape{2, 3, 4, 4}, b: Shape{2, 1, 4, 4}, out: Shape{2, 3, 4, 4},
		},
		"lower-rank": {
			a: Shape{2, 1, 4, 4}, b: Shape{4, 4}, out: Shape{2, 1, 4, 4},
		},
		"incompatible": {
			a: Shape{2, 1, 4, 4}, b: Shape{2, 1, 4, 5}, fails: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := BroadcastShapes(tt.a, tt.b)
			if tt.fails {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrShapeMismatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.out, out)
		})
	}
}

func TestBroadcastTo(t *testing.T) {
	row, err := FromSlice([]float64{1, 2, 3}, 1, 3)
	require.NoError(t, err)

	out, err := row.BroadcastTo(Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3}, out.Shape())
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, out.Data())

	col, err := FromSlice([]float64{1, 2}, 2, 1)
	require.NoError(t, err)
	out, err = col.BroadcastTo(Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 2, 2, 2}, out.Data())

	_, err = out.BroadcastTo(Shape{3, 3})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestLayout(t *testing.T) {
	type test struct {
		shape   []int
		classes int
		spatial Shape
		fails   bool
	}

	tests := map[string]test{
		"batch-hw":     {shape: []int{2, 4, 5}, classes: 1, spatial: Shape{4, 5}},
		"batch-chw":    {shape: []int{2, 3, 4, 5}, classes: 3, spatial: Shape{4, 5}},
		"batch-cdhw":   {shape: []int{1, 1, 2, 4, 5}, classes: 1, spatial: Shape{2, 4, 5}},
		"missing-axes": {shape: []int{4, 5}, fails: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			m, err := New(tt.shape...)
			require.NoError(t, err)
			l, err := m.Layout()
			if tt.fails {
				assert.True(t, errors.Is(err, ErrDimensionality))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.classes, l.Classes)
			assert.Equal(t, tt.spatial, l.Spatial)
		})
	}
}

func TestPlaneData(t *testing.T) {
	data := make([]float64, 2*2*2*2)
	for i := range data {
		data[i] = float64(i)
	}
	m, err := FromSlice(data, 2, 2, 2, 2)
	require.NoError(t, err)
	l, err := m.Layout()
	require.NoError(t, err)

	assert.Equal(t, []float64{12, 13, 14, 15}, m.PlaneData(l, 1, 1))
	assert.Equal(t, []float64{4, 5, 6, 7}, m.PlaneData(l, 0, 1))
}

func TestStackAndSample(t *testing.T) {
	a, _ := FromSlice([]float64{1, 0, 0, 1}, 2, 2)
	b, _ := FromSlice([]float64{0, 1, 1, 0}, 2, 2)

	batch, err := Stack([]*Mask{a, b})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 2, 2}, batch.Shape())

	s, err := batch.Sample(1)
	require.NoError(t, err)
	assert.Equal(t, b.Data(), s.Data())

	c, _ := New(3, 3)
	_, err = Stack([]*Mask{a, c})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestReshape(t *testing.T) {
	m, _ := FromSlice([]float64{1, 2, 3, 4}, 4)
	r, err := m.Reshape(1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Shape{1, 2, 2}, r.Shape())

	_, err = m.Reshape(3)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
