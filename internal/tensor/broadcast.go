package tensor

// BroadcastShapes applies NumPy rules: shapes are aligned on their trailing
// axes and an axis of length 1 stretches to match the other side.
func BroadcastShapes(a, b Shape) (Shape, error) {
	rank := len(a)
	if len(b) > rank {
		rank = len(b)
	}
	out := make(Shape, rank)
	for i := 1; i <= rank; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db:
			out[rank-i] = da
		case da == 1:
			out[rank-i] = db
		case db == 1:
			out[rank-i] = da
		default:
			return nil, mismatch("broadcast", a, b)
		}
	}
	return out, nil
}

// BroadcastTo materialises m expanded to shape. The receiver is returned
// as-is when no expansion is needed.
func (m *Mask) BroadcastTo(shape Shape) (*Mask, error) {
	target, err := BroadcastShapes(m.shape, shape)
	if err != nil {
		return nil, err
	}
	if !target.Equal(shape) {
		return nil, mismatch("broadcast to", m.shape, shape)
	}
	if m.shape.Equal(shape) {
		return m, nil
	}

	// Left-pad the source shape with ones so both ranks line up.
	src := make(Shape, len(shape))
	pad := len(shape) - len(m.shape)
	for i := range src {
		if i < pad {
			src[i] = 1
		} else {
			src[i] = m.shape[i-pad]
		}
	}
	srcStrides := src.strides()
	for i, d := range src {
		if d == 1 {
			srcStrides[i] = 0
		}
	}

	out := &Mask{shape: shape.Clone(), data: make([]float64, shape.Size())}
	idx := make([]int, len(shape))
	for pos := range out.data {
		off := 0
		for axis, v := range idx {
			off += v * srcStrides[axis]
		}
		out.data[pos] = m.data[off]

		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
	return out, nil
}

// Broadcast expands a and b to their common shape.
func Broadcast(a, b *Mask) (*Mask, *Mask, error) {
	shape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, nil, err
	}
	ea, err := a.BroadcastTo(shape)
	if err != nil {
		return nil, nil, err
	}
	eb, err := b.BroadcastTo(shape)
	if err != nil {
		return nil, nil, err
	}
	return ea, eb, nil
}
