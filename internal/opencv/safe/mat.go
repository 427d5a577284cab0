// Package safe wraps gocv matrices with validity tracking so a closed or
// empty Mat is reported as an error instead of crashing inside OpenCV.
package safe

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

const maxDimension = 32768

// Mat owns a single gocv.Mat. All access goes through the wrapper so that a
// closed Mat reads as empty.
type Mat struct {
	mat   gocv.Mat
	valid int32
	mu    sync.RWMutex
}

func NewMat(rows, cols int, matType gocv.MatType) (*Mat, error) {
	if err := validateDimensions(rows, cols); err != nil {
		return nil, err
	}

	mat := gocv.NewMatWithSize(rows, cols, matType)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to create Mat with size %dx%d", cols, rows)
	}
	return wrap(mat), nil
}

// FromFloats builds a CV_32FC1 Mat holding a row-major rows×cols plane.
func FromFloats(rows, cols int, values []float32) (*Mat, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("got %d values for a %dx%d Mat", len(values), cols, rows)
	}
	m, err := NewMat(rows, cols, gocv.MatTypeCV32FC1)
	if err != nil {
		return nil, err
	}
	if err := m.write(func(g *gocv.Mat) error {
		dst, err := g.DataPtrFloat32()
		if err != nil {
			return err
		}
		copy(dst, values)
		return nil
	}); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// FromBytes builds a CV_8UC1 Mat holding a row-major rows×cols plane.
func FromBytes(rows, cols int, values []uint8) (*Mat, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("got %d values for a %dx%d Mat", len(values), cols, rows)
	}
	m, err := NewMat(rows, cols, gocv.MatTypeCV8UC1)
	if err != nil {
		return nil, err
	}
	if err := m.write(func(g *gocv.Mat) error {
		dst, err := g.DataPtrUint8()
		if err != nil {
			return err
		}
		copy(dst, values)
		return nil
	}); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Adopt takes ownership of mat; the caller must not close it afterwards.
func Adopt(mat gocv.Mat) (*Mat, error) {
	if err := validateSourceMat(mat); err != nil {
		mat.Close()
		return nil, err
	}
	return wrap(mat), nil
}

func wrap(mat gocv.Mat) *Mat {
	m := &Mat{mat: mat, valid: 1}
	runtime.SetFinalizer(m, (*Mat).finalize)
	return m
}

func (m *Mat) IsValid() bool {
	return atomic.LoadInt32(&m.valid) == 1
}

// view runs fn against the underlying Mat under the read lock. It reports
// false without calling fn once the Mat is closed.
func (m *Mat) view(fn func(g *gocv.Mat)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.IsValid() {
		return false
	}
	fn(&m.mat)
	return true
}

func (m *Mat) write(fn func(g *gocv.Mat) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.IsValid() {
		return fmt.Errorf("Mat is invalid")
	}
	return fn(&m.mat)
}

func (m *Mat) Empty() bool {
	empty := true
	m.view(func(g *gocv.Mat) { empty = g.Empty() })
	return empty
}

// Size returns rows and cols, or zeros for a closed Mat.
func (m *Mat) Size() (rows, cols int) {
	m.view(func(g *gocv.Mat) { rows, cols = g.Rows(), g.Cols() })
	return rows, cols
}

func (m *Mat) Type() gocv.MatType {
	t := gocv.MatTypeCV8UC1
	m.view(func(g *gocv.Mat) { t = g.Type() })
	return t
}

// Floats copies a CV_32FC1 Mat out in row-major order.
func (m *Mat) Floats() ([]float32, error) {
	var out []float32
	var err error
	if !m.view(func(g *gocv.Mat) {
		var src []float32
		if src, err = g.DataPtrFloat32(); err == nil {
			out = append([]float32(nil), src...)
		}
	}) {
		return nil, fmt.Errorf("Mat is invalid")
	}
	return out, err
}

// Bytes copies a CV_8UC1 Mat out in row-major order.
func (m *Mat) Bytes() ([]uint8, error) {
	var out []uint8
	var err error
	if !m.view(func(g *gocv.Mat) {
		var src []uint8
		if src, err = g.DataPtrUint8(); err == nil {
			out = append([]uint8(nil), src...)
		}
	}) {
		return nil, fmt.Errorf("Mat is invalid")
	}
	return out, err
}

// Resize returns a new Mat of rows×cols resampled with interp.
func (m *Mat) Resize(rows, cols int, interp gocv.InterpolationFlags) (*Mat, error) {
	if err := ValidateMatForOperation(m, "Resize"); err != nil {
		return nil, err
	}
	if err := validateDimensions(rows, cols); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	m.view(func(g *gocv.Mat) {
		gocv.Resize(*g, &dst, image.Point{X: cols, Y: rows}, 0, 0, interp)
	})
	return Adopt(dst)
}

// Erode applies one pass of a 3×3 erosion with the given structuring shape.
// OpenCV treats cells beyond the edge as foreground, so callers that need a
// background border must pad first.
func (m *Mat) Erode(shape gocv.MorphShape) (*Mat, error) {
	if err := ValidateMatForOperation(m, "Erode"); err != nil {
		return nil, err
	}

	kernel := gocv.GetStructuringElement(shape, image.Point{X: 3, Y: 3})
	defer kernel.Close()

	dst := gocv.NewMat()
	m.view(func(g *gocv.Mat) {
		gocv.Erode(*g, &dst, kernel)
	})
	return Adopt(dst)
}

func (m *Mat) Close() {
	if !atomic.CompareAndSwapInt32(&m.valid, 1, 0) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mat.Empty() {
		m.mat.Close()
	}
	runtime.SetFinalizer(m, nil)
	m.mat = gocv.Mat{}
}

func (m *Mat) finalize() {
	if m.IsValid() {
		m.Close()
	}
}

func validateDimensions(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", cols, rows)
	}
	if rows > maxDimension || cols > maxDimension {
		return fmt.Errorf("dimensions %dx%d exceed maximum size", cols, rows)
	}
	return nil
}

func validateSourceMat(src gocv.Mat) error {
	if src.Empty() {
		return fmt.Errorf("source Mat is empty")
	}
	if src.Rows() <= 0 || src.Cols() <= 0 {
		return fmt.Errorf("source Mat has invalid dimensions: %dx%d", src.Cols(), src.Rows())
	}
	return nil
}

func ValidateMatForOperation(m *Mat, operation string) error {
	switch {
	case m == nil:
		return fmt.Errorf("Mat is nil for operation: %s", operation)
	case !m.IsValid():
		return fmt.Errorf("Mat is invalid for operation: %s", operation)
	case m.Empty():
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}
	return nil
}
