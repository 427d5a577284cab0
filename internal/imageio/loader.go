// Package imageio reads and writes mask images and pairs prediction files
// with their ground truth.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"xrseg/internal/logger"
	"xrseg/internal/opencv/bridge"
	"xrseg/internal/opencv/safe"
	"xrseg/internal/tensor"
)

// MaskData is one decoded image as an (H, W) mask with values in [0,1].
type MaskData struct {
	Mask   *tensor.Mask
	Width  int
	Height int
	Format string
	Path   string
}

type Loader struct {
	logger logger.Logger
}

func NewLoader(log logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{logger: log}
}

func (l *Loader) LoadFile(path string) (*MaskData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	md, err := l.LoadFromBytes(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	md.Path = path
	return md, nil
}

// LoadFromBytes decodes data as an 8-bit grayscale image. The format hint is
// a file extension; the decoded format wins when the hint is unknown.
func (l *Loader) LoadFromBytes(data []byte, format string) (*MaskData, error) {
	cfg, standardLibFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	mat, err := l.decodeGray(data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if rows, cols := mat.Size(); rows != cfg.Height || cols != cfg.Width {
		return nil, fmt.Errorf("decoded size %dx%d differs from header %dx%d",
			cols, rows, cfg.Width, cfg.Height)
	}

	plane, err := bridge.MatToPlane(mat)
	if err != nil {
		return nil, fmt.Errorf("failed to read pixels: %w", err)
	}
	mask, err := tensor.FromSlice(plane, cfg.Height, cfg.Width)
	if err != nil {
		return nil, err
	}

	md := &MaskData{
		Mask:   mask,
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: determineActualFormat(format, standardLibFormat),
	}

	l.logger.Debug("ImageLoader", "mask loaded", map[string]interface{}{
		"width":  md.Width,
		"height": md.Height,
		"format": md.Format,
	})
	return md, nil
}

// decodeGray prefers OpenCV and falls back to the Go decoders for formats
// the linked OpenCV build cannot read.
func (l *Loader) decodeGray(data []byte) (*safe.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err == nil && !mat.Empty() {
		return safe.Adopt(mat)
	}
	if err == nil {
		mat.Close()
	}

	img, _, decodeErr := image.Decode(bytes.NewReader(data))
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode image: %w", decodeErr)
	}
	l.logger.Debug("ImageLoader", "OpenCV decode failed, using Go decoder", nil)
	return bridge.ImageToMat(img)
}

func determineActualFormat(extension, stdLibFormat string) string {
	switch strings.TrimPrefix(strings.ToLower(extension), ".") {
	case "tiff", "tif":
		return "tiff"
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "bmp":
		return "bmp"
	default:
		if stdLibFormat != "" {
			return stdLibFormat
		}
		return "unknown"
	}
}

// Stack turns equally sized (H, W) masks into a (B, 1, H, W) batch.
func Stack(masks []*tensor.Mask) (*tensor.Mask, error) {
	planes := make([]*tensor.Mask, len(masks))
	for i, m := range masks {
		shape := m.Shape()
		if len(shape) != 2 {
			return nil, &tensor.ShapeError{
				Context: "imageio stack",
				Issue:   fmt.Sprintf("mask %d is not (H, W)", i),
				Shapes:  []tensor.Shape{shape},
				Kind:    tensor.ErrDimensionality,
			}
		}
		p, err := m.Reshape(1, shape[0], shape[1])
		if err != nil {
			return nil, err
		}
		planes[i] = p
	}
	return tensor.Stack(planes)
}
