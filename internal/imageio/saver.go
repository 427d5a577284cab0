package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"xrseg/internal/logger"
	"xrseg/internal/tensor"
)

type Saver struct {
	logger logger.Logger
}

func NewSaver(log logger.Logger) *Saver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Saver{logger: log}
}

// SavePNG writes mask as an 8-bit binary image: 255 where the value exceeds
// threshold, 0 elsewhere.
func (s *Saver) SavePNG(w io.Writer, mask *tensor.Mask, threshold float64) error {
	return s.Save(w, mask, threshold, "png")
}

// Save encodes mask as png, tiff or bmp. Every axis but the last two must
// have length 1.
func (s *Saver) Save(w io.Writer, mask *tensor.Mask, threshold float64, format string) error {
	img, err := toGray(mask, threshold)
	if err != nil {
		return err
	}

	switch format {
	case "", "png":
		format = "png"
		err = png.Encode(w, img)
	case "tiff", "tif":
		format = "tiff"
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		err = bmp.Encode(w, img)
	default:
		err = fmt.Errorf("unsupported mask format: %s", format)
	}

	if err != nil {
		s.logger.Error("ImageSaver", err, map[string]interface{}{
			"format": format,
		})
		return err
	}

	s.logger.Debug("ImageSaver", "mask saved", map[string]interface{}{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	})
	return nil
}

// SaveFile picks the format from the file extension.
func (s *Saver) SaveFile(path string, mask *tensor.Mask, threshold float64) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return s.Save(fh, mask, threshold, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

func toGray(mask *tensor.Mask, threshold float64) (*image.Gray, error) {
	if mask == nil {
		return nil, fmt.Errorf("no mask to save")
	}
	shape := mask.Shape()
	if len(shape) < 2 {
		return nil, &tensor.ShapeError{Context: "save mask", Issue: "mask has fewer than two axes", Shapes: []tensor.Shape{shape}, Kind: tensor.ErrDimensionality}
	}
	for _, d := range shape[:len(shape)-2] {
		if d != 1 {
			return nil, &tensor.ShapeError{Context: "save mask", Issue: "only a single plane can be saved", Shapes: []tensor.Shape{shape}, Kind: tensor.ErrDimensionality}
		}
	}

	h, w := shape[len(shape)-2], shape[len(shape)-1]
	img := image.NewGray(image.Rect(0, 0, w, h))
	data := mask.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if data[y*w+x] > threshold {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}
