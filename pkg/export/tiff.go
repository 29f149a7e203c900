// Package export writes reconstructed images to disk.
package export

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"solexrecon/internal/models"
)

// Gray16 converts a buffer to a 16-bit image, rounding and clamping every
// sample to [0, 65535].
func Gray16(buf *models.Buffer) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			v := math.Round(float64(buf.At(x, y)))
			value := uint16(math.Max(0, math.Min(models.MaxPixelValue, v)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// WriteTIFF saves img as a deflate compressed 16-bit grayscale TIFF,
// creating the parent directory when needed.
func WriteTIFF(img *models.Image, path string) (err error) {
	if img == nil || img.Buffer == nil {
		return fmt.Errorf("no image to write to %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := tiff.Encode(w, Gray16(img.Buffer), &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	return w.Flush()
}

// FileName names the file of img, from the video base name and the pixel
// shift. Internal images get a "detection" marker.
func FileName(base string, img *models.Image) string {
	base = strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	kind := "shift"
	if img.Internal {
		kind = "detection"
	}
	shift := strings.ReplaceAll(fmt.Sprintf("%+.2f", img.PixelShift), ".", "_")
	return fmt.Sprintf("%s_%s%s.tif", base, kind, shift)
}
