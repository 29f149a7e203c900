package diagnostics

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"gonum.org/v1/gonum/floats"

	"solexrecon/internal/models"
)

// Preview stretches buf linearly between its minimum and maximum into an
// 8-bit image.
func Preview(buf *models.Buffer) (*image.Gray, error) {
	if buf == nil || len(buf.Data) == 0 {
		return nil, ErrNoData
	}
	values := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		values[i] = float64(v)
	}
	lo, hi := floats.Min(values), floats.Max(values)
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	img := image.NewGray(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			v := (values[y*buf.Width+x] - lo) * scale
			img.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
	return img, nil
}

// SavePreview saves the stretched buffer as a JPEG image
func SavePreview(buf *models.Buffer, filename string) error {
	img, err := Preview(buf)
	if err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}
