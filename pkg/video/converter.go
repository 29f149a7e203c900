package video

import (
	"encoding/binary"
	"fmt"

	"solexrecon/internal/models"
)

// Converter decodes a raw frame into a single-channel intensity buffer in the
// [0, models.MaxPixelValue] range. Conversion is deterministic per frame.
type Converter interface {
	Convert(frame models.RawFrame, g models.Geometry, dst *models.Buffer) error
}

// NewConverter returns the converter suited to a color mode. Color and Bayer
// videos are reduced to their green channel, which carries the most signal.
func NewConverter(mode models.ColorMode) Converter {
	if mode.IsBayer() {
		return BayerConverter{}
	}
	return MonoConverter{}
}

// MonoConverter decodes mono frames, and the green plane of RGB/BGR frames.
type MonoConverter struct{}

func (MonoConverter) Convert(frame models.RawFrame, g models.Geometry, dst *models.Buffer) error {
	if err := checkSizes(frame, g, dst); err != nil {
		return err
	}
	planes := g.Planes()
	plane := 0
	if planes == 3 {
		plane = 1
	}
	for i := range dst.Data {
		dst.Data[i] = sample(frame.Data, i*planes+plane, g)
	}
	return nil
}

// BayerConverter interpolates the green channel of a Bayer mosaic bilinearly.
type BayerConverter struct{}

func (BayerConverter) Convert(frame models.RawFrame, g models.Geometry, dst *models.Buffer) error {
	if err := checkSizes(frame, g, dst); err != nil {
		return err
	}
	width, height := g.Width, g.Height
	raw := make([]float32, width*height)
	for i := range raw {
		raw[i] = sample(frame.Data, i, g)
	}

	// green sites sit on odd (x+y) for RGGB/BGGR and even (x+y) for GRBG/GBRG
	greenParity := 1
	if g.ColorMode == models.BayerGRBG || g.ColorMode == models.BayerGBRG {
		greenParity = 0
	}

	px := func(x, y int) float32 {
		if x < 0 {
			x = -x
		} else if x >= width {
			x = 2*(width-1) - x
		}
		if y < 0 {
			y = -y
		} else if y >= height {
			y = 2*(height-1) - y
		}
		// a one pixel wide or tall frame reflects out of range
		x = max(0, min(x, width-1))
		y = max(0, min(y, height-1))
		return raw[y*width+x]
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x+y)%2 == greenParity {
				dst.Data[y*width+x] = raw[y*width+x]
				continue
			}
			dst.Data[y*width+x] = (px(x-1, y) + px(x+1, y) + px(x, y-1) + px(x, y+1)) / 4
		}
	}
	return nil
}

func checkSizes(frame models.RawFrame, g models.Geometry, dst *models.Buffer) error {
	if len(frame.Data) != g.BytesPerFrame() {
		return fmt.Errorf("frame %d has %d bytes, expected %d: %w",
			frame.Index, len(frame.Data), g.BytesPerFrame(), ErrGeometryMismatch)
	}
	if dst.Width != g.Width || dst.Height != g.Height {
		return fmt.Errorf("buffer is %dx%d, video is %dx%d: %w",
			dst.Width, dst.Height, g.Width, g.Height, ErrGeometryMismatch)
	}
	return nil
}

// sample reads sample i and scales it to 16 bits.
func sample(data []byte, i int, g models.Geometry) float32 {
	if g.BytesPerPixel() == 1 {
		return float32(uint16(data[i]) << 8)
	}
	var v uint16
	if g.LittleEndian {
		v = binary.LittleEndian.Uint16(data[2*i:])
	} else {
		v = binary.BigEndian.Uint16(data[2*i:])
	}
	if g.BitDepth < 16 {
		v <<= uint(16 - g.BitDepth)
	}
	return float32(v)
}
