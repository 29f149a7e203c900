package models

import "fmt"

// MaxPixelValue is the upper bound of a converted sample. Converters scale
// every bit depth to the 16-bit range.
const MaxPixelValue = 65535

// ColorMode is the color layout of the samples in a raw frame, using the
// identifiers of the SER container.
type ColorMode int

const (
	Mono      ColorMode = 0
	BayerRGGB ColorMode = 8
	BayerGRBG ColorMode = 9
	BayerGBRG ColorMode = 10
	BayerBGGR ColorMode = 11
	RGB       ColorMode = 100
	BGR       ColorMode = 101
)

func (m ColorMode) String() string {
	switch m {
	case Mono:
		return "MONO"
	case BayerRGGB:
		return "BAYER_RGGB"
	case BayerGRBG:
		return "BAYER_GRBG"
	case BayerGBRG:
		return "BAYER_GBRG"
	case BayerBGGR:
		return "BAYER_BGGR"
	case RGB:
		return "RGB"
	case BGR:
		return "BGR"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
}

// Valid reports whether m is a color mode this module can decode.
func (m ColorMode) Valid() bool {
	switch m {
	case Mono, BayerRGGB, BayerGRBG, BayerGBRG, BayerBGGR, RGB, BGR:
		return true
	}
	return false
}

// IsBayer reports whether samples are laid out as a Bayer mosaic.
func (m ColorMode) IsBayer() bool {
	return m >= BayerRGGB && m <= BayerBGGR
}

// Geometry describes the frames of one video. It is read from the container
// header and never changes during a session.
type Geometry struct {
	// Width is the number of pixels along the slit
	Width int

	// Height is the number of pixels along the dispersion axis
	Height int

	// FrameCount is the number of frames in the video
	FrameCount int

	// BitDepth is the number of significant bits per sample and plane
	BitDepth int

	// ColorMode is the sample layout
	ColorMode ColorMode

	// LittleEndian is the byte order of 16-bit samples
	LittleEndian bool
}

// Planes returns the number of color planes per pixel.
func (g Geometry) Planes() int {
	if g.ColorMode == RGB || g.ColorMode == BGR {
		return 3
	}
	return 1
}

// BytesPerPixel returns the storage size of one sample of one plane.
func (g Geometry) BytesPerPixel() int {
	if g.BitDepth > 8 {
		return 2
	}
	return 1
}

// BytesPerFrame returns the size of a raw frame.
func (g Geometry) BytesPerFrame() int {
	return g.Width * g.Height * g.Planes() * g.BytesPerPixel()
}

// Validate checks that the geometry can describe actual frames.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", g.Width, g.Height)
	}
	if g.FrameCount < 0 {
		return fmt.Errorf("invalid frame count %d", g.FrameCount)
	}
	if g.BitDepth <= 0 || g.BitDepth > 16 {
		return fmt.Errorf("unsupported bit depth %d", g.BitDepth)
	}
	if !g.ColorMode.Valid() {
		return fmt.Errorf("unsupported color mode %v", g.ColorMode)
	}
	return nil
}

// RawFrame is one undecoded frame as delivered by a frame source.
type RawFrame struct {
	// Index is the position of the frame in the video
	Index int

	// Data holds the raw samples. Sources may reuse this slice on the next
	// read, so consumers that keep it must copy it first.
	Data []byte
}

// Point is a sample position in frame coordinates.
type Point struct {
	X, Y float64
}
