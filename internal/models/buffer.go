package models

// Buffer is a single-channel frame of float32 samples stored row-major:
// the sample at (x, y) lives at Data[y*Width+x].
type Buffer struct {
	Width  int
	Height int
	Data   []float32
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// At returns the sample at (x, y).
func (b *Buffer) At(x, y int) float32 {
	return b.Data[y*b.Width+x]
}

// Set stores v at (x, y).
func (b *Buffer) Set(x, y int, v float32) {
	b.Data[y*b.Width+x] = v
}

// Row returns row y. The returned slice aliases the buffer.
func (b *Buffer) Row(y int) []float32 {
	return b.Data[y*b.Width : (y+1)*b.Width]
}

// Fill sets every sample to v.
func (b *Buffer) Fill(v float32) {
	for i := range b.Data {
		b.Data[i] = v
	}
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	data := make([]float32, len(b.Data))
	copy(data, b.Data)
	return &Buffer{Width: b.Width, Height: b.Height, Data: data}
}

// SameSize reports whether both buffers have identical dimensions.
func (b *Buffer) SameSize(other *Buffer) bool {
	return b.Width == other.Width && b.Height == other.Height
}

// Image is a reconstructed image: row i holds the line extracted from frame
// StartFrame+i at the given pixel shift.
type Image struct {
	*Buffer

	// PixelShift is the offset from the spectral line used for extraction
	PixelShift float64

	// StartFrame is the index of the frame that produced row 0
	StartFrame int

	// Source is the geometry of the video the image was built from
	Source Geometry

	// Wavelength is a human readable label of the sampled wavelength, or of
	// the pixel shift when the dispersion is unknown
	Wavelength string

	// Internal marks images used for detection only and not meant for output
	Internal bool
}
