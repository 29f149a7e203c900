package video

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"solexrecon/internal/models"
)

// MemorySource serves pre-encoded frames from memory. Like a file reader it
// hands out one shared buffer that is overwritten on every read.
type MemorySource struct {
	geometry models.Geometry
	frames   [][]byte
	current  int
	buf      []byte

	// Corrupt lists frame indices reported as ErrCorruptFrame.
	Corrupt map[int]bool

	// FailAt, when >= 0, makes Next return ReadErr at that frame.
	FailAt  int
	ReadErr error
}

// NewMemorySource wraps already encoded frames. The frame count of the
// geometry is set from the number of frames.
func NewMemorySource(g models.Geometry, frames [][]byte) *MemorySource {
	g.FrameCount = len(frames)
	return &MemorySource{
		geometry: g,
		frames:   frames,
		buf:      make([]byte, g.BytesPerFrame()),
		FailAt:   -1,
	}
}

// NewMono16Source encodes buffers as little-endian 16-bit mono frames.
func NewMono16Source(buffers []*models.Buffer) *MemorySource {
	g := models.Geometry{BitDepth: 16, ColorMode: models.Mono, LittleEndian: true}
	if len(buffers) > 0 {
		g.Width = buffers[0].Width
		g.Height = buffers[0].Height
	}
	frames := make([][]byte, len(buffers))
	for i, b := range buffers {
		frames[i] = EncodeMono16(b)
	}
	return NewMemorySource(g, frames)
}

// EncodeMono16 encodes a buffer as little-endian 16-bit samples, clamping
// values to the 16-bit range.
func EncodeMono16(b *models.Buffer) []byte {
	out := make([]byte, 2*len(b.Data))
	for i, v := range b.Data {
		c := math.Round(float64(v))
		if c < 0 {
			c = 0
		} else if c > models.MaxPixelValue {
			c = models.MaxPixelValue
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(c))
	}
	return out
}

// Announce makes Geometry report frameCount frames, as a header that
// promises more frames than the file holds.
func (s *MemorySource) Announce(frameCount int) {
	s.geometry.FrameCount = frameCount
}

func (s *MemorySource) Geometry() models.Geometry {
	return s.geometry
}

func (s *MemorySource) Next() (models.RawFrame, error) {
	if s.current >= len(s.frames) {
		return models.RawFrame{}, io.EOF
	}
	idx := s.current
	s.current++
	if idx == s.FailAt {
		return models.RawFrame{}, s.ReadErr
	}
	if s.Corrupt[idx] {
		return models.RawFrame{Index: idx}, fmt.Errorf("frame %d: %w", idx, ErrCorruptFrame)
	}
	data := s.frames[idx]
	if len(data) != len(s.buf) {
		// mismatched frames are handed out as-is so that converters see them
		return models.RawFrame{Index: idx, Data: data}, nil
	}
	copy(s.buf, data)
	return models.RawFrame{Index: idx, Data: s.buf}, nil
}

func (s *MemorySource) Seek(frame int) error {
	if frame < 0 || frame > len(s.frames) {
		return fmt.Errorf("seek to frame %d out of range [0, %d]", frame, len(s.frames))
	}
	s.current = frame
	return nil
}
