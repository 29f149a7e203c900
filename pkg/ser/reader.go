package ser

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"solexrecon/internal/models"
	"solexrecon/pkg/video"
)

// Reader is a video.Source over a SER file. Frames are read at their offset
// into a single buffer that is reused on every call to Next.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	size   int64
	header Header

	frameSize int64
	current   int
	buf       []byte
}

var _ video.Source = (*Reader)(nil)

// Open opens a SER file from disk.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening video: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error reading video info: %w", err)
	}
	r, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header of a SER stream of the given size.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size < HeaderSize {
		return nil, fmt.Errorf("file too small (%d bytes): %w", size, ErrInvalidHeader)
	}
	header, err := readHeader(io.NewSectionReader(r, 0, HeaderSize))
	if err != nil {
		return nil, err
	}
	frameSize := int64(header.Geometry.BytesPerFrame())
	return &Reader{
		r:         r,
		size:      size,
		header:    header,
		frameSize: frameSize,
		buf:       make([]byte, frameSize),
	}, nil
}

// Header returns the parsed file header.
func (r *Reader) Header() Header {
	return r.header
}

func (r *Reader) Geometry() models.Geometry {
	return r.header.Geometry
}

// Next reads the next frame. A frame cut short by the end of the file is
// reported as video.ErrCorruptFrame and the reader moves on.
func (r *Reader) Next() (models.RawFrame, error) {
	if r.current >= r.header.Geometry.FrameCount {
		return models.RawFrame{}, io.EOF
	}
	idx := r.current
	r.current++

	offset := HeaderSize + int64(idx)*r.frameSize
	if offset+r.frameSize > r.size {
		return models.RawFrame{Index: idx}, fmt.Errorf("frame %d is truncated: %w", idx, video.ErrCorruptFrame)
	}
	n, err := r.r.ReadAt(r.buf, offset)
	if n < len(r.buf) {
		if err == nil || err == io.EOF {
			return models.RawFrame{Index: idx}, fmt.Errorf("frame %d is truncated: %w", idx, video.ErrCorruptFrame)
		}
		return models.RawFrame{}, fmt.Errorf("error reading frame %d: %w", idx, err)
	}
	return models.RawFrame{Index: idx, Data: r.buf}, nil
}

func (r *Reader) Seek(frame int) error {
	if frame < 0 || frame > r.header.Geometry.FrameCount {
		return fmt.Errorf("seek to frame %d out of range [0, %d]", frame, r.header.Geometry.FrameCount)
	}
	r.current = frame
	return nil
}

// Timestamps returns the per-frame UTC timestamps stored after the last
// frame, or nil when the file has none.
func (r *Reader) Timestamps() ([]time.Time, error) {
	count := r.header.Geometry.FrameCount
	offset := HeaderSize + int64(count)*r.frameSize
	if r.size < offset+int64(count)*8 || count == 0 {
		return nil, nil
	}
	raw := make([]byte, count*8)
	if _, err := r.r.ReadAt(raw, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("error reading timestamps: %w", err)
	}
	out := make([]time.Time, count)
	for i := range out {
		out[i] = fromTicks(int64(binary.LittleEndian.Uint64(raw[8*i:])))
	}
	return out, nil
}

// Close releases the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
