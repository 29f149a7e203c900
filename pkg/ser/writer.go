package ser

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Writer writes a SER stream. The frame count is taken from the header and
// must match the number of frames written before Close.
type Writer struct {
	w          *bufio.Writer
	header     Header
	written    int
	timestamps []time.Time
}

// NewWriter writes the header to w and returns a writer for the frames.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, h); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}
	return &Writer{w: bw, header: h}, nil
}

// WriteFrame appends one raw frame. A non-zero timestamp is recorded in the
// trailer; either every frame carries one or none does.
func (w *Writer) WriteFrame(data []byte, ts time.Time) error {
	if w.written >= w.header.Geometry.FrameCount {
		return fmt.Errorf("header announces %d frames", w.header.Geometry.FrameCount)
	}
	if len(data) != w.header.Geometry.BytesPerFrame() {
		return fmt.Errorf("frame %d has %d bytes, expected %d", w.written, len(data), w.header.Geometry.BytesPerFrame())
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("error writing frame %d: %w", w.written, err)
	}
	if !ts.IsZero() {
		w.timestamps = append(w.timestamps, ts)
	}
	w.written++
	return nil
}

// Close writes the timestamp trailer and flushes the stream. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.written != w.header.Geometry.FrameCount {
		return fmt.Errorf("wrote %d frames, header announces %d", w.written, w.header.Geometry.FrameCount)
	}
	if len(w.timestamps) == w.written && w.written > 0 {
		var b [8]byte
		for _, ts := range w.timestamps {
			binary.LittleEndian.PutUint64(b[:], uint64(toTicks(ts)))
			if _, err := w.w.Write(b[:]); err != nil {
				return fmt.Errorf("error writing timestamps: %w", err)
			}
		}
	}
	return w.w.Flush()
}
