// Package video defines how frames are pulled out of a video container and
// turned into float intensity buffers.
package video

import (
	"errors"

	"solexrecon/internal/models"
)

var (
	// ErrGeometryMismatch is returned when a frame does not match the
	// geometry announced by its container. It is fatal for the video.
	ErrGeometryMismatch = errors.New("frame does not match video geometry")

	// ErrCorruptFrame is returned for a single unreadable frame. The source
	// stays usable and the next call to Next moves on to the following frame.
	ErrCorruptFrame = errors.New("corrupt frame")
)

// Source is a sequential frame reader.
//
// Next returns io.EOF once every frame has been read. The Data slice of the
// returned frame may be reused by the following call, so a consumer that
// keeps a frame past the current iteration must take a copy with CopyFrame.
type Source interface {
	Geometry() models.Geometry
	Next() (models.RawFrame, error)
	Seek(frame int) error
}

// CopyFrame returns a frame owning a private copy of the raw data.
func CopyFrame(f models.RawFrame) models.RawFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return models.RawFrame{Index: f.Index, Data: data}
}
