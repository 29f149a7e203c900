// Package ser reads and writes SER videos, the uncompressed frame container
// written by most planetary and solar capture software.
package ser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"solexrecon/internal/models"
)

const (
	// HeaderSize is the fixed size of a SER header in bytes
	HeaderSize = 178

	fileID = "LUCAM-RECORDER"

	// ticksAtUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01
	ticksAtUnixEpoch = 621355968000000000
)

// ErrInvalidHeader is returned when a file does not start with a valid SER header.
var ErrInvalidHeader = errors.New("invalid SER header")

// Header holds the SER file header.
type Header struct {
	LuID       int32
	Geometry   models.Geometry
	Observer   string
	Instrument string
	Telescope  string

	// DateTime is the local capture start, zero when unknown
	DateTime time.Time

	// DateTimeUTC is the UTC capture start, zero when unknown
	DateTimeUTC time.Time
}

// rawHeader mirrors the on-disk layout after the 14-byte file ID.
type rawHeader struct {
	LuID         int32
	ColorID      int32
	LittleEndian int32
	Width        int32
	Height       int32
	PixelDepth   int32
	FrameCount   int32
	Observer     [40]byte
	Instrument   [40]byte
	Telescope    [40]byte
	DateTime     int64
	DateTimeUTC  int64
}

func readHeader(r io.Reader) (Header, error) {
	id := make([]byte, len(fileID))
	if _, err := io.ReadFull(r, id); err != nil {
		return Header{}, fmt.Errorf("reading file id: %w", err)
	}
	if string(id) != fileID {
		return Header{}, fmt.Errorf("unexpected file id %q: %w", id, ErrInvalidHeader)
	}

	var raw rawHeader
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}

	var littleEndian bool
	switch raw.LittleEndian {
	case 0:
		littleEndian = false
	case 1:
		littleEndian = true
	default:
		return Header{}, fmt.Errorf("invalid endianness flag %d: %w", raw.LittleEndian, ErrInvalidHeader)
	}

	g := models.Geometry{
		Width:        int(raw.Width),
		Height:       int(raw.Height),
		FrameCount:   int(raw.FrameCount),
		BitDepth:     int(raw.PixelDepth),
		ColorMode:    models.ColorMode(raw.ColorID),
		LittleEndian: littleEndian,
	}
	if err := g.Validate(); err != nil {
		return Header{}, fmt.Errorf("%v: %w", err, ErrInvalidHeader)
	}

	return Header{
		LuID:        raw.LuID,
		Geometry:    g,
		Observer:    trimField(raw.Observer[:]),
		Instrument:  trimField(raw.Instrument[:]),
		Telescope:   trimField(raw.Telescope[:]),
		DateTime:    fromTicks(raw.DateTime),
		DateTimeUTC: fromTicks(raw.DateTimeUTC),
	}, nil
}

func writeHeader(w io.Writer, h Header) error {
	if err := h.Geometry.Validate(); err != nil {
		return err
	}
	raw := rawHeader{
		LuID:        h.LuID,
		ColorID:     int32(h.Geometry.ColorMode),
		Width:       int32(h.Geometry.Width),
		Height:      int32(h.Geometry.Height),
		PixelDepth:  int32(h.Geometry.BitDepth),
		FrameCount:  int32(h.Geometry.FrameCount),
		DateTime:    toTicks(h.DateTime),
		DateTimeUTC: toTicks(h.DateTimeUTC),
	}
	if h.Geometry.LittleEndian {
		raw.LittleEndian = 1
	}
	copy(raw.Observer[:], h.Observer)
	copy(raw.Instrument[:], h.Instrument)
	copy(raw.Telescope[:], h.Telescope)

	if _, err := io.WriteString(w, fileID); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, &raw)
}

func trimField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func fromTicks(ticks int64) time.Time {
	if ticks <= 0 {
		return time.Time{}
	}
	unixTicks := ticks - ticksAtUnixEpoch
	return time.Unix(unixTicks/10_000_000, (unixTicks%10_000_000)*100).UTC()
}

func toTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()/100 + ticksAtUnixEpoch
}
