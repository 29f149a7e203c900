// Package reconstruction assembles solar images from a spectroheliograph
// video: every frame contributes one row, sampled along the spectral line.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"solexrecon/internal/models"
	"solexrecon/pkg/polynomial"
	"solexrecon/pkg/progress"
	"solexrecon/pkg/video"
)

// ErrValueOutOfRange is returned when an extracted sample leaves the
// [0, models.MaxPixelValue] range.
var ErrValueOutOfRange = errors.New("extracted value out of range")

// FramePolicy decides what happens to a frame that cannot be read or
// extracted.
type FramePolicy int

const (
	// FailFast aborts the reconstruction on the first bad frame
	FailFast FramePolicy = iota

	// BlankRow writes a zero row for the bad frame and goes on
	BlankRow
)

func (p FramePolicy) String() string {
	if p == BlankRow {
		return "blank"
	}
	return "fail"
}

// ParseFramePolicy reads "fail" or "blank". An empty string is FailFast.
func ParseFramePolicy(s string) (FramePolicy, error) {
	switch s {
	case "", "fail":
		return FailFast, nil
	case "blank":
		return BlankRow, nil
	}
	return FailFast, fmt.Errorf("unknown frame policy %q", s)
}

// FrameError reports a frame that could not contribute its row.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Line is one extracted row, handed to a LineListener.
type Line struct {
	// Frame is the index of the source frame
	Frame int

	// Row is the row of the output image
	Row int

	PixelShift float64

	// Data aliases the image row and must not be modified
	Data []float32
}

// LineListener is called for every committed line of the images that are
// not internal, in frame order, from a single goroutine.
type LineListener func(Line)

// Params holds the reconstruction parameters.
type Params struct {
	// PixelShifts lists the offsets from the spectral line, in pixels,
	// producing one image each.
	PixelShifts []float64

	// InternalShifts produce images used for detection only. They are
	// returned after the requested ones with Internal set, and are not
	// reported to the Listener.
	InternalShifts []float64

	// Start and End bound the frames to reconstruct, both inclusive.
	// A negative End means the last frame of the video.
	Start int
	End   int

	// Polynomial locates the spectral line in every frame. It is resolved
	// once for the whole pass.
	Polynomial polynomial.Polynomial

	// Converter decodes raw frames. Nil selects one from the color mode.
	Converter video.Converter

	// Workers is the number of extraction goroutines; <= 0 uses every CPU
	Workers int

	// Window caps the number of frames read but not yet committed, which
	// bounds memory; <= 0 means 4 per worker
	Window int

	// Policy handles unreadable frames
	Policy FramePolicy

	Listener LineListener
	Progress progress.Broadcaster
}

// Stats summarises a reconstruction.
type Stats struct {
	// Frames is the number of committed rows
	Frames int

	// BlankFrames lists the frames replaced by a blank row
	BlankFrames []int
}

// Reconstructor builds one image per pixel shift in a single forward pass
// over the video. Frames are extracted concurrently and committed in order.
type Reconstructor struct {
	params Params
}

// NewReconstructor creates a reconstructor with the provided parameters.
func NewReconstructor(params Params) *Reconstructor {
	if params.Workers <= 0 {
		params.Workers = runtime.NumCPU()
	}
	if params.Window <= 0 {
		params.Window = 4 * params.Workers
	}
	if params.Window < params.Workers {
		params.Window = params.Workers
	}
	return &Reconstructor{params: params}
}

type extracted struct {
	index int
	lines [][]float32

	// frameErr is subject to the frame policy, fatal is not
	frameErr error
	fatal    error
}

// Reconstruct reads frames Start..End and returns the images, requested
// shifts first. Row i of every image comes from frame Start+i.
//
// Geometry mismatches and read errors are always fatal. Unreadable frames
// and out of range samples follow the frame policy.
func (r *Reconstructor) Reconstruct(ctx context.Context, src video.Source) ([]*models.Image, Stats, error) {
	var stats Stats
	g := src.Geometry()
	start, end, err := r.frameRange(g)
	if err != nil {
		return nil, stats, err
	}
	rows := end - start + 1

	shifts := append(append([]float64(nil), r.params.PixelShifts...), r.params.InternalShifts...)
	if len(shifts) == 0 {
		return nil, stats, fmt.Errorf("no pixel shift requested")
	}
	images := make([]*models.Image, len(shifts))
	for i, shift := range shifts {
		images[i] = &models.Image{
			Buffer:     models.NewBuffer(g.Width, rows),
			PixelShift: shift,
			StartFrame: start,
			Source:     g,
			Internal:   i >= len(r.params.PixelShifts),
		}
	}

	if err := src.Seek(start); err != nil {
		return nil, stats, err
	}
	converter := r.params.Converter
	if converter == nil {
		converter = video.NewConverter(g.ColorMode)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	window := make(chan struct{}, r.params.Window)
	jobs := make(chan video.Job, r.params.Workers)
	results := make(chan extracted, r.params.Window)

	var wg sync.WaitGroup
	for w := 0; w < r.params.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := models.NewBuffer(g.Width, g.Height)
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				results <- r.extract(job, converter, g, buf, shifts)
			}
		}()
	}

	// readErr is only read after results is closed, which happens after
	// the producer returned.
	var readErr error
	go func() {
		defer close(jobs)
		for i := 0; i < rows; i++ {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			frame, err := src.Next()
			var job video.Job
			switch {
			case err == io.EOF:
				readErr = fmt.Errorf("video ended before frame %d: %w", start+i, io.ErrUnexpectedEOF)
				return
			case errors.Is(err, video.ErrCorruptFrame):
				job = video.Job{Frame: models.RawFrame{Index: frame.Index}, Err: err}
			case err != nil:
				readErr = fmt.Errorf("error reading frame %d: %w", start+i, err)
				return
			default:
				job = video.Job{Frame: video.CopyFrame(frame)}
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	counter := progress.NewCounter(r.params.Progress, "Reconstructing images", rows, rows/100)
	pending := make(map[int]extracted, r.params.Window)
	next := start
	var failure error
	for res := range results {
		if failure != nil {
			continue
		}
		pending[res.index] = res
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := r.commit(ready, next-start, images, &stats); err != nil {
				failure = err
				cancel()
				break
			}
			<-window
			next++
			counter.Add(1)
		}
	}

	switch {
	case failure != nil:
		return nil, stats, failure
	case readErr != nil:
		return nil, stats, readErr
	case ctx.Err() != nil:
		return nil, stats, ctx.Err()
	case next != end+1:
		return nil, stats, fmt.Errorf("reconstruction stopped at frame %d, expected %d", next, end+1)
	}
	return images, stats, nil
}

func (r *Reconstructor) frameRange(g models.Geometry) (int, int, error) {
	start, end := r.params.Start, r.params.End
	if end < 0 {
		end = g.FrameCount - 1
	}
	if start < 0 || start > end || end >= g.FrameCount {
		return 0, 0, fmt.Errorf("invalid frame range [%d, %d] for a video of %d frames", r.params.Start, r.params.End, g.FrameCount)
	}
	return start, end, nil
}

// extract converts one frame and samples every shift. It runs on a worker
// goroutine and only touches the worker's own buffer.
func (r *Reconstructor) extract(job video.Job, converter video.Converter, g models.Geometry, buf *models.Buffer, shifts []float64) extracted {
	res := extracted{index: job.Frame.Index}
	if job.Err != nil {
		res.frameErr = &FrameError{Index: job.Frame.Index, Err: job.Err}
		return res
	}
	if err := converter.Convert(job.Frame, g, buf); err != nil {
		if errors.Is(err, video.ErrGeometryMismatch) {
			res.fatal = fmt.Errorf("frame %d: %w", job.Frame.Index, err)
		} else {
			res.frameErr = &FrameError{Index: job.Frame.Index, Err: err}
		}
		return res
	}
	res.lines = make([][]float32, len(shifts))
	for i, shift := range shifts {
		line := make([]float32, g.Width)
		if err := ExtractLine(buf, r.params.Polynomial, shift, line); err != nil {
			res.lines = nil
			res.frameErr = &FrameError{Index: job.Frame.Index, Err: err}
			return res
		}
		res.lines[i] = line
	}
	return res
}

// commit writes an extracted frame into its row. It runs on the committing
// goroutine only, in frame order.
func (r *Reconstructor) commit(res extracted, row int, images []*models.Image, stats *Stats) error {
	if res.fatal != nil {
		return res.fatal
	}
	if res.frameErr != nil {
		if r.params.Policy == FailFast {
			return res.frameErr
		}
		stats.BlankFrames = append(stats.BlankFrames, res.index)
	} else {
		for i, img := range images {
			copy(img.Row(row), res.lines[i])
		}
	}
	stats.Frames++

	if r.params.Listener != nil {
		for _, img := range images {
			if img.Internal {
				continue
			}
			r.params.Listener(Line{Frame: res.index, Row: row, PixelShift: img.PixelShift, Data: img.Row(row)})
		}
	}
	return nil
}

// ExtractLine samples buf along the line described by p, moved by shift
// pixels, and writes one value per column into dst. Positions between two
// rows are linearly interpolated; positions outside the frame are clamped
// to the first or last row.
func ExtractLine(buf *models.Buffer, p polynomial.Polynomial, shift float64, dst []float32) error {
	w, h := buf.Width, buf.Height
	if len(dst) != w {
		return fmt.Errorf("destination holds %d samples, frame width is %d", len(dst), w)
	}
	maxY := float64(h - 1)
	for x := 0; x < w; x++ {
		y := p.Eval(float64(x)) + shift
		if math.IsNaN(y) {
			return fmt.Errorf("line position at x=%d is not a number", x)
		}
		y = math.Max(0, math.Min(maxY, y))

		yi := int(y)
		frac := y - float64(yi)
		value := float64(buf.Data[yi*w+x])
		if frac > 0 && yi < h-1 {
			hi := float64(buf.Data[(yi+1)*w+x])
			value += frac * (hi - value)
		}
		if value < 0 || value > models.MaxPixelValue || math.IsNaN(value) {
			return fmt.Errorf("value %v at x=%d: %w", value, x, ErrValueOutOfRange)
		}
		dst[x] = float32(value)
	}
	return nil
}
