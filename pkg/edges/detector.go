// Package edges finds the frames where the solar disk enters and leaves the
// slit. Each frame is reduced to a scan line whose Fourier magnitude rises
// sharply while the disk is in view.
package edges

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"

	"solexrecon/internal/models"
	"solexrecon/pkg/progress"
	"solexrecon/pkg/video"
)

// DefaultSensitivity is the divisor applied to the magnitude range to get
// the detection threshold.
const DefaultSensitivity = 50

// ErrNoFrames is returned when the video has no frames to analyse.
var ErrNoFrames = errors.New("video has no frames")

// Edges holds the first and last frame of the disk passage, both inclusive.
type Edges struct {
	Start int
	End   int
}

// NotFound is returned when no frame stands out from the others.
var NotFound = Edges{Start: -1, End: -1}

// Found reports whether both edges were detected.
func (e Edges) Found() bool {
	return e.Start >= 0 && e.End >= 0
}

func (e Edges) String() string {
	if !e.Found() {
		return "not found"
	}
	return fmt.Sprintf("[%d, %d]", e.Start, e.End)
}

// Result is the outcome of a detection pass.
type Result struct {
	Edges

	// Magnitudes holds the signal strength of every frame. Unreadable
	// frames are NaN.
	Magnitudes []float64

	// Threshold is the level a frame had to reach to count as disk
	Threshold float64

	// Skipped is the number of unreadable frames
	Skipped int
}

// Detector runs the edge detection over a whole video.
type Detector struct {
	// Converter decodes raw frames. Nil selects one from the color mode.
	Converter video.Converter

	// Sensitivity divides the magnitude range; <= 0 means DefaultSensitivity
	Sensitivity float64

	// Workers is the number of concurrent FFT workers; <= 0 uses every CPU
	Workers int

	// Progress receives one event per percent of frames processed
	Progress progress.Broadcaster
}

// scratch is the per-worker state. gonum FFT plans are not safe for
// concurrent use, so each worker owns one.
type scratch struct {
	buf    *models.Buffer
	line   []float64
	coeffs []complex128
	fft    *fourier.FFT
}

func newScratch(g models.Geometry) *scratch {
	n := paddedLength(g.Width)
	return &scratch{
		buf:    models.NewBuffer(g.Width, g.Height),
		line:   make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		fft:    fourier.NewFFT(n),
	}
}

// Detect reads the video from its first frame and returns the detected
// edges. A video with no disk yields NotFound, not an error.
func (d *Detector) Detect(ctx context.Context, src video.Source) (Result, error) {
	g := src.Geometry()
	if g.FrameCount == 0 {
		return Result{Edges: NotFound}, ErrNoFrames
	}
	if err := src.Seek(0); err != nil {
		return Result{Edges: NotFound}, err
	}

	converter := d.Converter
	if converter == nil {
		converter = video.NewConverter(g.ColorMode)
	}
	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workspaces := make([]*scratch, workers)
	for i := range workspaces {
		workspaces[i] = newScratch(g)
	}

	magnitudes := make([]float64, g.FrameCount)
	var skipped atomic.Int64
	counter := progress.NewCounter(d.Progress, "Detecting sun edges", g.FrameCount, g.FrameCount/100)

	err := video.Dispatch(ctx, src, workers, g.FrameCount, func(job video.Job) error {
		defer counter.Add(1)
		idx := job.Frame.Index
		if idx < 0 || idx >= len(magnitudes) {
			return fmt.Errorf("frame index %d outside [0, %d)", idx, len(magnitudes))
		}
		if job.Err != nil {
			magnitudes[idx] = math.NaN()
			skipped.Add(1)
			return nil
		}
		s := workspaces[job.Worker]
		if err := converter.Convert(job.Frame, g, s.buf); err != nil {
			return fmt.Errorf("frame %d: %w", idx, err)
		}
		magnitudes[idx] = s.magnitude()
		return nil
	})
	if err != nil {
		return Result{Edges: NotFound}, err
	}

	edges, threshold := findEdges(magnitudes, d.Sensitivity)
	return Result{
		Edges:      edges,
		Magnitudes: magnitudes,
		Threshold:  threshold,
		Skipped:    int(skipped.Load()),
	}, nil
}

// magnitude reduces the buffer to its column mean line, zero padded at the
// front, and returns the largest Fourier magnitude of that line.
func (s *scratch) magnitude() float64 {
	w, h := s.buf.Width, s.buf.Height
	offset := len(s.line) - w
	for i := 0; i < offset; i++ {
		s.line[i] = 0
	}
	for x := 0; x < w; x++ {
		var sum float64
		for y := 0; y < h; y++ {
			sum += float64(s.buf.Data[y*w+x])
		}
		s.line[offset+x] = sum / float64(h)
	}

	s.coeffs = s.fft.Coefficients(s.coeffs, s.line)
	var max float64
	for _, c := range s.coeffs {
		if m := cmplx.Abs(c); m > max {
			max = m
		}
	}
	return max
}

// FindEdges scans per-frame magnitudes for the first and last frame whose
// magnitude reaches (max - min) / sensitivity. NaN entries are ignored.
func FindEdges(magnitudes []float64, sensitivity float64) Edges {
	edges, _ := findEdges(magnitudes, sensitivity)
	return edges
}

func findEdges(magnitudes []float64, sensitivity float64) (Edges, float64) {
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, m := range magnitudes {
		if math.IsNaN(m) {
			continue
		}
		min = math.Min(min, m)
		max = math.Max(max, m)
	}
	amplitude := max - min
	if math.IsInf(min, 1) || amplitude == 0 {
		return NotFound, 0
	}
	threshold := amplitude / sensitivity

	edges := NotFound
	for i, m := range magnitudes {
		if m >= threshold {
			edges.Start = i
			break
		}
	}
	for i := len(magnitudes) - 1; i >= 0; i-- {
		if magnitudes[i] >= threshold {
			edges.End = i
			break
		}
	}
	return edges, threshold
}

// paddedLength returns the smallest power of two >= n.
func paddedLength(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
