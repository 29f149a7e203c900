package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"gonum.org/v1/gonum/floats"

	"solexrecon/internal/models"
	"solexrecon/pkg/progress"
	"solexrecon/pkg/video"
)

// ErrEmptyAverage is returned when no frame could be averaged.
var ErrEmptyAverage = errors.New("no frame contributed to the average")

// Average is the pixel-wise mean of the frames of a video.
type Average struct {
	*models.Buffer

	// Frames is the number of averaged frames
	Frames int

	// Dark is the number of frames rejected as too dark
	Dark int

	// Skipped is the number of unreadable frames
	Skipped int
}

// AverageBuilder streams a video into its average frame. Frames are split
// into one partition per worker, frame i going to partition i mod Workers.
// Each partition sums its frames in order and partitions are merged in
// order, so the result does not depend on scheduling.
type AverageBuilder struct {
	// Converter decodes raw frames. Nil selects one from the color mode.
	Converter video.Converter

	// Workers is the number of partitions; <= 0 uses every CPU
	Workers int

	// DarkFrameRatio rejects frames whose mean is at or below this share of
	// the brightest sampled frame mean. 0 keeps every frame.
	DarkFrameRatio float64

	// ProgressEvery is the number of frames between two progress events
	ProgressEvery int

	Progress progress.Broadcaster
}

type partition struct {
	sum     []float64
	scratch []float64
	buf     *models.Buffer
	frames  int
	dark    int
	skipped int
}

// Build averages every frame of src, reading it from the first frame.
func (b *AverageBuilder) Build(ctx context.Context, src video.Source) (*Average, error) {
	g := src.Geometry()
	if g.FrameCount == 0 {
		return nil, ErrEmptyAverage
	}
	converter := b.Converter
	if converter == nil {
		converter = video.NewConverter(g.ColorMode)
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var threshold float64
	if b.DarkFrameRatio > 0 {
		maxMean, err := b.sampleMaxMean(ctx, src, converter)
		if err != nil {
			return nil, err
		}
		threshold = b.DarkFrameRatio * maxMean
	}

	if err := src.Seek(0); err != nil {
		return nil, err
	}
	size := g.Width * g.Height
	parts := make([]*partition, workers)
	for i := range parts {
		parts[i] = &partition{
			sum:     make([]float64, size),
			scratch: make([]float64, size),
			buf:     models.NewBuffer(g.Width, g.Height),
		}
	}

	counter := progress.NewCounter(b.Progress, "Computing average image", g.FrameCount, b.ProgressEvery)
	err := video.Dispatch(ctx, src, workers, g.FrameCount, func(job video.Job) error {
		defer counter.Add(1)
		p := parts[job.Worker]
		if job.Err != nil {
			p.skipped++
			return nil
		}
		if err := converter.Convert(job.Frame, g, p.buf); err != nil {
			return fmt.Errorf("frame %d: %w", job.Frame.Index, err)
		}
		for i, v := range p.buf.Data {
			p.scratch[i] = float64(v)
		}
		if threshold > 0 && floats.Sum(p.scratch)/float64(size) <= threshold {
			p.dark++
			return nil
		}
		floats.Add(p.sum, p.scratch)
		p.frames++
		return nil
	})
	if err != nil {
		return nil, err
	}

	avg := &Average{Buffer: models.NewBuffer(g.Width, g.Height)}
	total := make([]float64, size)
	for _, p := range parts {
		floats.Add(total, p.sum)
		avg.Frames += p.frames
		avg.Dark += p.dark
		avg.Skipped += p.skipped
	}
	if avg.Frames == 0 {
		return nil, ErrEmptyAverage
	}
	floats.Scale(1/float64(avg.Frames), total)
	for i, v := range total {
		avg.Data[i] = float32(v)
	}
	return avg, nil
}

// sampleMaxMean returns the largest frame mean over a sample of frames,
// one every max(10, frameCount/100).
func (b *AverageBuilder) sampleMaxMean(ctx context.Context, src video.Source, converter video.Converter) (float64, error) {
	g := src.Geometry()
	step := g.FrameCount / 100
	if step < 10 {
		step = 10
	}
	buf := models.NewBuffer(g.Width, g.Height)
	var maxMean float64
	for i := 0; i < g.FrameCount; i += step {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := src.Seek(i); err != nil {
			return 0, err
		}
		frame, err := src.Next()
		switch {
		case errors.Is(err, video.ErrCorruptFrame):
			continue
		case err == io.EOF:
			return maxMean, nil
		case err != nil:
			return 0, fmt.Errorf("error reading frame %d: %w", i, err)
		}
		if err := converter.Convert(frame, g, buf); err != nil {
			return 0, fmt.Errorf("frame %d: %w", i, err)
		}
		var sum float64
		for _, v := range buf.Data {
			sum += float64(v)
		}
		if mean := sum / float64(len(buf.Data)); mean > maxMean {
			maxMean = mean
		}
	}
	return maxMean, nil
}
