// Package pipeline chains the processing of one video: sun edge detection,
// average image, spectral line analysis, polynomial resolution, dispersion
// and reconstruction.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qdm12/reprint"

	"solexrecon/internal/models"
	"solexrecon/pkg/config"
	"solexrecon/pkg/dispersion"
	"solexrecon/pkg/edges"
	"solexrecon/pkg/polynomial"
	"solexrecon/pkg/progress"
	"solexrecon/pkg/reconstruction"
	"solexrecon/pkg/spectrum"
	"solexrecon/pkg/video"
)

// DetectionShiftOffset is the offset, from the reference shift, of the
// extra image reconstructed for disk detection. Sampling a few pixels away
// from the line core gives a sharper limb.
const DetectionShiftOffset = -6

// Review is what an operator gets to check the distortion polynomial.
type Review struct {
	Average  *reconstruction.Average
	Analysis *spectrum.Result

	// Proposed is the polynomial the pass would use, nil when there is none
	Proposed *polynomial.Choice
}

// Reviewer lets an operator lock a polynomial fitted through hand picked
// points. Returning nil keeps the proposed polynomial.
type Reviewer func(ctx context.Context, r Review) (*polynomial.Polynomial, error)

// Result holds everything a pass produced.
type Result struct {
	// Config is the snapshot the pass ran with
	Config *config.Config

	Edges edges.Result

	// Start and End are the reconstructed frames, both inclusive
	Start, End int

	Average    *reconstruction.Average
	Analysis   *spectrum.Result
	Polynomial polynomial.Choice
	Calculator *dispersion.Calculator

	// Images holds the requested images first, then the internal ones
	Images []*models.Image
	Stats  reconstruction.Stats

	Duration time.Duration
}

// Requested returns the images the user asked for.
func (r *Result) Requested() []*models.Image {
	var out []*models.Image
	for _, img := range r.Images {
		if !img.Internal {
			out = append(out, img)
		}
	}
	return out
}

// DetectionImage returns the internal image used for disk detection.
func (r *Result) DetectionImage() *models.Image {
	want := r.Config.Spectrum.PixelShifts[0] + DetectionShiftOffset
	for _, img := range r.Images {
		if img.PixelShift == want {
			return img
		}
	}
	return nil
}

// Processor runs the whole pass over one video.
type Processor struct {
	Config *config.Config

	// Converter decodes raw frames. Nil selects one from the color mode.
	Converter video.Converter

	Progress progress.Broadcaster

	// Logger receives step messages. Nil uses the standard logger.
	Logger *log.Logger

	// Gate is shared by processors whose Reviewer talks to one operator
	Gate *Gate

	Reviewer Reviewer

	// Listener receives every committed line of the requested images
	Listener reconstruction.LineListener
}

// Process runs every step over src. The configuration is copied when the
// pass starts.
func (p *Processor) Process(ctx context.Context, src video.Source) (*Result, error) {
	start := time.Now()
	if p.Config == nil {
		return nil, fmt.Errorf("no configuration")
	}
	copied := reprint.This(p.Config)
	cfg, ok := copied.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration copy %T", copied)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := reconstruction.ParseFramePolicy(cfg.Processing.FramePolicy)
	mode, _ := spectrum.ParseMode(cfg.Detection.LineMode)

	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	logf := func(format string, args ...any) {
		if cfg.Output.Verbose {
			logger.Printf(format, args...)
		}
	}

	g := src.Geometry()
	res := &Result{Config: cfg}
	logf("Processing %dx%d video, %d frames, %d bits %s", g.Width, g.Height, g.FrameCount, g.BitDepth, g.ColorMode)

	// Step 1: frames where the sun crosses the slit
	logf("Step 1: Detecting sun edges...")
	detector := &edges.Detector{
		Converter:   p.Converter,
		Sensitivity: cfg.Detection.Sensitivity,
		Workers:     cfg.Processing.NumWorkers,
		Progress:    p.Progress,
	}
	detected, err := detector.Detect(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("error detecting sun edges: %w", err)
	}
	res.Edges = detected
	res.Start, res.End = frameRange(detected.Edges, cfg.Processing.Margin, g.FrameCount)
	if detected.Found() {
		logf("Sun edges detected between frames %d and %d, reconstructing frames %d to %d",
			detected.Start, detected.End, res.Start, res.End)
	} else {
		logf("Sun edges not found, reconstructing every frame")
	}

	// Step 2: average image
	logf("Step 2: Computing average image...")
	builder := &reconstruction.AverageBuilder{
		Converter:      p.Converter,
		Workers:        cfg.Processing.NumWorkers,
		DarkFrameRatio: cfg.Average.DarkFrameRatio,
		ProgressEvery:  cfg.Average.ProgressEvery,
		Progress:       p.Progress,
	}
	res.Average, err = builder.Build(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("error computing average image: %w", err)
	}
	logf("Averaged %d frames (%d dark, %d unreadable)", res.Average.Frames, res.Average.Dark, res.Average.Skipped)

	// Step 3: spectral line
	logf("Step 3: Analyzing spectral line...")
	analyzer := spectrum.NewAnalyzer(spectrum.AnalyzerParams{
		SunThreshold: cfg.Detection.SunThreshold,
		Mode:         mode,
		Step:         cfg.Detection.SampleStep,
		MaxDeviation: cfg.Detection.MaxDeviation,
	})
	res.Analysis, err = analyzer.Analyze(res.Average.Buffer)
	if err != nil {
		return nil, fmt.Errorf("error analyzing average image: %w", err)
	}

	// Step 4: one polynomial for the whole pass
	res.Polynomial, err = p.resolvePolynomial(ctx, cfg, res, g)
	if err != nil {
		return nil, err
	}
	logf("Step 4: Distortion polynomial: %s", res.Polynomial)

	// Step 5: dispersion
	inst, err := cfg.ResolveInstrument()
	if err != nil {
		return nil, err
	}
	res.Calculator = dispersion.NewCalculator(inst, cfg.Wavelength(), cfg.Spectrum.PixelSize, cfg.Spectrum.Binning)
	if res.Calculator.Known() {
		logf("Step 5: Dispersion of %s: %.4f Å/px", inst.Label, res.Calculator.Dispersion.AngstromsPerPixel())
	} else {
		logf("Step 5: Dispersion unknown, images are labelled with pixel shifts")
	}

	// Step 6: reconstruction
	shifts := cfg.Spectrum.PixelShifts
	logf("Step 6: Reconstructing %d image(s)...", len(shifts))
	reconstructor := reconstruction.NewReconstructor(reconstruction.Params{
		PixelShifts:    shifts,
		InternalShifts: internalShifts(shifts),
		Start:          res.Start,
		End:            res.End,
		Polynomial:     res.Polynomial.Polynomial,
		Converter:      p.Converter,
		Workers:        cfg.Processing.NumWorkers,
		Window:         cfg.Processing.Window,
		Policy:         policy,
		Listener:       p.Listener,
		Progress:       p.Progress,
	})
	res.Images, res.Stats, err = reconstructor.Reconstruct(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("error reconstructing images: %w", err)
	}
	if n := len(res.Stats.BlankFrames); n > 0 {
		logger.Printf("Warning: %d unreadable frame(s) replaced by blank rows: %v", n, res.Stats.BlankFrames)
	}
	for _, img := range res.Images {
		img.Wavelength = res.Calculator.Describe(img.PixelShift)
	}

	res.Duration = time.Since(start)
	logf("Processing completed in %.2f seconds", res.Duration.Seconds())
	return res, nil
}

// resolvePolynomial gathers the candidates, lets the reviewer lock its own
// and picks the one the pass uses.
func (p *Processor) resolvePolynomial(ctx context.Context, cfg *config.Config, res *Result, g models.Geometry) (polynomial.Choice, error) {
	var c polynomial.Candidates
	if cfg.Polynomial.Forced != "" {
		forced, err := polynomial.Parse(cfg.Polynomial.Forced)
		if err != nil {
			return polynomial.Choice{}, err
		}
		c.Forced = &forced
	}
	if detected, ok := res.Analysis.DistortionPolynomial(); ok {
		c.Detected = &detected
	}
	if cfg.Polynomial.Fallback == config.FallbackCenter {
		center := polynomial.Constant(float64(g.Height) / 2)
		c.Fallback = &center
	}

	if p.Reviewer != nil {
		review := Review{Average: res.Average, Analysis: res.Analysis}
		if proposed, err := polynomial.Resolve(c); err == nil {
			review.Proposed = &proposed
		}
		run := func() error {
			manual, err := p.Reviewer(ctx, review)
			if err != nil {
				return fmt.Errorf("polynomial review: %w", err)
			}
			c.Manual = manual
			return nil
		}
		var err error
		if p.Gate != nil {
			err = p.Gate.Do(ctx, run)
		} else {
			err = run()
		}
		if err != nil {
			return polynomial.Choice{}, err
		}
	}

	choice, err := polynomial.Resolve(c)
	if err != nil {
		return polynomial.Choice{}, fmt.Errorf("no spectral line found in the average image: %w", err)
	}
	return choice, nil
}

// frameRange widens the detected edges by margin frames on each side,
// within the video. Without edges every frame is kept.
func frameRange(e edges.Edges, margin, frameCount int) (int, int) {
	if !e.Found() {
		return 0, frameCount - 1
	}
	start, end := e.Start-margin, e.End+margin
	if start < 0 {
		start = 0
	}
	if end > frameCount-1 {
		end = frameCount - 1
	}
	return start, end
}

// internalShifts returns the detection shift unless it is already requested.
func internalShifts(requested []float64) []float64 {
	detection := requested[0] + DetectionShiftOffset
	for _, s := range requested {
		if s == detection {
			return nil
		}
	}
	return []float64{detection}
}
