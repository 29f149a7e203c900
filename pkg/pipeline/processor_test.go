package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"solexrecon/internal/models"
	"solexrecon/pkg/config"
	"solexrecon/pkg/edges"
	"solexrecon/pkg/polynomial"
	"solexrecon/pkg/video"
)

const (
	testWidth  = 128
	testHeight = 40
	lineRow    = 20
)

// sunVideo builds a video where the sun crosses the slit between frames
// from and to. Sun frames hold an absorption line on row lineRow.
func sunVideo(frames, from, to int) *video.MemorySource {
	buffers := make([]*models.Buffer, frames)
	for i := range buffers {
		b := models.NewBuffer(testWidth, testHeight)
		for y := 0; y < testHeight; y++ {
			v := float32(100)
			if i >= from && i <= to {
				d := float64(y - lineRow)
				v = float32(20000 - 15000*math.Exp(-d*d/2))
			}
			for x := 0; x < testWidth; x++ {
				b.Set(x, y, v)
			}
		}
		buffers[i] = b
	}
	return video.NewMono16Source(buffers)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processing.NumWorkers = 4
	cfg.Processing.Margin = 5
	cfg.Spectrum.PixelShifts = []float64{0, 3}
	cfg.Output.Verbose = false
	return cfg
}

func TestProcess(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig()
	cfg.Output.Verbose = true
	p := &Processor{Config: cfg, Logger: log.New(&logs, "", 0)}

	res, err := p.Process(context.Background(), sunVideo(120, 30, 89))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Edges.Start != 30 || res.Edges.End != 89 {
		t.Errorf("edges = %v, want [30, 89]", res.Edges.Edges)
	}
	if res.Start != 25 || res.End != 94 {
		t.Errorf("range = %d..%d, want 25..94", res.Start, res.End)
	}
	if res.Average.Dark != 60 || res.Average.Frames != 60 {
		t.Errorf("average used %d frames and rejected %d", res.Average.Frames, res.Average.Dark)
	}
	if res.Polynomial.Source != polynomial.AutoDetected {
		t.Errorf("polynomial source = %v, want auto-detected", res.Polynomial.Source)
	}
	if y := res.Polynomial.Eval(64); math.Abs(y-lineRow) > 0.01 {
		t.Errorf("line found at %g, want %d", y, lineRow)
	}

	if len(res.Images) != 3 {
		t.Fatalf("got %d images, want 2 requested and 1 internal", len(res.Images))
	}
	requested := res.Requested()
	if len(requested) != 2 {
		t.Fatalf("got %d requested images, want 2", len(requested))
	}
	detection := res.DetectionImage()
	if detection == nil || !detection.Internal || detection.PixelShift != -6 {
		t.Fatalf("unexpected detection image %+v", detection)
	}

	center, wing := requested[0], requested[1]
	if center.Height != 70 || center.StartFrame != 25 {
		t.Errorf("image has %d rows from frame %d, want 70 from 25", center.Height, center.StartFrame)
	}
	// row 5 is frame 30, the first sun frame
	if v := center.At(64, 5); math.Abs(float64(v)-5000) > 1 {
		t.Errorf("line core = %v, want 5000", v)
	}
	if v := wing.At(64, 5); v < 19800 {
		t.Errorf("wing = %v, want the continuum", v)
	}
	if v := center.At(64, 1); v != 100 {
		t.Errorf("frame before the sun = %v, want 100", v)
	}
	if !strings.HasPrefix(center.Wavelength, "656.281 nm") {
		t.Errorf("center image labelled %q", center.Wavelength)
	}

	out := logs.String()
	for _, step := range []string{"Step 1:", "Step 4:", "Step 6:"} {
		if !strings.Contains(out, step) {
			t.Errorf("log is missing %q:\n%s", step, out)
		}
	}
}

func TestProcessUsesConfigSnapshot(t *testing.T) {
	cfg := testConfig()
	p := &Processor{Config: cfg}

	res, err := p.Process(context.Background(), sunVideo(60, 10, 49))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Config == cfg {
		t.Fatal("result should hold a copy of the configuration")
	}
	cfg.Spectrum.PixelShifts[0] = 42
	if res.Config.Spectrum.PixelShifts[0] != 0 {
		t.Error("changing the configuration after the pass changed the snapshot")
	}
}

func TestProcessPolynomialSources(t *testing.T) {
	t.Run("forced", func(t *testing.T) {
		cfg := testConfig()
		cfg.Polynomial.Forced = "0,0,0,23"
		res, err := (&Processor{Config: cfg}).Process(context.Background(), sunVideo(60, 10, 49))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if res.Polynomial.Source != polynomial.ForcedFromConfig {
			t.Errorf("source = %v, want forced", res.Polynomial.Source)
		}
		// sampling 3 rows away from the line core
		if v := res.Images[0].At(10, 20); v < 19800 {
			t.Errorf("sample = %v, want the continuum", v)
		}
	})

	t.Run("manual", func(t *testing.T) {
		var review Review
		p := &Processor{
			Config: testConfig(),
			Reviewer: func(_ context.Context, r Review) (*polynomial.Polynomial, error) {
				review = r
				manual, err := polynomial.Fit([]models.Point{{X: 0, Y: 21}, {X: 40, Y: 21}, {X: 80, Y: 21}, {X: 120, Y: 21}})
				return &manual, err
			},
		}
		res, err := p.Process(context.Background(), sunVideo(60, 10, 49))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if review.Proposed == nil || review.Proposed.Source != polynomial.AutoDetected {
			t.Errorf("reviewer was offered %+v, want the detected polynomial", review.Proposed)
		}
		if review.Average == nil || review.Analysis == nil {
			t.Error("reviewer should see the average image and its analysis")
		}
		if res.Polynomial.Source != polynomial.ManuallyLocked {
			t.Errorf("source = %v, want manual", res.Polynomial.Source)
		}
		if y := res.Polynomial.Eval(64); math.Abs(y-21) > 1e-6 {
			t.Errorf("manual polynomial gives %g, want 21", y)
		}
	})

	t.Run("reviewer keeps the proposal", func(t *testing.T) {
		p := &Processor{
			Config: testConfig(),
			Reviewer: func(context.Context, Review) (*polynomial.Polynomial, error) {
				return nil, nil
			},
		}
		res, err := p.Process(context.Background(), sunVideo(60, 10, 49))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if res.Polynomial.Source != polynomial.AutoDetected {
			t.Errorf("source = %v, want auto-detected", res.Polynomial.Source)
		}
	})

	t.Run("reviewer error", func(t *testing.T) {
		boom := errors.New("operator closed the window")
		p := &Processor{
			Config: testConfig(),
			Reviewer: func(context.Context, Review) (*polynomial.Polynomial, error) {
				return nil, boom
			},
		}
		if _, err := p.Process(context.Background(), sunVideo(60, 10, 49)); !errors.Is(err, boom) {
			t.Errorf("expected the reviewer error, got %v", err)
		}
	})
}

// saturatedVideo has no usable line and no sun edges.
func saturatedVideo() *video.MemorySource {
	buffers := make([]*models.Buffer, 30)
	for i := range buffers {
		buffers[i] = models.NewBuffer(32, 16)
		buffers[i].Fill(models.MaxPixelValue)
	}
	return video.NewMono16Source(buffers)
}

func TestProcessFallback(t *testing.T) {
	cfg := testConfig()
	res, err := (&Processor{Config: cfg}).Process(context.Background(), saturatedVideo())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Edges.Found() {
		t.Errorf("edges should not be found, got %v", res.Edges.Edges)
	}
	if res.Start != 0 || res.End != 29 {
		t.Errorf("range = %d..%d, want every frame", res.Start, res.End)
	}
	if res.Polynomial.Source != polynomial.Fallback || res.Polynomial.Eval(5) != 8 {
		t.Errorf("unexpected fallback %s", res.Polynomial)
	}

	cfg.Polynomial.Fallback = config.FallbackFail
	if _, err := (&Processor{Config: cfg}).Process(context.Background(), saturatedVideo()); !errors.Is(err, polynomial.ErrNoPolynomial) {
		t.Errorf("expected ErrNoPolynomial, got %v", err)
	}
}

func TestProcessDetectionShiftAlreadyRequested(t *testing.T) {
	cfg := testConfig()
	cfg.Spectrum.PixelShifts = []float64{0, -6}
	res, err := (&Processor{Config: cfg}).Process(context.Background(), sunVideo(60, 10, 49))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Images) != 2 {
		t.Errorf("got %d images, want 2", len(res.Images))
	}
	if img := res.DetectionImage(); img == nil || img.Internal {
		t.Errorf("detection image should be the requested one, got %+v", img)
	}
}

func TestProcessUnknownDispersion(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no pixel size", func(c *config.Config) { c.Spectrum.PixelSize = 0 }},
		{"no instrument", func(c *config.Config) { c.Spectrum.Instrument = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			res, err := (&Processor{Config: cfg}).Process(context.Background(), sunVideo(60, 10, 49))
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if res.Calculator.Known() {
				t.Errorf("expected an unknown dispersion, got %+v", res.Calculator.Dispersion)
			}
			if got := res.Images[1].Wavelength; got != "+3 px" {
				t.Errorf("label = %q, want +3 px", got)
			}
		})
	}
}

func TestProcessErrors(t *testing.T) {
	t.Run("no configuration", func(t *testing.T) {
		if _, err := (&Processor{}).Process(context.Background(), sunVideo(10, 0, 9)); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("invalid configuration", func(t *testing.T) {
		cfg := testConfig()
		cfg.Spectrum.Binning = 0
		if _, err := (&Processor{Config: cfg}).Process(context.Background(), sunVideo(10, 0, 9)); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unknown instrument", func(t *testing.T) {
		cfg := testConfig()
		cfg.Spectrum.Instrument = "Spectro 3000"
		if _, err := (&Processor{Config: cfg}).Process(context.Background(), sunVideo(60, 10, 49)); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := (&Processor{Config: testConfig()}).Process(ctx, sunVideo(60, 10, 49))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestProcessorsShareGate(t *testing.T) {
	gate := NewGate()
	var active, maxActive int32
	reviewer := func(context.Context, Review) (*polynomial.Polynomial, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		return nil, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &Processor{Config: testConfig(), Gate: gate, Reviewer: reviewer}
			_, errs[i] = p.Process(context.Background(), sunVideo(40, 5, 34))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("processor %d failed: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&maxActive); n != 1 {
		t.Errorf("%d reviews were open at once", n)
	}
}

func TestGate(t *testing.T) {
	gate := NewGate()

	held := make(chan struct{})
	release := make(chan struct{})
	go gate.Do(context.Background(), func() error {
		close(held)
		<-release
		return nil
	})
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	if err := gate.Do(ctx, func() error { ran = true; return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("fn ran while the gate was held")
	}
	close(release)

	boom := errors.New("boom")
	if err := gate.Do(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected fn error, got %v", err)
	}
}

func TestFrameRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		margin     int
		wantStart  int
		wantEnd    int
	}{
		{"inside", 100, 200, 40, 60, 240},
		{"clamped", 10, 290, 40, 0, 299},
		{"no margin", 50, 60, 0, 50, 60},
		{"not found", -1, -1, 40, 0, 299},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := frameRange(edges.Edges{Start: tt.start, End: tt.end}, tt.margin, 300)
			if s != tt.wantStart || e != tt.wantEnd {
				t.Errorf("frameRange = %d..%d, want %d..%d", s, e, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestInternalShifts(t *testing.T) {
	if got := internalShifts([]float64{0, 2}); len(got) != 1 || got[0] != -6 {
		t.Errorf("internalShifts = %v, want [-6]", got)
	}
	if got := internalShifts([]float64{1.5}); len(got) != 1 || got[0] != -4.5 {
		t.Errorf("internalShifts = %v, want [-4.5]", got)
	}
	if got := internalShifts([]float64{3, -3}); got != nil {
		t.Errorf("internalShifts = %v, want none", got)
	}
}
