package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"solexrecon/pkg/config"
	"solexrecon/pkg/diagnostics"
	"solexrecon/pkg/export"
	"solexrecon/pkg/pipeline"
	"solexrecon/pkg/progress"
	"solexrecon/pkg/ser"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "solexrecon.yaml", "Path to the YAML configuration file")
	outputDir := flag.String("out", "", "Directory to save the reconstructed images (overrides output.dir)")
	shifts := flag.String("shifts", "", "Comma separated pixel shifts to reconstruct (overrides spectrum.pixelShifts)")
	debug := flag.Bool("debug", false, "Save the edge detection and line fit plots")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] video.ser...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *debug {
		cfg.Output.DebugPlots = true
	}
	if *shifts != "" {
		cfg.Spectrum.PixelShifts, err = parseShifts(*shifts)
		if err != nil {
			log.Fatalf("Invalid -shifts: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("SPECTROHELIOGRAPH VIDEO RECONSTRUCTION")
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	processor := &pipeline.Processor{
		Config:   cfg,
		Progress: progress.NewBar(os.Stderr),
	}

	failed := 0
	for _, path := range flag.Args() {
		if err := processFile(ctx, processor, path); err != nil {
			log.Printf("Error: %s: %v", path, err)
			failed++
			if ctx.Err() != nil {
				break
			}
		}
	}
	if failed > 0 {
		stop()
		os.Exit(1)
	}
}

func processFile(ctx context.Context, processor *pipeline.Processor, path string) error {
	reader, err := ser.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	h := reader.Header()
	fmt.Printf("\nProcessing %s\n", path)
	if h.Observer != "" || h.Telescope != "" {
		fmt.Printf("Observer: %s, telescope: %s, instrument: %s\n", h.Observer, h.Telescope, h.Instrument)
	}
	if !h.DateTimeUTC.IsZero() {
		fmt.Printf("Recorded at %s\n", h.DateTimeUTC.Format(time.RFC3339))
	}

	res, err := processor.Process(ctx, reader)
	if err != nil {
		return err
	}
	cfg := res.Config

	fmt.Printf("\nReconstruction completed in %.2f seconds\n", res.Duration.Seconds())
	fmt.Printf("- Sun edges: %s, frames %d to %d\n", res.Edges.Edges, res.Start, res.End)
	fmt.Printf("- Distortion polynomial: %s\n", res.Polynomial)
	if res.Calculator.Known() {
		fmt.Printf("- Dispersion: %.4f Å/px\n", res.Calculator.Dispersion.AngstromsPerPixel())
	}

	for _, img := range res.Images {
		out := filepath.Join(cfg.Output.Dir, export.FileName(path, img))
		if err := export.WriteTIFF(img, out); err != nil {
			return err
		}
		fmt.Printf("- %s: %s\n", img.Wavelength, out)
	}

	if cfg.Output.DebugPlots {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		debugDir := filepath.Join(cfg.Output.Dir, "debug")
		if err := os.MkdirAll(debugDir, 0755); err != nil {
			return err
		}
		if err := diagnostics.PlotMagnitudes(res.Edges, filepath.Join(debugDir, base+"_edges.png")); err != nil {
			log.Printf("Warning: Failed to save edge plot: %v", err)
		}
		if err := diagnostics.PlotLineFit(res.Analysis, res.Polynomial.Polynomial, filepath.Join(debugDir, base+"_line.png")); err != nil {
			log.Printf("Warning: Failed to save line fit plot: %v", err)
		}
		if err := diagnostics.SavePreview(res.Average.Buffer, filepath.Join(debugDir, base+"_average.jpg")); err != nil {
			log.Printf("Warning: Failed to save average image: %v", err)
		}
		fmt.Printf("Debug images saved to: %s\n", debugDir)
	}
	return nil
}

func parseShifts(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
