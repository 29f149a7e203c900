// Package config provides configuration loading and management for solexrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"solexrecon/pkg/dispersion"
	"solexrecon/pkg/polynomial"
	"solexrecon/pkg/reconstruction"
	"solexrecon/pkg/spectrum"
)

// Polynomial fallbacks used when no line could be detected.
const (
	FallbackFail   = "fail"
	FallbackCenter = "center"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is the number of goroutines decoding frames
		NumWorkers int `yaml:"numWorkers"`

		// Window caps the number of frames held in memory during reconstruction.
		// 0 lets the reconstructor pick.
		Window int `yaml:"window"`

		// FramePolicy is "fail" or "blank"
		FramePolicy string `yaml:"framePolicy"`

		// Margin is the number of frames kept on each side of the detected disk
		Margin int `yaml:"margin"`
	} `yaml:"processing"`

	// Sun edge and spectral line detection
	Detection struct {
		// Sensitivity divides the magnitude range to get the edge threshold
		Sensitivity float64 `yaml:"sensitivity"`

		// SunThreshold is the column average above which a column is lit by the sun
		SunThreshold float64 `yaml:"sunThreshold"`

		// LineMode is "absorption" or "emission"
		LineMode string `yaml:"lineMode"`

		SampleStep   int     `yaml:"sampleStep"`
		MaxDeviation float64 `yaml:"maxDeviation"`
	} `yaml:"detection"`

	// Average image parameters
	Average struct {
		// DarkFrameRatio rejects frames darker than this share of the brightest one
		DarkFrameRatio float64 `yaml:"darkFrameRatio"`

		ProgressEvery int `yaml:"progressEvery"`
	} `yaml:"average"`

	// Instrument and wavelength parameters
	Spectrum struct {
		// Line is the label of a known spectral line, used when Wavelength is 0
		Line string `yaml:"line"`

		// Wavelength of the observed line in nanometers
		Wavelength float64 `yaml:"wavelength"`

		// PixelSize of the camera in micrometers
		PixelSize float64 `yaml:"pixelSize"`

		Binning int `yaml:"binning"`

		// Instrument is the label of a preset or of an entry of InstrumentsFile
		Instrument string `yaml:"instrument"`

		// InstrumentsFile is an optional JSON5 catalog of instruments
		InstrumentsFile string `yaml:"instrumentsFile"`

		// PixelShifts lists the images to reconstruct
		PixelShifts []float64 `yaml:"pixelShifts"`
	} `yaml:"spectrum"`

	// Distortion polynomial selection
	Polynomial struct {
		// Forced replaces the detected polynomial, as "a,b,c,d"
		Forced string `yaml:"forced"`

		// Fallback is "fail" or "center"
		Fallback string `yaml:"fallback"`
	} `yaml:"polynomial"`

	// Output parameters
	Output struct {
		Dir string `yaml:"dir"`

		// DebugPlots saves the magnitude and line fit plots
		DebugPlots bool `yaml:"debugPlots"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Window = 0
	cfg.Processing.FramePolicy = reconstruction.FailFast.String()
	cfg.Processing.Margin = 40

	def := spectrum.DefaultAnalyzerParams()
	cfg.Detection.Sensitivity = 50
	cfg.Detection.SunThreshold = def.SunThreshold
	cfg.Detection.LineMode = def.Mode.String()
	cfg.Detection.SampleStep = def.Step
	cfg.Detection.MaxDeviation = def.MaxDeviation

	cfg.Average.DarkFrameRatio = 0.5
	cfg.Average.ProgressEvery = 16

	cfg.Spectrum.Line = "H-alpha"
	cfg.Spectrum.PixelSize = 2.4
	cfg.Spectrum.Binning = 1
	cfg.Spectrum.Instrument = dispersion.SolEx.Label
	cfg.Spectrum.PixelShifts = []float64{0}

	cfg.Polynomial.Fallback = FallbackCenter

	cfg.Output.Dir = "output"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Processing.NumWorkers >= 0, "processing.numWorkers must not be negative")
	check(c.Processing.Window >= 0, "processing.window must not be negative")
	check(c.Processing.Margin >= 0, "processing.margin must not be negative")
	if _, err := reconstruction.ParseFramePolicy(c.Processing.FramePolicy); err != nil {
		errs = append(errs, fmt.Errorf("processing.framePolicy: %w", err))
	}

	check(c.Detection.Sensitivity >= 0, "detection.sensitivity must not be negative")
	check(c.Detection.SunThreshold >= 0, "detection.sunThreshold must not be negative")
	check(c.Detection.SampleStep >= 0, "detection.sampleStep must not be negative")
	check(c.Detection.MaxDeviation >= 0, "detection.maxDeviation must not be negative")
	if _, err := spectrum.ParseMode(c.Detection.LineMode); err != nil {
		errs = append(errs, fmt.Errorf("detection.lineMode: %w", err))
	}

	check(c.Average.DarkFrameRatio >= 0 && c.Average.DarkFrameRatio < 1,
		"average.darkFrameRatio must be in [0, 1), got %g", c.Average.DarkFrameRatio)
	check(c.Average.ProgressEvery >= 0, "average.progressEvery must not be negative")

	check(c.Spectrum.Wavelength >= 0, "spectrum.wavelength must not be negative")
	check(c.Spectrum.PixelSize >= 0, "spectrum.pixelSize must not be negative")
	check(c.Spectrum.Binning >= 1, "spectrum.binning must be at least 1")
	if c.Spectrum.Wavelength == 0 && c.Spectrum.Line != "" {
		_, ok := dispersion.LookupLine(c.Spectrum.Line)
		check(ok, "spectrum.line: unknown line %q", c.Spectrum.Line)
	}
	if c.Spectrum.Instrument != "" {
		if _, err := c.ResolveInstrument(); err != nil {
			errs = append(errs, fmt.Errorf("spectrum.instrument: %w", err))
		}
	}
	check(len(c.Spectrum.PixelShifts) > 0, "spectrum.pixelShifts must not be empty")
	for _, s := range c.Spectrum.PixelShifts {
		check(!math.IsNaN(s) && !math.IsInf(s, 0), "spectrum.pixelShifts: invalid shift %g", s)
	}

	if c.Polynomial.Forced != "" {
		if _, err := polynomial.Parse(c.Polynomial.Forced); err != nil {
			errs = append(errs, fmt.Errorf("polynomial.forced: %w", err))
		}
	}
	check(c.Polynomial.Fallback == FallbackFail || c.Polynomial.Fallback == FallbackCenter,
		"polynomial.fallback must be %q or %q, got %q", FallbackFail, FallbackCenter, c.Polynomial.Fallback)

	return errors.Join(errs...)
}

// Wavelength returns the observed wavelength in nanometers, from the
// explicit value or the configured line. 0 means unknown.
func (c *Config) Wavelength() float64 {
	if c.Spectrum.Wavelength > 0 {
		return c.Spectrum.Wavelength
	}
	if l, ok := dispersion.LookupLine(c.Spectrum.Line); ok {
		return l.Wavelength
	}
	return 0
}

// ResolveInstrument finds the configured instrument among the presets and
// the optional catalog file. An empty label resolves to the zero
// Instrument, for which the dispersion is unknown.
func (c *Config) ResolveInstrument() (dispersion.Instrument, error) {
	if c.Spectrum.Instrument == "" {
		return dispersion.Instrument{}, nil
	}
	var catalog []dispersion.Instrument
	if c.Spectrum.InstrumentsFile != "" {
		var err error
		catalog, err = dispersion.LoadCatalog(c.Spectrum.InstrumentsFile)
		if err != nil {
			return dispersion.Instrument{}, err
		}
	}
	inst, ok := dispersion.Lookup(c.Spectrum.Instrument, catalog)
	if !ok {
		return dispersion.Instrument{}, fmt.Errorf("unknown instrument %q", c.Spectrum.Instrument)
	}
	return inst, nil
}
