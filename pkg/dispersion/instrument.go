// Package dispersion converts between pixel shifts on the sensor and
// wavelengths, from the optical parameters of the spectroheliograph.
package dispersion

import (
	"fmt"
	"os"
	"strings"

	json "github.com/KevinWang15/go-json5"
)

// Instrument describes a spectroheliograph.
type Instrument struct {
	Label string `json:"label" yaml:"label"`

	// TotalAngleDegrees is the angle between the collimator and camera axes
	TotalAngleDegrees float64 `json:"totalAngleDegrees" yaml:"totalAngleDegrees"`

	// FocalLength is the camera lens focal length, in millimeters
	FocalLength float64 `json:"focalLength" yaml:"focalLength"`

	// CollimatorFocalLength is in millimeters
	CollimatorFocalLength float64 `json:"collimatorFocalLength" yaml:"collimatorFocalLength"`

	// Density is the grating density in lines per millimeter
	Density int `json:"density" yaml:"density"`

	// Order is the diffraction order
	Order int `json:"order" yaml:"order"`

	SlitWidthMicrons      float64 `json:"slitWidthMicrons" yaml:"slitWidthMicrons"`
	SlitHeightMillimeters float64 `json:"slitHeightMillimeters" yaml:"slitHeightMillimeters"`

	// SpectrumVFlip is set when the instrument mirrors the spectrum vertically
	SpectrumVFlip bool `json:"spectrumVFlip" yaml:"spectrumVFlip"`
}

var (
	SolEx         = Instrument{"Sol'Ex", 34, 125, 80, 2400, 1, 10, 4.5, false}
	Sunscan       = Instrument{"Sunscan", 34, 100, 75, 2400, 1, 10, 6, true}
	SolEx7        = Instrument{"Sol'Ex (7μm/6mm slit)", 34, 125, 80, 2400, 1, 7, 6, false}
	SolEx10       = Instrument{"Sol'Ex (10μm/6mm slit)", 34, 125, 80, 2400, 1, 10, 6, false}
	MLAstroSHG700 = Instrument{"MLAstro SHG 700", 34, 72, 72, 2400, 1, 7, 7, false}
	MLAstroSHG400 = Instrument{"MLAstro SHG 400", 34, 100, 100, 2400, 1, 7, 7, false}
)

// Presets returns the built-in instruments.
func Presets() []Instrument {
	return []Instrument{SolEx, Sunscan, SolEx7, SolEx10, MLAstroSHG700, MLAstroSHG400}
}

// Validate checks that the instrument can produce a dispersion.
func (i Instrument) Validate() error {
	if i.FocalLength <= 0 {
		return fmt.Errorf("instrument %q: focal length must be positive", i.Label)
	}
	if i.Density <= 0 {
		return fmt.Errorf("instrument %q: grating density must be positive", i.Label)
	}
	if i.Order == 0 {
		return fmt.Errorf("instrument %q: diffraction order must not be zero", i.Label)
	}
	return nil
}

// Lookup finds an instrument by label, ignoring case, in the catalog first
// and then in the presets.
func Lookup(label string, catalog []Instrument) (Instrument, bool) {
	for _, list := range [][]Instrument{catalog, Presets()} {
		for _, inst := range list {
			if strings.EqualFold(strings.TrimSpace(inst.Label), strings.TrimSpace(label)) {
				return inst, true
			}
		}
	}
	return Instrument{}, false
}

// LoadCatalog reads user instruments from a JSON5 file holding an array of
// instruments. Comments and trailing commas are allowed.
func LoadCatalog(path string) ([]Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading instrument catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a JSON5 instrument array.
func ParseCatalog(data []byte) ([]Instrument, error) {
	var instruments []Instrument
	if err := json.Unmarshal(data, &instruments); err != nil {
		return nil, fmt.Errorf("error parsing instrument catalog: %w", err)
	}
	for _, inst := range instruments {
		if inst.Label == "" {
			return nil, fmt.Errorf("instrument catalog: entry without label")
		}
		if err := inst.Validate(); err != nil {
			return nil, err
		}
	}
	return instruments, nil
}

// Line is a well known solar spectral line.
type Line struct {
	Label string

	// Wavelength is in nanometers
	Wavelength float64
}

var knownLines = []Line{
	{"Calcium (K)", 393.366},
	{"Calcium (H)", 396.847},
	{"Calcium+Iron+CH (G)", 430.782},
	{"H-beta", 486.134},
	{"Magnesium (b1)", 518.362},
	{"Iron (E2)", 527.039},
	{"Mercury (e)", 546.073},
	{"Helium (D3)", 587.562},
	{"Sodium (D2)", 588.995},
	{"Sodium (D1)", 589.592},
	{"H-alpha", 656.281},
}

// KnownLines returns the predefined lines sorted by wavelength.
func KnownLines() []Line {
	out := make([]Line, len(knownLines))
	copy(out, knownLines)
	return out
}

// LookupLine finds a known line by label, ignoring case.
func LookupLine(label string) (Line, bool) {
	for _, l := range knownLines {
		if strings.EqualFold(l.Label, strings.TrimSpace(label)) {
			return l, true
		}
	}
	return Line{}, false
}
