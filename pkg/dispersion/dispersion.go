package dispersion

import (
	"fmt"
	"math"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 299792.458

// Dispersion is the wavelength covered by one sensor pixel.
type Dispersion struct {
	NanosPerPixel float64
}

// AngstromsPerPixel returns the dispersion in Å/px.
func (d Dispersion) AngstromsPerPixel() float64 {
	return 10 * d.NanosPerPixel
}

// Known reports whether the dispersion is usable. An unknown dispersion
// means wavelengths cannot be derived, and pixel shifts are reported as is.
func (d Dispersion) Known() bool {
	return d.NanosPerPixel > 0 && !math.IsInf(d.NanosPerPixel, 0) && !math.IsNaN(d.NanosPerPixel)
}

// Compute returns the dispersion of the instrument at wavelength lambda0 (nm)
// for a camera with the given pixel size (µm) and binning. Invalid inputs
// give an unknown dispersion.
func Compute(inst Instrument, lambda0, pixelSize float64, binning int) Dispersion {
	if inst.Validate() != nil || lambda0 <= 0 || pixelSize <= 0 || binning <= 0 {
		return Dispersion{}
	}
	totalAngle := inst.TotalAngleDegrees * math.Pi / 180
	alpha := math.Asin(float64(inst.Order*inst.Density)*lambda0/(2_000_000*math.Cos(totalAngle/2))) + totalAngle/2
	beta := alpha - totalAngle
	nm := 1000 * pixelSize * float64(binning) * math.Cos(beta) / float64(inst.Density) / inst.FocalLength
	d := Dispersion{NanosPerPixel: nm}
	if !d.Known() {
		return Dispersion{}
	}
	return d
}

// Calculator converts pixel shifts around a reference line. The dispersion
// is computed once, at creation.
type Calculator struct {
	// Lambda0 is the reference wavelength, in nanometers
	Lambda0 float64

	Dispersion Dispersion
}

// NewCalculator computes the dispersion for inst and returns a calculator
// centred on lambda0 (nm).
func NewCalculator(inst Instrument, lambda0, pixelSize float64, binning int) *Calculator {
	return &Calculator{
		Lambda0:    lambda0,
		Dispersion: Compute(inst, lambda0, pixelSize, binning),
	}
}

// Known reports whether wavelengths can be derived.
func (c *Calculator) Known() bool {
	return c != nil && c.Lambda0 > 0 && c.Dispersion.Known()
}

// Wavelength returns the wavelength, in nanometers, sampled at shift pixels
// from the reference line.
func (c *Calculator) Wavelength(shift float64) (float64, bool) {
	if !c.Known() {
		return 0, false
	}
	return c.Lambda0 + shift*c.Dispersion.NanosPerPixel, true
}

// PixelShift returns the shift needed to sample the target wavelength (nm),
// rounded to a tenth of a pixel.
func (c *Calculator) PixelShift(target float64) (float64, bool) {
	if !c.Known() {
		return 0, false
	}
	shift := (target - c.Lambda0) / c.Dispersion.NanosPerPixel
	return math.Round(shift*10) / 10, true
}

// DopplerSpeed returns the line of sight speed, in km/s, matching a shift
// of the line by shift pixels.
func (c *Calculator) DopplerSpeed(shift float64) (float64, bool) {
	if !c.Known() {
		return 0, false
	}
	return SpeedOfLight * shift * c.Dispersion.AngstromsPerPixel() / (10 * c.Lambda0), true
}

// Describe labels a pixel shift with its wavelength, or with the raw shift
// when the dispersion is unknown.
func (c *Calculator) Describe(shift float64) string {
	wl, ok := c.Wavelength(shift)
	if !ok {
		return fmt.Sprintf("%+g px", shift)
	}
	return fmt.Sprintf("%.3f nm (%+.3f Å)", wl, shift*c.Dispersion.AngstromsPerPixel())
}
