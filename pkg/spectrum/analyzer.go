// Package spectrum locates the spectral line inside a frame and fits the
// distortion polynomial that describes its curvature.
package spectrum

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"solexrecon/internal/models"
	"solexrecon/pkg/polynomial"
)

// Mode tells whether the line to follow is darker or brighter than the
// surrounding spectrum.
type Mode int

const (
	Absorption Mode = iota
	Emission
)

func (m Mode) String() string {
	if m == Emission {
		return "emission"
	}
	return "absorption"
}

// ParseMode reads "absorption" or "emission". An empty string is absorption.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "absorption":
		return Absorption, nil
	case "emission":
		return Emission, nil
	}
	return Absorption, fmt.Errorf("unknown line mode %q", s)
}

// AnalyzerParams tunes the line search.
type AnalyzerParams struct {
	// SunThreshold is the column average above which a column is inside
	// the solar disk
	SunThreshold float64

	// Mode selects absorption or emission lines
	Mode Mode

	// Step is the column spacing between samples
	Step int

	// MaxDeviation is the largest distance, in pixels, between a sample and
	// the first pass fit for the sample to be kept in the second pass
	MaxDeviation float64

	// Saturation rejects columns whose extremum is at or above this level
	Saturation float64

	// MinInlierRatio is the share of second pass columns that must agree
	// with the first pass fit. Below it the frame holds no usable line.
	MinInlierRatio float64
}

// DefaultAnalyzerParams returns the parameters used for Sol'Ex videos.
func DefaultAnalyzerParams() AnalyzerParams {
	return AnalyzerParams{
		SunThreshold:   5000,
		Mode:           Absorption,
		Step:           8,
		MaxDeviation:   10,
		Saturation:     0.95 * models.MaxPixelValue,
		MinInlierRatio: 0.5,
	}
}

// ErrEmptyFrame is returned when asked to analyze an empty buffer.
var ErrEmptyFrame = errors.New("empty frame")

// Analyzer finds the spectral line in a frame buffer.
type Analyzer struct {
	params AnalyzerParams
}

// NewAnalyzer creates an analyzer. Zero fields take their default value.
func NewAnalyzer(params AnalyzerParams) *Analyzer {
	def := DefaultAnalyzerParams()
	if params.SunThreshold <= 0 {
		params.SunThreshold = def.SunThreshold
	}
	if params.Step <= 0 {
		params.Step = def.Step
	}
	if params.MaxDeviation <= 0 {
		params.MaxDeviation = def.MaxDeviation
	}
	if params.Saturation <= 0 {
		params.Saturation = def.Saturation
	}
	if params.MinInlierRatio <= 0 {
		params.MinInlierRatio = def.MinInlierRatio
	}
	return &Analyzer{params: params}
}

// Params returns the effective parameters.
func (a *Analyzer) Params() AnalyzerParams {
	return a.params
}

// Result is the outcome of the analysis of one frame.
type Result struct {
	Width  int
	Height int

	// Avg, Min and Max describe the intensity of the whole frame
	Avg float64
	Min float64
	Max float64

	// SamplePoints are the line positions the polynomial was fitted on
	SamplePoints []models.Point

	// ResidualStdDev is the standard deviation of the fit residuals over
	// the sample points, 0 when there is no polynomial
	ResidualStdDev float64

	left, right int
	hasBorders  bool
	polynomial  *polynomial.Polynomial
}

// DistortionPolynomial returns the fitted polynomial, if any.
func (r *Result) DistortionPolynomial() (polynomial.Polynomial, bool) {
	if r.polynomial == nil {
		return polynomial.Polynomial{}, false
	}
	return *r.polynomial, true
}

// SunBorders returns the first and last columns inside the solar disk.
func (r *Result) SunBorders() (left, right int, ok bool) {
	return r.left, r.right, r.hasBorders
}

// Analyze locates the spectral line in buf. Failing to find a line is not
// an error: the result then has no distortion polynomial.
func (a *Analyzer) Analyze(buf *models.Buffer) (*Result, error) {
	if buf == nil || buf.Width == 0 || buf.Height == 0 {
		return nil, ErrEmptyFrame
	}
	w, h := buf.Width, buf.Height

	values := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		values[i] = float64(v)
	}
	res := &Result{
		Width:  w,
		Height: h,
		Avg:    stat.Mean(values, nil),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
	}

	column := make([]float64, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			column[y] = values[y*w+x]
		}
		if stat.Mean(column, nil) > a.params.SunThreshold {
			if !res.hasBorders {
				res.left = x
				res.hasBorders = true
			}
			res.right = x
		}
	}

	l, r := 0, w
	if res.hasBorders {
		l, r = res.left, res.right+1
	}
	a.fit(res, values, l, r)
	return res, nil
}

func (a *Analyzer) fit(res *Result, values []float64, l, r int) {
	limit := (r - l) / 4
	all := a.samples(res, values, l, r)

	// first pass: the central half of the disk only
	first, err := polynomial.Fit(a.samples(res, values, l+limit, r-limit))
	if err != nil {
		// not enough in the centre, seed with the whole width
		if first, err = polynomial.Fit(all); err != nil {
			res.SamplePoints = all
			return
		}
	}

	var inliers []models.Point
	for _, pt := range all {
		if math.Abs(first.Eval(pt.X)-pt.Y) < a.params.MaxDeviation {
			inliers = append(inliers, pt)
		}
	}
	a.accept(res, inliers, len(all))
}

// samples returns the line position of every step-th column in [from, to).
func (a *Analyzer) samples(res *Result, values []float64, from, to int) []models.Point {
	var points []models.Point
	for x := from; x < to; x += a.params.Step {
		if y, ok := a.linePosition(values, res.Width, res.Height, x); ok {
			points = append(points, models.Point{X: float64(x), Y: y})
		}
	}
	return points
}

// accept fits the final polynomial when enough candidates agree on it.
func (a *Analyzer) accept(res *Result, points []models.Point, candidates int) {
	res.SamplePoints = points
	if candidates == 0 || float64(len(points)) < a.params.MinInlierRatio*float64(candidates) {
		return
	}
	p, err := polynomial.Fit(points)
	if err != nil {
		return
	}
	res.polynomial = &p

	residuals := make(stats.Float64Data, len(points))
	for i, pt := range points {
		residuals[i] = pt.Y - p.Eval(pt.X)
	}
	if sd, err := stats.StandardDeviation(residuals); err == nil {
		res.ResidualStdDev = sd
	}
}

// linePosition returns the sub-pixel row of the line in column x. A flat
// extremum gives the centre of the plateau, a sharp one is refined with a
// parabola through its neighbours. Saturated columns are rejected.
func (a *Analyzer) linePosition(values []float64, w, h, x int) (float64, bool) {
	sign := 1.0
	if a.params.Mode == Emission {
		sign = -1
	}
	best, bestY := math.Inf(1), -1
	for y := 0; y < h; y++ {
		if v := sign * values[y*w+x]; v < best {
			best, bestY = v, y
		}
	}
	if bestY < 0 || sign*best >= a.params.Saturation {
		return 0, false
	}

	end := bestY
	for end+1 < h && sign*values[(end+1)*w+x] == best {
		end++
	}
	if end > bestY {
		return float64(bestY+end) / 2, true
	}
	if bestY == 0 || bestY == h-1 {
		return float64(bestY), true
	}
	prev := sign * values[(bestY-1)*w+x]
	next := sign * values[(bestY+1)*w+x]
	denom := prev - 2*best + next
	if denom <= 0 {
		return float64(bestY), true
	}
	offset := 0.5 * (prev - next) / denom
	return float64(bestY) + math.Max(-0.5, math.Min(0.5, offset)), true
}

// FitManualPoints fits a polynomial through points picked by an operator,
// with the same regression as automatic detection.
func FitManualPoints(points []models.Point) (polynomial.Polynomial, error) {
	return polynomial.Fit(points)
}

// DistanceToLine returns how far (x, y) lies from the line described by p,
// positive below it.
func DistanceToLine(p polynomial.Polynomial, x, y float64) float64 {
	return y - p.Eval(x)
}
