// Package polynomial models the cubic curve followed by a spectral line
// across a frame, and fits it to sample points by least squares.
package polynomial

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"solexrecon/internal/models"
)

var (
	// ErrTooFewPoints is returned when a fit has fewer distinct x values
	// than unknown coefficients.
	ErrTooFewPoints = errors.New("not enough points for regression")

	// ErrSingular is returned when the regression system cannot be solved.
	ErrSingular = errors.New("singular regression system")

	// ErrNoPolynomial is returned when no polynomial source is available.
	ErrNoPolynomial = errors.New("no distortion polynomial available")
)

// Polynomial is y = A·x³ + B·x² + C·x + D, where x is the position along the
// slit and y the position of the spectral line along the dispersion axis.
type Polynomial struct {
	A, B, C, D float64
}

// Constant returns the flat polynomial y = d.
func Constant(d float64) Polynomial {
	return Polynomial{D: d}
}

// Eval evaluates the polynomial at x.
func (p Polynomial) Eval(x float64) float64 {
	return ((p.A*x+p.B)*x+p.C)*x + p.D
}

// Coefficients returns the coefficients, highest power first.
func (p Polynomial) Coefficients() []float64 {
	return []float64{p.A, p.B, p.C, p.D}
}

// String formats the polynomial as "a,b,c,d", the form accepted by Parse.
func (p Polynomial) String() string {
	parts := make([]string, 4)
	for i, c := range p.Coefficients() {
		parts[i] = strconv.FormatFloat(c, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Parse reads four comma separated coefficients, highest power first.
// Surrounding braces or brackets are allowed.
func Parse(s string) (Polynomial, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "{")
	trimmed = strings.TrimSuffix(trimmed, "}")
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")

	fields := strings.Split(trimmed, ",")
	if len(fields) != 4 {
		return Polynomial{}, fmt.Errorf("polynomial %q: expected 4 coefficients, got %d", s, len(fields))
	}
	var c [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Polynomial{}, fmt.Errorf("polynomial %q: %w", s, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Polynomial{}, fmt.Errorf("polynomial %q: coefficient %d is not finite", s, i)
		}
		c[i] = v
	}
	return Polynomial{A: c[0], B: c[1], C: c[2], D: c[3]}, nil
}

// Fit returns the least squares cubic through points.
func Fit(points []models.Point) (Polynomial, error) {
	c, err := FitDegree(points, 3)
	if err != nil {
		return Polynomial{}, err
	}
	return Polynomial{A: c[0], B: c[1], C: c[2], D: c[3]}, nil
}

// FitDegree returns the coefficients of the least squares polynomial of the
// given degree, highest power first. It needs at least degree+1 distinct x
// values.
//
// x is centred and scaled to [-1, 1] before the Vandermonde system is solved
// by QR, then the coefficients are expanded back to powers of x.
func FitDegree(points []models.Point, degree int) ([]float64, error) {
	if degree < 0 {
		return nil, fmt.Errorf("invalid degree %d", degree)
	}
	if distinctX(points) < degree+1 {
		return nil, fmt.Errorf("%d points for degree %d: %w", len(points), degree, ErrTooFewPoints)
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
	}
	center := (minX + maxX) / 2
	scale := (maxX - minX) / 2
	if scale == 0 {
		scale = 1
	}

	n := degree + 1
	a := mat.NewDense(len(points), n, nil)
	b := mat.NewVecDense(len(points), nil)
	for i, p := range points {
		u := (p.X - center) / scale
		v := 1.0
		for j := 0; j < n; j++ {
			a.Set(i, j, v)
			v *= u
		}
		b.SetVec(i, p.Y)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSingular)
	}

	// expand sum b_j ((x - center) / scale)^j into powers of x
	ascending := make([]float64, n)
	for j := 0; j < n; j++ {
		bj := sol.AtVec(j) / math.Pow(scale, float64(j))
		for m := 0; m <= j; m++ {
			ascending[m] += bj * binomial(j, m) * math.Pow(-center, float64(j-m))
		}
	}
	out := make([]float64, n)
	for j, c := range ascending {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, ErrSingular
		}
		out[n-1-j] = c
	}
	return out, nil
}

func distinctX(points []models.Point) int {
	seen := make(map[float64]struct{}, len(points))
	for _, p := range points {
		seen[p.X] = struct{}{}
	}
	return len(seen)
}

func binomial(n, k int) float64 {
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}
