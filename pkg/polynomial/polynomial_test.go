package polynomial

import (
	"errors"
	"math"
	"testing"

	"solexrecon/internal/models"
)

func sample(p Polynomial, xs []float64) []models.Point {
	points := make([]models.Point, len(xs))
	for i, x := range xs {
		points[i] = models.Point{X: x, Y: p.Eval(x)}
	}
	return points
}

func closeTo(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

func TestEval(t *testing.T) {
	p := Polynomial{A: 1, B: -2, C: 3, D: -4}
	tests := map[float64]float64{0: -4, 1: -2, 2: 2, -1: -10}
	for x, want := range tests {
		if got := p.Eval(x); got != want {
			t.Errorf("Eval(%v) = %v, want %v", x, got, want)
		}
	}
	if got := Constant(12.5).Eval(1000); got != 12.5 {
		t.Errorf("Constant(12.5).Eval = %v", got)
	}
}

func TestFitRecoversCoefficients(t *testing.T) {
	tests := []struct {
		name string
		want Polynomial
		xs   []float64
	}{
		{
			name: "typical line curvature over a wide sensor",
			want: Polynomial{A: 1e-9, B: -2e-5, C: 0.03, D: 120},
			xs:   rangeStep(100, 1900, 8),
		},
		{
			name: "straight line",
			want: Polynomial{D: 50},
			xs:   rangeStep(0, 256, 1),
		},
		{
			name: "exactly four points",
			want: Polynomial{A: 0.5, B: -1, C: 2, D: 3},
			xs:   []float64{-1, 0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fit(sample(tt.want, tt.xs))
			if err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			for _, x := range tt.xs {
				if !closeTo(got.Eval(x), tt.want.Eval(x), 1e-9) {
					t.Fatalf("fit(%v) = %v, want %v", x, got.Eval(x), tt.want.Eval(x))
				}
			}
			for i, c := range got.Coefficients() {
				want := tt.want.Coefficients()[i]
				if math.Abs(c-want) > 1e-6*math.Max(1, math.Abs(want)) {
					t.Errorf("coefficient %d = %v, want %v", i, c, want)
				}
			}
		})
	}
}

func TestFitLeastSquares(t *testing.T) {
	// symmetric noise around a line averages out
	var points []models.Point
	for x := 0.0; x < 100; x++ {
		noise := 0.5
		if int(x)%2 == 1 {
			noise = -0.5
		}
		points = append(points, models.Point{X: x, Y: 10 + noise}, models.Point{X: x, Y: 10 - noise})
	}
	p, err := Fit(points)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	for _, x := range []float64{0, 50, 99} {
		if !closeTo(p.Eval(x), 10, 1e-9) {
			t.Errorf("Eval(%v) = %v, want 10", x, p.Eval(x))
		}
	}
}

func TestFitTooFewPoints(t *testing.T) {
	tests := []struct {
		name   string
		points []models.Point
	}{
		{"none", nil},
		{"three", []models.Point{{X: 0}, {X: 1}, {X: 2}}},
		{"duplicated x", []models.Point{{X: 0}, {X: 1, Y: 1}, {X: 1, Y: 2}, {X: 2}, {X: 2, Y: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Fit(tt.points); !errors.Is(err, ErrTooFewPoints) {
				t.Errorf("expected ErrTooFewPoints, got %v", err)
			}
		})
	}
}

func TestFitDegree(t *testing.T) {
	points := []models.Point{{X: 1, Y: 3}, {X: 2, Y: 5}, {X: 3, Y: 7}}
	c, err := FitDegree(points, 1)
	if err != nil {
		t.Fatalf("FitDegree failed: %v", err)
	}
	if len(c) != 2 || !closeTo(c[0], 2, 1e-12) || !closeTo(c[1], 1, 1e-12) {
		t.Errorf("FitDegree = %v, want [2 1]", c)
	}
	if _, err := FitDegree(points, -1); err == nil {
		t.Error("expected error for negative degree")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Polynomial
		wantErr bool
	}{
		{in: "1,2,3,4", want: Polynomial{1, 2, 3, 4}},
		{in: " {1e-9, -2.5e-5, 0.03, 120} ", want: Polynomial{1e-9, -2.5e-5, 0.03, 120}},
		{in: "[0,0,0,-7.5]", want: Polynomial{D: -7.5}},
		{in: "1,2,3", wantErr: true},
		{in: "1,2,x,4", wantErr: true},
		{in: "1,2,NaN,4", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStringParses(t *testing.T) {
	p := Polynomial{A: 1.2345678901234e-9, B: -3e-5, C: 0.1, D: 240.5}
	back, err := Parse(p.String())
	if err != nil {
		t.Fatalf("Parse(String()) failed: %v", err)
	}
	if back != p {
		t.Errorf("Parse(String()) = %+v, want %+v", back, p)
	}
}

func TestResolve(t *testing.T) {
	manual := Polynomial{D: 1}
	forced := Polynomial{D: 2}
	detected := Polynomial{D: 3}
	fallback := Polynomial{D: 4}

	tests := []struct {
		name       string
		candidates Candidates
		want       Choice
	}{
		{"manual wins", Candidates{&manual, &forced, &detected, &fallback}, Choice{manual, ManuallyLocked}},
		{"forced over detected", Candidates{nil, &forced, &detected, &fallback}, Choice{forced, ForcedFromConfig}},
		{"detected", Candidates{nil, nil, &detected, &fallback}, Choice{detected, AutoDetected}},
		{"fallback", Candidates{Fallback: &fallback}, Choice{fallback, Fallback}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.candidates)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Resolve(Candidates{}); !errors.Is(err, ErrNoPolynomial) {
		t.Errorf("expected ErrNoPolynomial, got %v", err)
	}
}

func rangeStep(from, to, step float64) []float64 {
	var xs []float64
	for x := from; x < to; x += step {
		xs = append(xs, x)
	}
	return xs
}
