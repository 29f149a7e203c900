package polynomial

import "fmt"

// Source tells where the polynomial used for a pass came from. Higher
// values take priority.
type Source int

const (
	// Fallback is a last resort configured by the user, typically a flat
	// line through the middle of the frame
	Fallback Source = iota

	// AutoDetected comes from the analysis of the average image
	AutoDetected

	// ForcedFromConfig was given in the processing configuration
	ForcedFromConfig

	// ManuallyLocked was fitted through points picked by an operator
	ManuallyLocked
)

func (s Source) String() string {
	switch s {
	case Fallback:
		return "fallback"
	case AutoDetected:
		return "auto-detected"
	case ForcedFromConfig:
		return "forced"
	case ManuallyLocked:
		return "manual"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Choice is the polynomial picked for a pass together with its origin.
type Choice struct {
	Polynomial
	Source Source
}

func (c Choice) String() string {
	return fmt.Sprintf("%s (%s)", c.Polynomial, c.Source)
}

// Candidates gathers every polynomial available to a pass. Nil means the
// source did not produce one.
type Candidates struct {
	Manual   *Polynomial
	Forced   *Polynomial
	Detected *Polynomial
	Fallback *Polynomial
}

// Resolve picks the candidate with the highest priority. It is called once
// per pass, so every frame of the pass uses the same polynomial.
func Resolve(c Candidates) (Choice, error) {
	ordered := []struct {
		p      *Polynomial
		source Source
	}{
		{c.Manual, ManuallyLocked},
		{c.Forced, ForcedFromConfig},
		{c.Detected, AutoDetected},
		{c.Fallback, Fallback},
	}
	for _, o := range ordered {
		if o.p != nil {
			return Choice{Polynomial: *o.p, Source: o.source}, nil
		}
	}
	return Choice{}, ErrNoPolynomial
}
