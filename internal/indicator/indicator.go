package indicator

// Indicator is the interface for all technical indicators.
type Indicator interface {
	Name() string
	Calculate(values []float64, params ...float64) ([]float64, error)
}

// The series functions below return slices aligned with their input, with the
// warmup prefix filled with NaN. Callers must NaN-check before reading.
