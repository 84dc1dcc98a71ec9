// Package sampling provides sampling functions that observe replica runs and fold
// their observations into aggregated time series.
// This package has no dependencies on sim/: it only sees (time, state) pairs.
package sampling

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Summary is a running aggregate of scalar observations (Welford's algorithm).
// Raw observations are never retained.
type Summary struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	M2   float64 `json:"m2"` // sum of squared deviations from the mean
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Add folds one observation into the summary.
func (s *Summary) Add(x float64) {
	if s.N == 0 {
		s.Min, s.Max = x, x
	} else {
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
	}
	s.N++
	delta := x - s.Mean
	s.Mean += delta / float64(s.N)
	s.M2 += delta * (x - s.Mean)
}

// Merge folds another summary into s (Chan et al. parallel update).
func (s *Summary) Merge(o Summary) {
	if o.N == 0 {
		return
	}
	if s.N == 0 {
		*s = o
		return
	}
	n := s.N + o.N
	delta := o.Mean - s.Mean
	s.Mean += delta * float64(o.N) / float64(n)
	s.M2 += o.M2 + delta*delta*float64(s.N)*float64(o.N)/float64(n)
	s.Min = math.Min(s.Min, o.Min)
	s.Max = math.Max(s.Max, o.Max)
	s.N = n
}

// Variance returns the unbiased sample variance (0 with fewer than 2 observations).
func (s Summary) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	return s.M2 / float64(s.N-1)
}

// StdDev returns the sample standard deviation.
func (s Summary) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// ConfidenceInterval returns the Student-t confidence interval of the mean at the given
// level (e.g. 0.95). With fewer than 2 observations the interval collapses to the mean.
func (s Summary) ConfidenceInterval(level float64) (lo, hi float64) {
	if s.N < 2 || level <= 0 || level >= 1 {
		return s.Mean, s.Mean
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(s.N - 1)}
	half := t.Quantile(1-(1-level)/2) * s.StdDev() / math.Sqrt(float64(s.N))
	return s.Mean - half, s.Mean + half
}
