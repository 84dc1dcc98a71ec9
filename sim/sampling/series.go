package sampling

import (
	"github.com/rotisserie/eris"
)

// TimeSeries is a finished, across-replica aggregate of one measured quantity.
type TimeSeries struct {
	Name   string    `json:"name"`
	Times  []float64 `json:"times"`
	Points []Summary `json:"points"`
}

// Len returns the number of sampled time points.
func (ts *TimeSeries) Len() int {
	return len(ts.Times)
}

// Means returns the mean at every time point.
func (ts *TimeSeries) Means() []float64 {
	out := make([]float64, len(ts.Points))
	for i, p := range ts.Points {
		out[i] = p.Mean
	}
	return out
}

// Merge folds another series of the same name and grid into ts.
func (ts *TimeSeries) Merge(other *TimeSeries) error {
	if other.Name != ts.Name || len(other.Times) != len(ts.Times) {
		return eris.Wrapf(ErrIncompatible, "series %q vs %q", ts.Name, other.Name)
	}
	for i := range ts.Times {
		if ts.Times[i] != other.Times[i] {
			return eris.Wrapf(ErrIncompatible, "series %q: time %d differs", ts.Name, i)
		}
	}
	for i := range ts.Points {
		ts.Points[i].Merge(other.Points[i])
	}
	return nil
}

// MergeAll folds src into dst series by position. A nil or empty dst adopts copies of src.
func MergeAll(dst, src []*TimeSeries) ([]*TimeSeries, error) {
	if len(dst) == 0 {
		out := make([]*TimeSeries, len(src))
		for i, s := range src {
			out[i] = s.clone()
		}
		return out, nil
	}
	if len(dst) != len(src) {
		return dst, eris.Wrapf(ErrIncompatible, "%d series vs %d", len(dst), len(src))
	}
	for i := range dst {
		if err := dst[i].Merge(src[i]); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func (ts *TimeSeries) clone() *TimeSeries {
	c := &TimeSeries{
		Name:   ts.Name,
		Times:  make([]float64, len(ts.Times)),
		Points: make([]Summary, len(ts.Points)),
	}
	copy(c.Times, ts.Times)
	copy(c.Points, ts.Points)
	return c
}
