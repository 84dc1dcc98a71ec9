package sampling

import (
	"github.com/rotisserie/eris"
)

// StatisticSampling measures one scalar quantity on a fixed grid of sampling times
// 0, dt, 2dt, ... and aggregates it across replicas.
//
// The state of a replica is a step function of time: grid point g receives the
// measure of the state held at g, i.e. the last state sampled at a time <= g.
// End fills the grid points beyond the replica's horizon with its last value, so
// replicas of uneven length fold into one finite series.
type StatisticSampling[S any] struct {
	name    string
	dt      float64
	measure func(S) float64
	data    []Summary

	nextIndex int
	last      float64
	hasLast   bool
}

// NewStatisticSampling creates a sampling of samplings points spaced dt apart.
func NewStatisticSampling[S any](name string, samplings int, dt float64, measure func(S) float64) *StatisticSampling[S] {
	if samplings < 0 {
		samplings = 0
	}
	return &StatisticSampling[S]{
		name:    name,
		dt:      dt,
		measure: measure,
		data:    make([]Summary, samplings),
	}
}

// Measure creates a sampling of samplings points covering [0, deadline).
func Measure[S any](name string, samplings int, deadline float64, measure func(S) float64) *StatisticSampling[S] {
	dt := 0.0
	if samplings > 0 {
		dt = deadline / float64(samplings)
	}
	return NewStatisticSampling(name, samplings, dt, measure)
}

// Name returns the measure name.
func (s *StatisticSampling[S]) Name() string {
	return s.name
}

func (s *StatisticSampling[S]) Start() {
	s.nextIndex = 0
	s.hasLast = false
}

func (s *StatisticSampling[S]) Sample(time float64, state S) {
	if s.hasLast {
		for s.nextIndex < len(s.data) && s.gridTime(s.nextIndex) < time {
			s.record()
		}
	}
	s.last = s.measure(state)
	s.hasLast = true
}

func (s *StatisticSampling[S]) End(time float64) {
	if !s.hasLast {
		return
	}
	for s.nextIndex < len(s.data) {
		s.record()
	}
}

func (s *StatisticSampling[S]) TimeSeries() []*TimeSeries {
	ts := &TimeSeries{
		Name:   s.name,
		Times:  make([]float64, len(s.data)),
		Points: make([]Summary, len(s.data)),
	}
	for i := range s.data {
		ts.Times[i] = s.gridTime(i)
	}
	copy(ts.Points, s.data)
	return []*TimeSeries{ts}
}

// Fresh returns an empty sampling with the same grid and measure.
func (s *StatisticSampling[S]) Fresh() Function[S] {
	return NewStatisticSampling(s.name, len(s.data), s.dt, s.measure)
}

// Merge folds the per-point summaries of other into s.
func (s *StatisticSampling[S]) Merge(other Function[S]) error {
	o, ok := other.(*StatisticSampling[S])
	if !ok {
		return eris.Wrapf(ErrIncompatible, "cannot merge %T into %q", other, s.name)
	}
	if len(o.data) != len(s.data) || o.dt != s.dt {
		return eris.Wrapf(ErrIncompatible, "grid of %q differs", s.name)
	}
	for i := range s.data {
		s.data[i].Merge(o.data[i])
	}
	return nil
}

func (s *StatisticSampling[S]) record() {
	s.data[s.nextIndex].Add(s.last)
	s.nextIndex++
}

func (s *StatisticSampling[S]) gridTime(i int) float64 {
	return float64(i) * s.dt
}
