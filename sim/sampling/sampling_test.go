package sampling

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(x float64) float64 { return x }

func TestSummary_MatchesDirectComputation(t *testing.T) {
	// GIVEN a known sample
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	// WHEN folded one by one
	var s Summary
	for _, v := range values {
		s.Add(v)
	}

	// THEN mean, variance and extrema match the textbook values
	assert.Equal(t, 8, s.N)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 32.0/7.0, s.Variance(), 1e-12)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
}

func TestSummary_MergeEqualsSequentialFold(t *testing.T) {
	var all, left, right Summary
	for i := 0; i < 50; i++ {
		x := math.Sin(float64(i))
		all.Add(x)
		if i < 20 {
			left.Add(x)
		} else {
			right.Add(x)
		}
	}

	merged := left
	merged.Merge(right)
	reversed := right
	reversed.Merge(left)

	for _, got := range []Summary{merged, reversed} {
		assert.Equal(t, all.N, got.N)
		assert.InDelta(t, all.Mean, got.Mean, 1e-12)
		assert.InDelta(t, all.Variance(), got.Variance(), 1e-12)
		assert.Equal(t, all.Min, got.Min)
		assert.Equal(t, all.Max, got.Max)
	}
}

func TestSummary_MergeEmpty(t *testing.T) {
	var s Summary
	s.Add(3)
	s.Merge(Summary{})
	assert.Equal(t, 1, s.N)

	var empty Summary
	empty.Merge(s)
	assert.Equal(t, s, empty)
}

func TestSummary_ConfidenceInterval(t *testing.T) {
	var s Summary
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Add(v)
	}
	lo, hi := s.ConfidenceInterval(0.95)
	// t(0.975, 4) = 2.776; sd = 1.5811; half = 2.776*1.5811/sqrt(5) = 1.963
	assert.InDelta(t, 3-1.963, lo, 1e-3)
	assert.InDelta(t, 3+1.963, hi, 1e-3)

	var single Summary
	single.Add(7)
	lo, hi = single.ConfidenceInterval(0.95)
	assert.Equal(t, 7.0, lo)
	assert.Equal(t, 7.0, hi)
}

func TestStatisticSampling_StepFunctionOnGrid(t *testing.T) {
	// GIVEN a grid 0, 1, 2, 3, 4
	s := NewStatisticSampling("x", 5, 1.0, identity)

	// WHEN a replica holds 10 on [0, 1.5), 20 on [1.5, 3) and 30 from 3 until it stops at 3.2
	s.Start()
	s.Sample(0, 10)
	s.Sample(1.5, 20)
	s.Sample(3, 30)
	s.End(3.2)

	// THEN each grid point sees the state held at that time, and the tail gets the last value
	ts := s.TimeSeries()
	require.Len(t, ts, 1)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, ts[0].Times)
	assert.Equal(t, []float64{10, 10, 20, 30, 30}, ts[0].Means())
	for _, p := range ts[0].Points {
		assert.Equal(t, 1, p.N)
	}
}

func TestStatisticSampling_AggregatesAcrossReplicas(t *testing.T) {
	s := Measure("x", 4, 4.0, identity)

	s.Start()
	s.Sample(0, 0)
	s.End(0) // absorbed immediately

	s.Start()
	s.Sample(0, 2)
	s.Sample(2.5, 4)
	s.End(4)

	ts := s.TimeSeries()[0]
	assert.Equal(t, []float64{1, 1, 1, 2}, ts.Means())
	for _, p := range ts.Points {
		assert.Equal(t, 2, p.N, "every replica contributes to every point")
	}
}

func TestStatisticSampling_EndWithoutSamplesIsNoop(t *testing.T) {
	s := Measure("x", 3, 3.0, identity)
	s.Start()
	s.End(1)
	for _, p := range s.TimeSeries()[0].Points {
		assert.Equal(t, 0, p.N)
	}
}

func TestStatisticSampling_FreshAndMerge(t *testing.T) {
	// GIVEN an aggregate and two per-replica partials
	agg := Measure("x", 3, 3.0, identity)
	a := agg.Fresh()
	b := agg.Fresh()

	a.Start()
	a.Sample(0, 1)
	a.End(3)
	b.Start()
	b.Sample(0, 3)
	b.End(3)

	// WHEN merged in either order
	require.NoError(t, agg.Merge(b))
	require.NoError(t, agg.Merge(a))

	// THEN the aggregate is the across-replica mean
	assert.Equal(t, []float64{2, 2, 2}, agg.TimeSeries()[0].Means())
}

func TestStatisticSampling_MergeRejectsDifferentGrid(t *testing.T) {
	a := Measure("x", 3, 3.0, identity)
	b := Measure("x", 4, 3.0, identity)
	err := a.Merge(b)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrIncompatible))
}

func TestCollection_SamplesEveryMember(t *testing.T) {
	c := NewCollection[float64](
		Measure("x", 2, 2.0, identity),
		Measure("double", 2, 2.0, func(x float64) float64 { return 2 * x }),
	)
	c.Start()
	c.Sample(0, 1)
	c.End(2)

	ts := c.TimeSeries()
	require.Len(t, ts, 2)
	assert.Equal(t, "x", ts[0].Name)
	assert.Equal(t, []float64{1, 1}, ts[0].Means())
	assert.Equal(t, []float64{2, 2}, ts[1].Means())
}

func TestIsMergeable(t *testing.T) {
	assert.True(t, IsMergeable[float64](Measure("x", 2, 2.0, identity)))
	assert.False(t, IsMergeable[float64](NewTraceRecorder[float64]()))
	assert.True(t, IsMergeable[float64](NewCollection[float64](Measure("x", 2, 2.0, identity))))
	assert.False(t, IsMergeable[float64](NewCollection[float64](
		Measure("x", 2, 2.0, identity), NewTraceRecorder[float64]())))
}

func TestCollection_FreshAndMerge(t *testing.T) {
	c := NewCollection[float64](Measure("x", 2, 2.0, identity))
	part := c.Fresh()
	part.Start()
	part.Sample(0, 5)
	part.End(2)

	require.NoError(t, c.Merge(part))
	assert.Equal(t, []float64{5, 5}, c.TimeSeries()[0].Means())
}

func TestTraceRecorder_RecordsAndResets(t *testing.T) {
	r := NewTraceRecorder[string]()
	r.Start()
	r.Sample(0, "a")
	r.Sample(1.5, "b")
	r.End(1.5)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 1.5, last.Time)
	assert.Equal(t, "b", last.State)
	end, ended := r.EndTime()
	assert.True(t, ended)
	assert.Equal(t, 1.5, end)
	assert.Len(t, r.Points(), 2)
	assert.Nil(t, r.TimeSeries())

	r.Start()
	assert.Empty(t, r.Points())
	_, ended = r.EndTime()
	assert.False(t, ended)
}

func TestMergeAll(t *testing.T) {
	a := Measure("x", 2, 2.0, identity)
	a.Start()
	a.Sample(0, 1)
	a.End(2)
	b := Measure("x", 2, 2.0, identity)
	b.Start()
	b.Sample(0, 3)
	b.End(2)

	merged, err := MergeAll(nil, a.TimeSeries())
	require.NoError(t, err)
	merged, err = MergeAll(merged, b.TimeSeries())
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, merged[0].Means())

	// the source series is not aliased
	assert.Equal(t, []float64{1, 1}, a.TimeSeries()[0].Means())

	_, err = MergeAll(merged, append(b.TimeSeries(), b.TimeSeries()...))
	assert.True(t, eris.Is(err, ErrIncompatible))
}
