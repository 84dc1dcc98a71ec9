package sim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernel_Run_TimeReachesDeadlineAndStrictlyIncreases(t *testing.T) {
	// GIVEN a model with an always-enabled transition
	kernel := NewKernel[int](birthModel{rate: 3})
	recorder := sampling.NewTraceRecorder[int]()

	// WHEN it runs to deadline 10
	result, err := kernel.Run(rand.New(rand.NewSource(1)), 10, nil, recorder)

	// THEN the terminal time is >= deadline and every sample time strictly increases
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadline, result.Outcome)
	assert.GreaterOrEqual(t, result.Time, 10.0)
	points := recorder.Points()
	require.Len(t, points, result.Steps+1)
	assert.Equal(t, 0.0, points[0].Time)
	for i := 1; i < len(points); i++ {
		if points[i].Time <= points[i-1].Time {
			t.Fatalf("sample %d at %v not after %v", i, points[i].Time, points[i-1].Time)
		}
		assert.Equal(t, i, points[i].State)
	}
	end, ok := recorder.EndTime()
	require.True(t, ok)
	assert.Equal(t, result.Time, end)
}

func TestKernel_Run_NonPositiveDeadline_NoSteps(t *testing.T) {
	for _, deadline := range []float64{0, -1} {
		kernel := NewKernel[int](birthModel{rate: 1})
		recorder := sampling.NewTraceRecorder[int]()

		result, err := kernel.Run(rand.New(rand.NewSource(1)), deadline, nil, recorder)

		require.NoError(t, err)
		assert.Equal(t, 0, result.Steps)
		assert.Equal(t, 0.0, result.Time)
		require.Len(t, recorder.Points(), 1, "initial state is still recorded")
		end, ok := recorder.EndTime()
		assert.True(t, ok)
		assert.Equal(t, 0.0, end)
	}
}

func TestKernel_Run_AbsorptionStopsAtLastTransition(t *testing.T) {
	// GIVEN a decay chain of 5 transitions ending in an absorbing state
	kernel := NewKernel[int](decayModel{start: 5})
	recorder := sampling.NewTraceRecorder[int]()

	// WHEN run with a generous deadline
	result, err := kernel.Run(rand.New(rand.NewSource(7)), 1e9, nil, recorder)

	// THEN it absorbs after exactly 5 steps, time frozen at the last transition
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsorbed, result.Outcome)
	assert.Equal(t, 5, result.Steps)
	last, ok := recorder.Last()
	require.True(t, ok)
	assert.Equal(t, 0, last.State)
	assert.Equal(t, result.Time, last.Time)
	assert.Less(t, result.Time, 1e9)
}

func TestKernel_Run_AbsorbingInitialState(t *testing.T) {
	kernel := NewKernel[int](decayModel{start: 0})

	result, err := kernel.Run(rand.New(rand.NewSource(7)), 10, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsorbed, result.Outcome)
	assert.Equal(t, 0.0, result.Time)
	assert.Equal(t, 0, result.Steps)
}

func TestKernel_Run_ModelErrorFailsReplica(t *testing.T) {
	// GIVEN a model that errors on its fourth query
	kernel := NewKernel[int](failingModel{failAt: 3})
	recorder := sampling.NewTraceRecorder[int]()

	// WHEN it runs
	result, err := kernel.Run(rand.New(rand.NewSource(3)), 1e6, nil, recorder)

	// THEN the replica fails (not absorbed), keeps its time and the recorder is finalized
	require.Error(t, err)
	assert.True(t, eris.Is(err, errBroken))
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 3, result.Steps)
	end, ok := recorder.EndTime()
	require.True(t, ok)
	assert.Equal(t, result.Time, end)
}

func TestKernel_Run_InvalidWeightFailsReplica(t *testing.T) {
	for _, w := range []float64{-1, math.NaN(), math.Inf(1)} {
		kernel := NewKernel[int](failingModel{failAt: 0, weight: w})

		result, err := kernel.Run(rand.New(rand.NewSource(3)), 10, nil, nil)

		assert.True(t, eris.Is(err, ErrInvalidWeight), "weight %v: %v", w, err)
		assert.Equal(t, OutcomeFailed, result.Outcome)
	}
}

func TestKernel_Run_OverflowingTotalRateIsInconsistent(t *testing.T) {
	// GIVEN two finite rates whose sum overflows to +Inf
	kernel := NewKernel[int](overflowModel{})
	recorder := sampling.NewTraceRecorder[int]()

	// WHEN a replica runs
	result, err := kernel.Run(rand.New(rand.NewSource(3)), 10, nil, recorder)

	// THEN it fails as a model inconsistency without taking a step
	assert.True(t, eris.Is(err, ErrModelInconsistency), "got %v", err)
	assert.False(t, eris.Is(err, ErrInvalidWeight))
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 0, result.Steps)
	require.Len(t, recorder.Points(), 1)
}

func TestKernel_SelectActivity_OutsideIntervalsFails(t *testing.T) {
	ws := NewWeightedStructure[StepFunction[int]]()
	require.NoError(t, ws.Add(2, StepFunc[int](func(*rand.Rand, float64, float64) int { return 1 })))
	require.NoError(t, ws.Add(3, StepFunc[int](func(*rand.Rand, float64, float64) int { return 2 })))

	chosen, err := selectActivity(ws, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 2, chosen.Step(nil, 0, 0))

	for _, x := range []float64{-0.1, 5.5, math.NaN(), math.Inf(1)} {
		_, err := selectActivity(ws, x)
		assert.True(t, eris.Is(err, ErrSelectionFailed), "selection %v: %v", x, err)
	}
	_, err = selectActivity(NewWeightedStructure[StepFunction[int]](), 0)
	assert.True(t, eris.Is(err, ErrSelectionFailed))
}

func TestKernel_Run_CancellationFreezesAtCancelTime(t *testing.T) {
	// GIVEN a monitor that cancels once time passes 2
	kernel := NewKernel[int](birthModel{rate: 5})
	monitor := &cancelAfter{at: 2}
	recorder := sampling.NewTraceRecorder[int]()

	// WHEN the replica runs to deadline 100
	result, err := kernel.Run(rand.New(rand.NewSource(11)), 100, monitor, recorder)

	// THEN it stops at the cancellation step: last sample time == cancel time == End time
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, result.Outcome)
	last, ok := recorder.Last()
	require.True(t, ok)
	assert.Equal(t, monitor.lastUpdate, last.Time)
	assert.Equal(t, monitor.lastUpdate, result.Time)
	end, _ := recorder.EndTime()
	assert.Equal(t, result.Time, end)
	assert.GreaterOrEqual(t, result.Time, 2.0)
	assert.Less(t, result.Time, 100.0)
}

func TestKernel_Run_CancelledBeforeStart(t *testing.T) {
	kernel := NewKernel[int](birthModel{rate: 1})
	monitor := &CancelMonitor{}
	monitor.Cancel()

	result, err := kernel.Run(rand.New(rand.NewSource(1)), 10, monitor, nil)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Equal(t, 0, result.Steps)
}

func TestKernel_Step_SelectionFollowsWeights(t *testing.T) {
	// GIVEN two outcomes weighted 1:3
	kernel := NewKernel[int](choiceModel{w1: 1, w2: 3})
	rng := rand.New(rand.NewSource(5))
	counts := map[int]int{}

	// WHEN many single steps are drawn
	const n = 20000
	for i := 0; i < n; i++ {
		next, dt, absorbed, err := kernel.Step(rng, 0, 0)
		require.NoError(t, err)
		require.False(t, absorbed)
		require.Greater(t, dt, 0.0)
		counts[next]++
	}

	// THEN outcome frequencies match the weights
	assert.InDelta(t, 0.25, float64(counts[1])/n, 0.02)
	assert.InDelta(t, 0.75, float64(counts[2])/n, 0.02)
}

func TestKernel_Step_MeanWaitingTimeIsInverseRate(t *testing.T) {
	kernel := NewKernel[int](birthModel{rate: 4})
	rng := rand.New(rand.NewSource(9))
	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		_, dt, _, err := kernel.Step(rng, 0, 0)
		require.NoError(t, err)
		sum += dt
	}
	assert.InDelta(t, 0.25, sum/n, 0.01)
}

func TestKernel_Run_SeededReplayIsIdentical(t *testing.T) {
	run := func() []sampling.Point[int] {
		rec := sampling.NewTraceRecorder[int]()
		_, err := NewKernel[int](birthModel{rate: 2}).Run(rand.New(rand.NewSource(42)), 20, nil, rec)
		require.NoError(t, err)
		return rec.Points()
	}
	assert.Equal(t, run(), run())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "deadline", OutcomeDeadline.String())
	assert.Equal(t, "absorbed", OutcomeAbsorbed.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
