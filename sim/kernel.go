// sim/kernel.go
package sim

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/sirupsen/logrus"
)

// Outcome tells why a replica stopped.
type Outcome int

const (
	// OutcomeDeadline: simulated time reached the deadline.
	OutcomeDeadline Outcome = iota
	// OutcomeAbsorbed: no transition was enabled (total rate 0).
	OutcomeAbsorbed
	// OutcomeCancelled: the monitor cancelled the run.
	OutcomeCancelled
	// OutcomeReached: the reach predicate became true.
	OutcomeReached
	// OutcomeViolated: the transient predicate stopped holding before the reach predicate held.
	OutcomeViolated
	// OutcomeFailed: the model was inconsistent; the run carries an error.
	OutcomeFailed
)

var outcomeNames = map[Outcome]string{
	OutcomeDeadline:  "deadline",
	OutcomeAbsorbed:  "absorbed",
	OutcomeCancelled: "cancelled",
	OutcomeReached:   "reached",
	OutcomeViolated:  "violated",
	OutcomeFailed:    "failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// RunResult summarizes one replica run.
type RunResult struct {
	Time    float64 // terminal simulated time
	Steps   int     // number of transitions fired
	Outcome Outcome
}

// Kernel advances states of one Model with the SSA direct method.
// A Kernel holds no per-replica state and may be shared by concurrent replicas.
type Kernel[S any] struct {
	model Model[S]
}

// NewKernel creates a kernel for model.
func NewKernel[S any](model Model[S]) *Kernel[S] {
	return &Kernel[S]{model: model}
}

// Model returns the model driven by the kernel.
func (k *Kernel[S]) Model() Model[S] {
	return k.model
}

// Step performs one SSA step from state at time now.
// It returns the next state and the elapsed time; absorbed is true (and state is
// returned unchanged with dt == 0) when no transition is enabled.
func (k *Kernel[S]) Step(rng *rand.Rand, now float64, state S) (next S, dt float64, absorbed bool, err error) {
	activities, err := k.model.Activities(rng, state)
	if err != nil {
		return state, 0, false, eris.Wrap(err, "querying activities")
	}
	totalRate := activities.TotalWeight()
	if totalRate == 0 {
		return state, 0, true, nil
	}
	if math.IsNaN(totalRate) || math.IsInf(totalRate, 0) || totalRate < 0 {
		return state, 0, false, eris.Wrapf(ErrModelInconsistency, "total rate %v", totalRate)
	}

	dt = (1.0 / totalRate) * math.Log(1/openUniform(rng))
	chosen, err := selectActivity(activities, rng.Float64()*totalRate)
	if err != nil {
		return state, 0, false, err
	}
	return chosen.Step(rng, now, dt), dt, false, nil
}

// selectActivity picks the activity whose cumulative rate interval contains selection.
// A selection that falls outside every interval is a model inconsistency.
func selectActivity[S any](activities *WeightedStructure[StepFunction[S]], selection float64) (StepFunction[S], error) {
	chosen, ok := activities.Select(selection)
	if !ok {
		return nil, eris.Wrapf(ErrSelectionFailed, "selection %v of total %v over %d activities",
			selection, activities.TotalWeight(), activities.Len())
	}
	return chosen.Element, nil
}

// Run simulates one replica from the model's initial state until deadline, absorption,
// cancellation or a model failure. recorder (optional) gets Start, Sample(0, s0), one
// Sample per step and End(terminal time), also on cancellation and failure.
// monitor is optional; it is consulted before every step and never mutated.
func (k *Kernel[S]) Run(rng *rand.Rand, deadline float64, monitor Monitor, recorder sampling.Function[S]) (RunResult, error) {
	state := k.model.InitialState()
	result := RunResult{Outcome: OutcomeDeadline}
	if recorder != nil {
		recorder.Start()
		recorder.Sample(0, state)
	}
	defer func() {
		if recorder != nil {
			recorder.End(result.Time)
		}
	}()

	for result.Time < deadline {
		if monitor != nil && monitor.Cancelled() {
			result.Outcome = OutcomeCancelled
			return result, nil
		}
		next, dt, absorbed, err := k.Step(rng, result.Time, state)
		if err != nil {
			result.Outcome = OutcomeFailed
			logrus.Debugf("[t=%.4f] replica failed after %d steps: %v", result.Time, result.Steps, err)
			return result, err
		}
		if absorbed {
			result.Outcome = OutcomeAbsorbed
			return result, nil
		}
		state = next
		result.Time += dt
		result.Steps++
		if monitor != nil && !monitor.Cancelled() {
			monitor.Update(result.Time)
		}
		if recorder != nil {
			recorder.Sample(result.Time, state)
		}
	}
	return result, nil
}

// openUniform draws from the uniform distribution on (0, 1).
func openUniform(rng *rand.Rand) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return u
}
