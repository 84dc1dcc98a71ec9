package sim

import (
	"math/rand"
	"time"
)

// Task runs one replica in predicate/trajectory mode and records every visited state.
//
// With a reach predicate the run stops as soon as it holds; with a transient predicate
// the run stops as soon as it no longer holds. Without predicates the run records
// states until deadline or absorption. After the run the final state is checked against
// the reach predicate to set the reached flag.
//
// The deadline bounds the time a step starts from, not the time it ends at: the final
// step may land at or past the deadline, and a reach state entered by that step still
// counts as reached.
type Task[S any] struct {
	kernel    *Kernel[S]
	rng       *rand.Rand
	deadline  float64
	transient Predicate[S]
	reach     Predicate[S]

	trajectory *Trajectory[S]
	result     RunResult
	reached    bool
	done       bool
}

// NewTask creates a plain trajectory-capture task.
func NewTask[S any](kernel *Kernel[S], rng *rand.Rand, deadline float64) *Task[S] {
	return &Task[S]{kernel: kernel, rng: rng, deadline: deadline}
}

// NewReachTask creates a task that stops when reach holds.
func NewReachTask[S any](kernel *Kernel[S], rng *rand.Rand, deadline float64, reach Predicate[S]) *Task[S] {
	return &Task[S]{kernel: kernel, rng: rng, deadline: deadline, reach: reach}
}

// NewUntilTask creates a task checking "transient until reach".
func NewUntilTask[S any](kernel *Kernel[S], rng *rand.Rand, deadline float64, transient, reach Predicate[S]) *Task[S] {
	return &Task[S]{kernel: kernel, rng: rng, deadline: deadline, transient: transient, reach: reach}
}

// Run executes the task. It may be called once; later calls return the first result.
func (t *Task[S]) Run() (RunResult, error) {
	if t.done {
		return t.result, nil
	}
	t.done = true
	started := time.Now()
	t.trajectory = newTrajectory[S]()
	defer func() {
		t.trajectory.outcome = t.result.Outcome
		t.trajectory.succeeded = t.reached
		t.trajectory.generationTime = time.Since(started)
	}()

	state := t.kernel.model.InitialState()
	t.trajectory.add(0, state)
	t.result = RunResult{Outcome: OutcomeDeadline}

	for t.result.Time < t.deadline {
		if t.reach != nil && t.reach(state) {
			t.result.Outcome = OutcomeReached
			break
		}
		if t.transient != nil && !t.transient(state) {
			t.result.Outcome = OutcomeViolated
			break
		}
		next, dt, absorbed, err := t.kernel.Step(t.rng, t.result.Time, state)
		if err != nil {
			t.result.Outcome = OutcomeFailed
			return t.result, err
		}
		if absorbed {
			t.result.Outcome = OutcomeAbsorbed
			break
		}
		state = next
		t.result.Time += dt
		t.result.Steps++
		t.trajectory.add(t.result.Time, state)
	}

	if t.reach != nil {
		t.reached = t.reach(state)
		if t.reached {
			t.result.Outcome = OutcomeReached
		}
	}
	return t.result, nil
}

// Reached reports whether the reach predicate held at the end of the run.
func (t *Task[S]) Reached() bool {
	return t.reached
}

// Trajectory returns the recorded trajectory (nil before Run).
func (t *Task[S]) Trajectory() *Trajectory[S] {
	return t.trajectory
}

// Result returns the run summary.
func (t *Task[S]) Result() RunResult {
	return t.result
}
