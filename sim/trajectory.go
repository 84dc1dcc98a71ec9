package sim

import "time"

// TrajectoryPoint is one visited state and the time it was entered.
type TrajectoryPoint[S any] struct {
	Time  float64
	State S
}

// Trajectory is the ordered sequence of states visited by one replica.
// It is appended to only by the Task that owns it and is read-only once the run ends.
type Trajectory[S any] struct {
	points         []TrajectoryPoint[S]
	start          float64
	end            float64
	outcome        Outcome
	succeeded      bool
	generationTime time.Duration
}

func newTrajectory[S any]() *Trajectory[S] {
	return &Trajectory[S]{}
}

func (t *Trajectory[S]) add(time float64, state S) {
	if len(t.points) == 0 {
		t.start = time
	}
	t.points = append(t.points, TrajectoryPoint[S]{Time: time, State: state})
	t.end = time
}

// Len returns the number of recorded points.
func (t *Trajectory[S]) Len() int {
	return len(t.points)
}

// Points returns a copy of the recorded points.
func (t *Trajectory[S]) Points() []TrajectoryPoint[S] {
	out := make([]TrajectoryPoint[S], len(t.points))
	copy(out, t.points)
	return out
}

// At returns the i-th recorded point.
func (t *Trajectory[S]) At(i int) TrajectoryPoint[S] {
	return t.points[i]
}

// Last returns the final recorded point.
func (t *Trajectory[S]) Last() (TrajectoryPoint[S], bool) {
	if len(t.points) == 0 {
		return TrajectoryPoint[S]{}, false
	}
	return t.points[len(t.points)-1], true
}

// Start returns the time of the first point.
func (t *Trajectory[S]) Start() float64 { return t.start }

// End returns the time of the last point.
func (t *Trajectory[S]) End() float64 { return t.end }

// Outcome returns why the producing run stopped.
func (t *Trajectory[S]) Outcome() Outcome { return t.outcome }

// Succeeded reports whether the reach predicate held at the end of the run.
func (t *Trajectory[S]) Succeeded() bool { return t.succeeded }

// GenerationTime returns the wall-clock time spent producing the trajectory.
func (t *Trajectory[S]) GenerationTime() time.Duration { return t.generationTime }
