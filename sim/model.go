package sim

import "math/rand"

// Model is the pluggable description of a continuous-time Markov process over states S.
// A Model carries no simulation state: one instance is shared read-only by every replica.
type Model[S any] interface {
	// InitialState returns the canonical state every replica starts from.
	InitialState() S

	// Activities returns the transitions enabled in state, weighted by their rates.
	// An empty structure marks an absorbing state. A non-nil error reports a model
	// inconsistency and fails the current replica.
	Activities(rng *rand.Rand, state S) (*WeightedStructure[StepFunction[S]], error)
}

// StepFunction computes the state reached when its transition fires at time now after
// a waiting time dt.
type StepFunction[S any] interface {
	Step(rng *rand.Rand, now, dt float64) S
}

// StepFunc adapts an ordinary function to the StepFunction interface.
type StepFunc[S any] func(rng *rand.Rand, now, dt float64) S

// Step implements StepFunction.
func (f StepFunc[S]) Step(rng *rand.Rand, now, dt float64) S {
	return f(rng, now, dt)
}

// Predicate reports whether a state satisfies a condition.
type Predicate[S any] func(state S) bool

// True returns a predicate that holds in every state.
func True[S any]() Predicate[S] {
	return func(S) bool { return true }
}

// Monitor observes a batch of replicas and may cancel it. The kernel only reads it.
type Monitor interface {
	Cancelled() bool
	StartIteration(i int)
	EndSimulation(i int)
	Update(time float64)
}
