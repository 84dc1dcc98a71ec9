package sim

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EnvironmentConfig configures an Environment.
type EnvironmentConfig struct {
	Seed int64
	// Parallelism is the number of replicas run concurrently. Values <= 1 run
	// sequentially from a single random stream.
	Parallelism int
}

// ReplicaStats counts replica outcomes of one or more batches.
type ReplicaStats struct {
	Completed int `json:"completed"` // deadline reached or absorbed
	Absorbed  int `json:"absorbed"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	// FirstFailure is the error of the first failed replica, if any.
	FirstFailure error `json:"-"`
}

// Add accumulates o into s.
func (s *ReplicaStats) Add(o ReplicaStats) {
	s.Completed += o.Completed
	s.Absorbed += o.Absorbed
	s.Cancelled += o.Cancelled
	s.Failed += o.Failed
	if s.FirstFailure == nil {
		s.FirstFailure = o.FirstFailure
	}
}

func (s *ReplicaStats) record(result RunResult, err error) {
	switch {
	case err != nil:
		s.Failed++
		if s.FirstFailure == nil {
			s.FirstFailure = err
		}
	case result.Outcome == OutcomeCancelled:
		s.Cancelled++
	case result.Outcome == OutcomeAbsorbed:
		s.Absorbed++
		s.Completed++
	default:
		s.Completed++
	}
}

// Environment is the single entry point for running replicas of one model.
// It owns the random source, the optional sampling function and the count of
// replicas simulated so far. Its methods are serialized by an internal mutex.
//
// Parallel batches draw replica i from stream ForReplica(k+i), where k counts the
// replica streams handed out since the last Seed. Consecutive batches therefore
// never share a stream, and results do not depend on Parallelism.
type Environment[S any] struct {
	mu sync.Mutex

	cfg        EnvironmentConfig
	kernel     *Kernel[S]
	sampling   sampling.Function[S]
	streams    *PartitionedRNG
	rng        *rand.Rand
	iterations int
	stats      ReplicaStats

	// nextReplica is the first unused replica stream index.
	nextReplica int
}

// NewEnvironment creates an environment for model seeded with cfg.Seed.
func NewEnvironment[S any](model Model[S], cfg EnvironmentConfig) *Environment[S] {
	e := &Environment[S]{cfg: cfg}
	if model != nil {
		e.kernel = NewKernel(model)
	}
	e.reseed(cfg.Seed)
	return e
}

// Seed resets the random source. Replaying the same calls after the same seed
// reproduces the same results.
func (e *Environment[S]) Seed(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reseed(seed)
}

func (e *Environment[S]) reseed(seed int64) {
	e.cfg.Seed = seed
	e.streams = NewPartitionedRNG(NewSimulationKey(seed))
	e.rng = e.streams.ForSubsystem(SubsystemEnvironment)
	e.nextReplica = 0
}

// SetModel replaces the simulated model.
func (e *Environment[S]) SetModel(model Model[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kernel = NewKernel(model)
}

// SetSampling installs the sampling function fed by Simulate. nil disables sampling.
func (e *Environment[S]) SetSampling(f sampling.Function[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampling = f
}

// Simulate runs up to iterations replicas from the model's initial state until deadline.
//
// The batch stops early when monitor or ctx is cancelled; the replica in progress is
// then finalized and counted as cancelled. A failed replica does not abort the batch:
// it is counted in ReplicaStats.Failed and, with a mergeable sampling function, left
// out of the aggregate. The returned error is reserved for setup failures.
func (e *Environment[S]) Simulate(ctx context.Context, monitor Monitor, iterations int, deadline float64) (ReplicaStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kernel == nil {
		return ReplicaStats{}, eris.Wrap(ErrInvalidParameter, "no model set")
	}
	if iterations < 0 {
		return ReplicaStats{}, eris.Wrapf(ErrInvalidParameter, "iterations must be non-negative, got %d", iterations)
	}

	mon := withContext(ctx, monitor)
	var (
		stats ReplicaStats
		err   error
	)
	if e.cfg.Parallelism > 1 && (e.sampling == nil || sampling.IsMergeable(e.sampling)) {
		stats, err = e.simulateParallel(ctx, mon, iterations, deadline)
	} else {
		if e.cfg.Parallelism > 1 {
			logrus.Warnf("sampling function %T cannot be merged; running %d replicas sequentially", e.sampling, iterations)
		}
		stats, err = e.simulateSequential(ctx, mon, iterations, deadline)
	}
	e.stats.Add(stats)
	e.iterations += stats.Completed + stats.Cancelled
	if stats.Failed > 0 {
		logrus.Warnf("%d of %d replicas failed: %v", stats.Failed, iterations, stats.FirstFailure)
	}
	return stats, err
}

func (e *Environment[S]) simulateSequential(ctx context.Context, mon Monitor, iterations int, deadline float64) (ReplicaStats, error) {
	var stats ReplicaStats
	ctx, err := Randoms.Register(ctx, e.rng)
	if err != nil {
		return stats, eris.Wrap(err, "registering batch random source")
	}
	defer func() {
		if err := Randoms.Unregister(ctx); err != nil {
			logrus.Errorf("unregistering batch random source: %v", err)
		}
	}()

	mergeable := e.sampling != nil && sampling.IsMergeable(e.sampling)
	for i := 0; i < iterations; i++ {
		if mon.Cancelled() {
			break
		}
		mon.StartIteration(i)
		result, partial, err := e.runReplica(ctx, deadline, mon, mergeable)
		mon.EndSimulation(i)
		stats.record(result, err)
		if err == nil && partial != nil {
			if merr := e.sampling.(sampling.Mergeable[S]).Merge(partial); merr != nil {
				return stats, eris.Wrapf(merr, "merging replica %d", i)
			}
		}
	}
	return stats, nil
}

type replicaOutcome[S any] struct {
	ran     bool
	result  RunResult
	partial sampling.Function[S]
	err     error
}

func (e *Environment[S]) simulateParallel(ctx context.Context, mon Monitor, iterations int, deadline float64) (ReplicaStats, error) {
	var stats ReplicaStats
	mon = &lockedMonitor{inner: mon}
	mergeable := e.sampling != nil
	outcomes := make([]replicaOutcome[S], iterations)
	first := e.nextReplica
	e.nextReplica += iterations

	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for i := 0; i < iterations; i++ {
		if mon.Cancelled() {
			break
		}
		i := i
		g.Go(func() error {
			if mon.Cancelled() {
				return nil
			}
			rctx, err := Randoms.Register(ctx, e.streams.ForReplica(first+i))
			if err != nil {
				return eris.Wrapf(err, "registering random source of replica %d", i)
			}
			defer func() {
				if err := Randoms.Unregister(rctx); err != nil {
					logrus.Errorf("unregistering random source of replica %d: %v", i, err)
				}
			}()
			mon.StartIteration(i)
			result, partial, err := e.runReplica(rctx, deadline, mon, mergeable)
			mon.EndSimulation(i)
			outcomes[i] = replicaOutcome[S]{ran: true, result: result, partial: partial, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	// Merge in replica index order so that the aggregate does not depend on scheduling.
	for i, o := range outcomes {
		if !o.ran {
			continue
		}
		stats.record(o.result, o.err)
		if o.err == nil && o.partial != nil {
			if err := e.sampling.(sampling.Mergeable[S]).Merge(o.partial); err != nil {
				return stats, eris.Wrapf(err, "merging replica %d", i)
			}
		}
	}
	return stats, nil
}

// runReplica runs one replica with the random source registered for ctx. With
// mergeable sampling the replica is recorded into a fresh partial that is returned
// for the caller to merge; otherwise it feeds the shared sampling function directly.
func (e *Environment[S]) runReplica(ctx context.Context, deadline float64, mon Monitor, mergeable bool) (RunResult, sampling.Function[S], error) {
	rng, err := Randoms.Lookup(ctx)
	if err != nil {
		return RunResult{Outcome: OutcomeFailed}, nil, eris.Wrap(err, "looking up replica random source")
	}
	var recorder sampling.Function[S]
	switch {
	case e.sampling == nil:
	case mergeable:
		recorder = e.sampling.(sampling.Mergeable[S]).Fresh()
	default:
		recorder = e.sampling
	}
	result, err := e.kernel.Run(rng, deadline, mon, recorder)
	if !mergeable {
		recorder = nil
	}
	return result, recorder, err
}

// SimulateOnce runs a single replica without sampling and returns its result.
// It is not counted in Iterations.
func (e *Environment[S]) SimulateOnce(ctx context.Context, deadline float64) (RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kernel == nil {
		return RunResult{}, eris.Wrap(ErrInvalidParameter, "no model set")
	}
	ctx, err := Randoms.Register(ctx, e.rng)
	if err != nil {
		return RunResult{}, eris.Wrap(err, "registering random source")
	}
	defer func() {
		if err := Randoms.Unregister(ctx); err != nil {
			logrus.Errorf("unregistering random source: %v", err)
		}
	}()
	result, _, err := e.runReplica(ctx, deadline, withContext(ctx, nil), false)
	return result, err
}

// Reachability estimates the probability that phi holds until psi holds within deadline,
// with absolute error epsilon at confidence 1-delta (see SampleSize).
func (e *Environment[S]) Reachability(ctx context.Context, epsilon, delta, deadline float64, phi, psi Predicate[S]) (ReachabilityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ValidateReachability(epsilon, delta); err != nil {
		return ReachabilityResult{}, err
	}
	return e.reachability(ctx, SampleSize(epsilon, delta), delta, deadline, phi, psi)
}

// ReachabilityN runs exactly n replicas of the reachability check. delta only labels
// the reported bound. Remote workers use it to run a share of a larger estimate.
func (e *Environment[S]) ReachabilityN(ctx context.Context, n int, delta, deadline float64, phi, psi Predicate[S]) (ReachabilityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachability(ctx, n, delta, deadline, phi, psi)
}

func (e *Environment[S]) reachability(ctx context.Context, n int, delta, deadline float64, phi, psi Predicate[S]) (ReachabilityResult, error) {
	if e.kernel == nil {
		return ReachabilityResult{}, eris.Wrap(ErrInvalidParameter, "no model set")
	}
	est := &ReachabilityEstimator[S]{kernel: e.kernel}
	if e.cfg.Parallelism > 1 && n > 0 {
		est.Parallelism = e.cfg.Parallelism
		est.Streams = e.streams
		est.FirstReplica = e.nextReplica
		e.nextReplica += n
	}
	return est.EstimateN(ctx, e.rng, n, delta, deadline, phi, psi)
}

// SampleTrajectory records one full trajectory until deadline or absorption.
func (e *Environment[S]) SampleTrajectory(deadline float64) (*Trajectory[S], error) {
	return e.sampleTrajectory(deadline, nil, nil)
}

// SampleTrajectoryReach records one trajectory that stops as soon as reach holds.
func (e *Environment[S]) SampleTrajectoryReach(deadline float64, reach Predicate[S]) (*Trajectory[S], error) {
	return e.sampleTrajectory(deadline, nil, reach)
}

// SampleTrajectoryUntil records one trajectory checking "transient until reach".
func (e *Environment[S]) SampleTrajectoryUntil(deadline float64, transient, reach Predicate[S]) (*Trajectory[S], error) {
	return e.sampleTrajectory(deadline, transient, reach)
}

func (e *Environment[S]) sampleTrajectory(deadline float64, transient, reach Predicate[S]) (*Trajectory[S], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kernel == nil {
		return nil, eris.Wrap(ErrInvalidParameter, "no model set")
	}
	task := NewUntilTask(e.kernel, e.rng, deadline, transient, reach)
	if _, err := task.Run(); err != nil {
		return task.Trajectory(), err
	}
	return task.Trajectory(), nil
}

// TimeSeries returns the series of the installed sampling function (nil without one).
func (e *Environment[S]) TimeSeries() []*sampling.TimeSeries {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sampling == nil {
		return nil
	}
	return e.sampling.TimeSeries()
}

// Iterations returns the number of replicas completed or cancelled so far.
func (e *Environment[S]) Iterations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iterations
}

// Stats returns the cumulative replica outcome counts.
func (e *Environment[S]) Stats() ReplicaStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// NextFloat64 draws from the environment's random source.
func (e *Environment[S]) NextFloat64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

// NextInt draws an int in [0, n) from the environment's random source.
// It returns ErrInvalidParameter, without drawing, when n <= 0.
func (e *Environment[S]) NextInt(n int) (int, error) {
	if n <= 0 {
		return 0, eris.Wrapf(ErrInvalidParameter, "bound must be positive, got %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n), nil
}

// lockedMonitor serializes monitor callbacks from concurrent replicas.
type lockedMonitor struct {
	mu    sync.Mutex
	inner Monitor
}

func (m *lockedMonitor) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inner.Cancelled()
}

func (m *lockedMonitor) StartIteration(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner.StartIteration(i)
}

func (m *lockedMonitor) EndSimulation(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner.EndSimulation(i)
}

func (m *lockedMonitor) Update(time float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner.Update(time)
}
