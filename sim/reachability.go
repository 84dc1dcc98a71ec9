package sim

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ReachabilityResult is a Monte-Carlo estimate of P(phi until psi within deadline).
type ReachabilityResult struct {
	Probability float64 `json:"probability"`
	Samples     int     `json:"samples"`
	Successes   int     `json:"successes"`
	// Bound is the Hoeffding half-width sqrt(ln(2/delta)/(2n)) guaranteed by Samples
	// at confidence 1-delta.
	Bound float64 `json:"bound"`
	Delta float64 `json:"delta"`
}

// SampleSize returns the number of replicas used by the estimator:
// ceil(ln(2/delta) / (2*epsilon)).
//
// The textbook Hoeffding bound for absolute error epsilon uses epsilon squared;
// this reproduces the formula of the reference estimator. See ReachabilityResult.Bound
// for the error actually guaranteed.
func SampleSize(epsilon, delta float64) int {
	return int(math.Ceil(math.Log(2/delta) / (2 * epsilon)))
}

// HoeffdingBound returns the absolute error guaranteed with probability 1-delta by n samples.
func HoeffdingBound(n int, delta float64) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt(math.Log(2/delta) / (2 * float64(n)))
}

// ValidateReachability checks estimator parameters.
func ValidateReachability(epsilon, delta float64) error {
	if !(epsilon > 0 && epsilon < 1) {
		return eris.Wrapf(ErrInvalidParameter, "error must be in (0, 1), got %v", epsilon)
	}
	if !(delta > 0 && delta < 1) {
		return eris.Wrapf(ErrInvalidParameter, "delta must be in (0, 1), got %v", delta)
	}
	return nil
}

// ReachabilityEstimator runs fixed-size batches of independent replicas under a pair
// of predicates. It performs no early stopping and no variance reduction.
//
// Every replica runs with its generator registered in Randoms for the duration of
// the batch: the batch generator in sequential mode, its own stream in parallel mode.
type ReachabilityEstimator[S any] struct {
	kernel *Kernel[S]
	// Parallelism > 1 runs replicas concurrently with per-replica streams from Streams.
	Parallelism int
	Streams     *PartitionedRNG
	// FirstReplica is the stream index of the first parallel replica. Replica i of a
	// batch draws from Streams.ForReplica(FirstReplica+i).
	FirstReplica int
}

// NewReachabilityEstimator creates a sequential estimator for model.
func NewReachabilityEstimator[S any](model Model[S]) *ReachabilityEstimator[S] {
	return &ReachabilityEstimator[S]{kernel: NewKernel(model)}
}

// Estimate runs SampleSize(epsilon, delta) replicas drawing from rng (sequential mode)
// and returns the fraction that satisfied phi until psi.
func (e *ReachabilityEstimator[S]) Estimate(ctx context.Context, rng *rand.Rand, epsilon, delta, deadline float64,
	phi, psi Predicate[S]) (ReachabilityResult, error) {
	if err := ValidateReachability(epsilon, delta); err != nil {
		return ReachabilityResult{}, err
	}
	return e.EstimateN(ctx, rng, SampleSize(epsilon, delta), delta, deadline, phi, psi)
}

// EstimateN runs exactly n replicas. delta only labels the reported bound.
func (e *ReachabilityEstimator[S]) EstimateN(ctx context.Context, rng *rand.Rand, n int, delta, deadline float64,
	phi, psi Predicate[S]) (ReachabilityResult, error) {
	if n <= 0 {
		return ReachabilityResult{}, eris.Wrapf(ErrInvalidParameter, "sample count must be positive, got %d", n)
	}
	if phi == nil {
		phi = True[S]()
	}
	if psi == nil {
		return ReachabilityResult{}, eris.Wrap(ErrInvalidParameter, "psi predicate is required")
	}

	var successes int64
	if e.Parallelism > 1 && e.Streams != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.Parallelism)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				rctx, err := Randoms.Register(gctx, e.Streams.ForReplica(e.FirstReplica+i))
				if err != nil {
					return eris.Wrapf(err, "registering random source of replica %d", i)
				}
				defer func() {
					if err := Randoms.Unregister(rctx); err != nil {
						logrus.Errorf("unregistering random source of replica %d: %v", i, err)
					}
				}()
				reached, err := e.sample(rctx, deadline, phi, psi)
				if err != nil {
					return eris.Wrapf(err, "replica %d", i)
				}
				if reached {
					atomic.AddInt64(&successes, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return ReachabilityResult{}, err
		}
	} else {
		if rng == nil {
			return ReachabilityResult{}, eris.Wrap(ErrInvalidParameter, "sequential estimation needs a random source")
		}
		ctx, err := Randoms.Register(ctx, rng)
		if err != nil {
			return ReachabilityResult{}, eris.Wrap(err, "registering batch random source")
		}
		defer func() {
			if err := Randoms.Unregister(ctx); err != nil {
				logrus.Errorf("unregistering batch random source: %v", err)
			}
		}()
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return ReachabilityResult{}, eris.Wrap(err, "reachability cancelled")
			}
			reached, err := e.sample(ctx, deadline, phi, psi)
			if err != nil {
				return ReachabilityResult{}, eris.Wrapf(err, "replica %d", i)
			}
			if reached {
				successes++
			}
		}
	}

	result := ReachabilityResult{
		Probability: float64(successes) / float64(n),
		Samples:     n,
		Successes:   int(successes),
		Bound:       HoeffdingBound(n, delta),
		Delta:       delta,
	}
	logrus.Debugf("reachability: %d/%d replicas reached (p=%.4f, ±%.4f)", result.Successes, n, result.Probability, result.Bound)
	return result, nil
}

// sample runs one replica with the generator registered for ctx.
func (e *ReachabilityEstimator[S]) sample(ctx context.Context, deadline float64, phi, psi Predicate[S]) (bool, error) {
	rng, err := Randoms.Lookup(ctx)
	if err != nil {
		return false, eris.Wrap(err, "looking up replica random source")
	}
	task := NewUntilTask(e.kernel, rng, deadline, phi, psi)
	if _, err := task.Run(); err != nil {
		return false, err
	}
	return task.Reached(), nil
}
