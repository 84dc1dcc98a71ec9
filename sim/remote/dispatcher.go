package remote

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Dispatcher splits jobs across workers and merges their replies in worker order.
// Each worker share gets its own seed derived from the dispatcher seed, the job's
// submission number and the worker index. Successive jobs on one dispatcher draw
// fresh seeds; a new dispatcher with the same seed and worker count replays them.
type Dispatcher struct {
	clients []*Client
	streams *sim.PartitionedRNG
	jobs    atomic.Uint64
}

// NewDispatcher creates a dispatcher over clients. The seed request field is
// ignored: share seeds come from seed.
func NewDispatcher(seed int64, clients ...*Client) *Dispatcher {
	return &Dispatcher{
		clients: clients,
		streams: sim.NewPartitionedRNG(sim.NewSimulationKey(seed)),
	}
}

// Submit runs req across the workers. Time-series iterations and reachability samples
// are split evenly; a trajectory runs on the first worker.
func (d *Dispatcher) Submit(ctx context.Context, req SimulationRequest) (*SimulationReply, error) {
	if len(d.clients) == 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "no workers")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	job := d.jobs.Add(1) - 1
	switch req.Kind {
	case KindTimeSeries:
		return d.timeSeries(ctx, job, req)
	case KindReachability:
		return d.reachability(ctx, job, req)
	default:
		share := req
		share.ID = uuid.New()
		share.Seed = d.seedFor(job, sim.SubsystemDispatch)
		reply, err := d.clients[0].Submit(ctx, &share)
		if err != nil {
			return nil, err
		}
		reply.ID = req.ID
		return reply, nil
	}
}

// seedFor derives the seed of the named share of the job-th submitted job.
func (d *Dispatcher) seedFor(job uint64, name string) int64 {
	return d.streams.SeedFor(fmt.Sprintf("job_%d/%s", job, name))
}

func (d *Dispatcher) timeSeries(ctx context.Context, job uint64, req SimulationRequest) (*SimulationReply, error) {
	replies, err := d.scatter(ctx, job, req, req.Iterations, func(share *SimulationRequest, n int) {
		share.Iterations = n
	})
	if err != nil {
		return nil, err
	}
	merged := &SimulationReply{ID: req.ID, Stats: &sim.ReplicaStats{}}
	for _, r := range replies {
		if r == nil {
			continue
		}
		if merged.Series, err = sampling.MergeAll(merged.Series, r.Series); err != nil {
			return nil, eris.Wrapf(err, "merging series from %s", r.Worker)
		}
		if r.Stats != nil {
			merged.Stats.Add(*r.Stats)
		}
	}
	return merged, nil
}

func (d *Dispatcher) reachability(ctx context.Context, job uint64, req SimulationRequest) (*SimulationReply, error) {
	total := req.Samples
	if total <= 0 {
		total = sim.SampleSize(req.Error, req.Delta)
	}
	delta := req.Delta
	if !(delta > 0 && delta < 1) {
		delta = 0.05
	}
	replies, err := d.scatter(ctx, job, req, total, func(share *SimulationRequest, n int) {
		share.Samples = n
		share.Delta = delta
	})
	if err != nil {
		return nil, err
	}
	successes := 0
	for _, r := range replies {
		if r == nil || r.Reachability == nil {
			continue
		}
		successes += r.Reachability.Successes
	}
	res := &sim.ReachabilityResult{
		Probability: float64(successes) / float64(total),
		Samples:     total,
		Successes:   successes,
		Bound:       sim.HoeffdingBound(total, delta),
		Delta:       delta,
	}
	return &SimulationReply{ID: req.ID, Reachability: res}, nil
}

// scatter sends one share per worker with a non-zero part of total and returns the
// replies indexed by worker (nil where a worker had nothing to do).
func (d *Dispatcher) scatter(ctx context.Context, job uint64, req SimulationRequest, total int,
	assign func(share *SimulationRequest, n int)) ([]*SimulationReply, error) {
	replies := make([]*SimulationReply, len(d.clients))
	durations := make([]float64, 0, len(d.clients))
	elapsed := make([]float64, len(d.clients))

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range d.clients {
		n := total / len(d.clients)
		if i < total%len(d.clients) {
			n++
		}
		if n == 0 {
			continue
		}
		share := req
		share.ID = uuid.New()
		share.Seed = d.seedFor(job, sim.SubsystemWorker(i))
		assign(&share, n)

		i, client := i, client
		g.Go(func() error {
			start := time.Now()
			reply, err := client.Submit(gctx, &share)
			if err != nil {
				return eris.Wrapf(err, "share %d of %s", i, req.ID)
			}
			elapsed[i] = time.Since(start).Seconds()
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, r := range replies {
		if r != nil {
			durations = append(durations, elapsed[i])
		}
	}
	dist := sim.Summarize(durations)
	logrus.Infof("job %s: %d shares, wall time mean %.3fs p95 %.3fs max %.3fs",
		req.ID, dist.Count, dist.Mean, dist.P95, dist.Max)
	return replies, nil
}
