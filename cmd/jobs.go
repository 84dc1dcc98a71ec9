package cmd

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"github.com/sibilla-sim/sibilla/sim/remote"
	"github.com/sibilla-sim/sibilla/sim/store"
)

// executor serves a simulation request locally or on workers.
type executor func(ctx context.Context, req remote.SimulationRequest) (*remote.SimulationReply, error)

func localExecutor(catalog *remote.Catalog) executor {
	return func(ctx context.Context, req remote.SimulationRequest) (*remote.SimulationReply, error) {
		if req.ID == uuid.Nil {
			req.ID = uuid.New()
		}
		return catalog.Execute(ctx, &req)
	}
}

func dispatchExecutor(d *remote.Dispatcher) executor {
	return d.Submit
}

// dialWorkers connects to every worker of cfg. The returned func closes them all.
func dialWorkers(ctx context.Context, cfg Scenario) (*remote.Dispatcher, func(), error) {
	clients := make([]*remote.Client, 0, len(cfg.Workers))
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
	for _, addr := range cfg.Workers {
		c, err := remote.Dial(ctx, addr, remote.ClientConfig{Timeout: cfg.Timeout})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		clients = append(clients, c)
	}
	logrus.Infof("Connected to %d workers", len(clients))
	return remote.NewDispatcher(cfg.Seed, clients...), closeAll, nil
}

func runTimeSeries(ctx context.Context, w io.Writer, cfg Scenario, exec executor) error {
	reply, err := exec(ctx, cfg.request(remote.KindTimeSeries))
	if err != nil {
		return err
	}
	if reply.Stats != nil {
		logrus.Infof("Replicas: %d completed (%d absorbed), %d cancelled, %d failed",
			reply.Stats.Completed, reply.Stats.Absorbed, reply.Stats.Cancelled, reply.Stats.Failed)
	}
	if cfg.DB != "" {
		if err := withStore(ctx, cfg.DB, func(s *store.SQLiteStore) error {
			run := cfg.run(reply.ID)
			if reply.Stats != nil {
				run.Stats = *reply.Stats
			}
			run, err := s.SaveRun(ctx, run, reply.Series)
			if err == nil {
				logrus.Infof("Stored run %s in %s", run.ID, cfg.DB)
			}
			return err
		}); err != nil {
			return err
		}
	}
	return printSeries(w, reply.Series)
}

func runReachability(ctx context.Context, w io.Writer, cfg Scenario, exec executor) error {
	reply, err := exec(ctx, cfg.request(remote.KindReachability))
	if err != nil {
		return err
	}
	if reply.Reachability == nil {
		return eris.New("reply carries no reachability estimate")
	}
	if cfg.DB != "" {
		if err := withStore(ctx, cfg.DB, func(s *store.SQLiteStore) error {
			run, err := s.SaveReachability(ctx, cfg.run(reply.ID), store.Reachability{
				Phi: cfg.Phi, Psi: cfg.Psi, ReachabilityResult: *reply.Reachability,
			})
			if err == nil {
				logrus.Infof("Stored run %s in %s", run.ID, cfg.DB)
			}
			return err
		}); err != nil {
			return err
		}
	}
	return printReachability(w, cfg, reply.Reachability)
}

func runTrajectory(ctx context.Context, w io.Writer, cfg Scenario, exec executor) error {
	reply, err := exec(ctx, cfg.request(remote.KindTrajectory))
	if err != nil {
		return err
	}
	if reply.Trajectory == nil {
		return eris.New("reply carries no trajectory")
	}
	logrus.Infof("Trajectory of %d states ended %s (succeeded=%v)",
		len(reply.Trajectory.Points), reply.Trajectory.Outcome, reply.Trajectory.Succeeded)
	return printTrajectory(w, reply.Trajectory)
}

func listRuns(ctx context.Context, w io.Writer, path string) error {
	return withStore(ctx, path, func(s *store.SQLiteStore) error {
		runs, err := s.ListRuns(ctx)
		if err != nil {
			return err
		}
		return printRuns(w, runs)
	})
}

func withStore(ctx context.Context, path string, fn func(s *store.SQLiteStore) error) error {
	s, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// run describes the scenario as a stored run.
func (s Scenario) run(id uuid.UUID) store.Run {
	return store.Run{
		ID:         id,
		Model:      s.Model,
		Params:     s.Params,
		Seed:       s.Seed,
		Deadline:   s.Deadline,
		Iterations: s.Iterations,
	}
}
