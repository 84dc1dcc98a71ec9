// Package remote runs simulation replicas on worker processes reached over the
// network transport.
//
// A worker (Server) owns a Catalog of models. Clients send a SimulationRequest naming
// a catalog model and receive a SimulationReply carrying time series, a reachability
// estimate or a trajectory. A Dispatcher splits one job across several workers and
// merges their replies. Messages travel as typed envelopes (see network.EnvelopeCodec),
// so a process only decodes the message types registered by NewCodec.
package remote

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/network"
	"github.com/sibilla-sim/sibilla/sim/sampling"
)

// Kind selects what a worker computes for a request.
type Kind string

const (
	KindTimeSeries   Kind = "timeseries"
	KindReachability Kind = "reachability"
	KindTrajectory   Kind = "trajectory"
)

// SimulationRequest asks a worker to simulate a catalog model.
type SimulationRequest struct {
	ID     uuid.UUID          `json:"id"`
	Kind   Kind               `json:"kind"`
	Model  string             `json:"model"`
	Params map[string]float64 `json:"params,omitempty"`

	Seed        int64   `json:"seed"`
	Deadline    float64 `json:"deadline"`
	Parallelism int     `json:"parallelism,omitempty"`

	// Time series
	Iterations int      `json:"iterations,omitempty"`
	Samplings  int      `json:"samplings,omitempty"`
	Measures   []string `json:"measures,omitempty"`

	// Reachability: Samples > 0 runs exactly that many replicas instead of
	// SampleSize(Error, Delta).
	Error   float64 `json:"error,omitempty"`
	Delta   float64 `json:"delta,omitempty"`
	Samples int     `json:"samples,omitempty"`

	// Predicate names from the model's catalog entry. Phi defaults to "always true".
	Phi string `json:"phi,omitempty"`
	Psi string `json:"psi,omitempty"`
}

// Validate checks the fields required by the request kind.
func (r *SimulationRequest) Validate() error {
	if r.Model == "" {
		return eris.Wrap(ErrInvalidRequest, "model name is required")
	}
	if !(r.Deadline > 0) {
		return eris.Wrapf(ErrInvalidRequest, "deadline must be positive, got %v", r.Deadline)
	}
	switch r.Kind {
	case KindTimeSeries:
		if r.Iterations <= 0 {
			return eris.Wrapf(ErrInvalidRequest, "iterations must be positive, got %d", r.Iterations)
		}
		if r.Samplings <= 0 {
			return eris.Wrapf(ErrInvalidRequest, "samplings must be positive, got %d", r.Samplings)
		}
	case KindReachability:
		if r.Psi == "" {
			return eris.Wrap(ErrInvalidRequest, "psi predicate is required")
		}
		if r.Samples <= 0 {
			if err := sim.ValidateReachability(r.Error, r.Delta); err != nil {
				return eris.Wrap(ErrInvalidRequest, err.Error())
			}
		}
	case KindTrajectory:
	default:
		return eris.Wrapf(ErrInvalidRequest, "unknown request kind %q", r.Kind)
	}
	return nil
}

// TrajectoryPoint is one visited state; the state is JSON-encoded by the worker.
type TrajectoryPoint struct {
	Time  float64         `json:"time"`
	State json.RawMessage `json:"state"`
}

// TrajectoryReply is a sampled trajectory as sent over the wire.
type TrajectoryReply struct {
	Points    []TrajectoryPoint `json:"points"`
	Outcome   string            `json:"outcome"`
	Succeeded bool              `json:"succeeded"`
}

// SimulationReply answers a SimulationRequest with the same ID.
type SimulationReply struct {
	ID     uuid.UUID `json:"id"`
	Worker string    `json:"worker,omitempty"`

	Series       []*sampling.TimeSeries  `json:"series,omitempty"`
	Stats        *sim.ReplicaStats       `json:"stats,omitempty"`
	Reachability *sim.ReachabilityResult `json:"reachability,omitempty"`
	Trajectory   *TrajectoryReply        `json:"trajectory,omitempty"`

	// Err is set when the worker could not serve the request.
	Err string `json:"err,omitempty"`
}

// CatalogRequest asks a worker which models it serves.
type CatalogRequest struct{}

// CatalogReply lists the models of a worker catalog.
type CatalogReply struct {
	Worker string      `json:"worker,omitempty"`
	Models []ModelInfo `json:"models"`
}

// ModelInfo describes one catalog entry.
type ModelInfo struct {
	Name       string   `json:"name"`
	Measures   []string `json:"measures"`
	Predicates []string `json:"predicates"`
}

// Message type names on the wire.
const (
	TypeSimulationRequest = "sibilla.simulation.request"
	TypeSimulationReply   = "sibilla.simulation.reply"
	TypeCatalogRequest    = "sibilla.catalog.request"
	TypeCatalogReply      = "sibilla.catalog.reply"
)

// NewCodec returns the envelope codec understanding every remote message type.
func NewCodec() *network.EnvelopeCodec {
	types := network.NewTypeRegistry()
	// Registration of distinct types under distinct names cannot fail.
	_ = network.RegisterType[SimulationRequest](types, TypeSimulationRequest)
	_ = network.RegisterType[SimulationReply](types, TypeSimulationReply)
	_ = network.RegisterType[CatalogRequest](types, TypeCatalogRequest)
	_ = network.RegisterType[CatalogReply](types, TypeCatalogReply)
	return network.NewEnvelopeCodec(types)
}
