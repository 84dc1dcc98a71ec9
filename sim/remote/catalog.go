package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/sampling"
)

// Definition describes a model a worker can simulate.
type Definition[S any] struct {
	// NewModel builds a model instance from request parameters (nil means defaults).
	NewModel func(params map[string]float64) (sim.Model[S], error)
	// Measures are the scalar quantities available to time-series requests.
	Measures map[string]func(S) float64
	// Predicates are the state conditions available to reachability and trajectory requests.
	Predicates map[string]sim.Predicate[S]
}

// entry is a type-erased catalog entry.
type entry interface {
	info(name string) ModelInfo
	execute(ctx context.Context, req *SimulationRequest) (*SimulationReply, error)
}

// Catalog maps model names to definitions of any state type.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]entry)}
}

// Register adds def under name.
func Register[S any](c *Catalog, name string, def Definition[S]) error {
	if name == "" {
		return eris.New("model name must not be empty")
	}
	if def.NewModel == nil {
		return eris.Errorf("model %q has no constructor", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[name]; exists {
		return eris.Errorf("model %q already registered", name)
	}
	c.entries[name] = &definition[S]{def: def}
	return nil
}

// Names returns the registered model names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models describes every registered model.
func (c *Catalog) Models() []ModelInfo {
	names := c.Names()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		out = append(out, c.entries[name].info(name))
	}
	return out
}

// Describe returns the description of one model.
func (c *Catalog) Describe(name string) (ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return ModelInfo{}, false
	}
	return e.info(name), true
}

// Execute serves req locally. Errors are returned, not stored in the reply.
func (c *Catalog) Execute(ctx context.Context, req *SimulationRequest) (*SimulationReply, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	e, ok := c.entries[req.Model]
	c.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownModel, "%q", req.Model)
	}
	reply, err := e.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	reply.ID = req.ID
	return reply, nil
}

type definition[S any] struct {
	def Definition[S]
}

func (d *definition[S]) info(name string) ModelInfo {
	return ModelInfo{
		Name:       name,
		Measures:   sortedKeys(d.def.Measures),
		Predicates: sortedKeys(d.def.Predicates),
	}
}

func (d *definition[S]) execute(ctx context.Context, req *SimulationRequest) (*SimulationReply, error) {
	model, err := d.def.NewModel(req.Params)
	if err != nil {
		return nil, eris.Wrapf(err, "building model %q", req.Model)
	}
	env := sim.NewEnvironment(model, sim.EnvironmentConfig{Seed: req.Seed, Parallelism: req.Parallelism})

	switch req.Kind {
	case KindTimeSeries:
		return d.timeSeries(ctx, env, req)
	case KindReachability:
		return d.reachability(ctx, env, req)
	default:
		return d.trajectory(env, req)
	}
}

func (d *definition[S]) timeSeries(ctx context.Context, env *sim.Environment[S], req *SimulationRequest) (*SimulationReply, error) {
	names := req.Measures
	if len(names) == 0 {
		names = sortedKeys(d.def.Measures)
	}
	collection := sampling.NewCollection[S]()
	for _, name := range names {
		measure, ok := d.def.Measures[name]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownMeasure, "%q of model %q", name, req.Model)
		}
		collection.Add(sampling.Measure(name, req.Samplings, req.Deadline, measure))
	}
	env.SetSampling(collection)
	stats, err := env.Simulate(ctx, nil, req.Iterations, req.Deadline)
	if err != nil {
		return nil, err
	}
	return &SimulationReply{Series: env.TimeSeries(), Stats: &stats}, nil
}

func (d *definition[S]) reachability(ctx context.Context, env *sim.Environment[S], req *SimulationRequest) (*SimulationReply, error) {
	phi, err := d.predicate(req.Phi, true)
	if err != nil {
		return nil, err
	}
	psi, err := d.predicate(req.Psi, false)
	if err != nil {
		return nil, err
	}
	var res sim.ReachabilityResult
	if req.Samples > 0 {
		delta := req.Delta
		if !(delta > 0 && delta < 1) {
			delta = 0.05
		}
		res, err = env.ReachabilityN(ctx, req.Samples, delta, req.Deadline, phi, psi)
	} else {
		res, err = env.Reachability(ctx, req.Error, req.Delta, req.Deadline, phi, psi)
	}
	if err != nil {
		return nil, err
	}
	return &SimulationReply{Reachability: &res}, nil
}

func (d *definition[S]) trajectory(env *sim.Environment[S], req *SimulationRequest) (*SimulationReply, error) {
	var (
		phi, psi sim.Predicate[S]
		err      error
	)
	if req.Phi != "" {
		if phi, err = d.predicate(req.Phi, false); err != nil {
			return nil, err
		}
	}
	if req.Psi != "" {
		if psi, err = d.predicate(req.Psi, false); err != nil {
			return nil, err
		}
	}
	tr, err := env.SampleTrajectoryUntil(req.Deadline, phi, psi)
	if err != nil {
		return nil, err
	}
	out := &TrajectoryReply{
		Points:    make([]TrajectoryPoint, 0, tr.Len()),
		Outcome:   tr.Outcome().String(),
		Succeeded: tr.Succeeded(),
	}
	for _, p := range tr.Points() {
		state, err := json.Marshal(p.State)
		if err != nil {
			return nil, eris.Wrapf(err, "encoding state at t=%v", p.Time)
		}
		out.Points = append(out.Points, TrajectoryPoint{Time: p.Time, State: state})
	}
	return &SimulationReply{Trajectory: out}, nil
}

// predicate resolves name; an empty name yields "always true" when optional.
func (d *definition[S]) predicate(name string, optional bool) (sim.Predicate[S], error) {
	if name == "" && optional {
		return sim.True[S](), nil
	}
	p, ok := d.def.Predicates[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownPredicate, "%q", name)
	}
	return p, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
