package population

import (
	"math/rand"

	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
)

// ReactionRule moves Reactants to Products at Rate. The rule is enabled in a state
// when all reactants are available and the rate is positive.
type ReactionRule struct {
	Name      string
	Reactants []Population
	Products  []Population
	Rate      func(s State) float64
}

// Model is a population model: an initial state and a list of reaction rules.
// It implements sim.Model[State] and is safe to share across replicas.
type Model struct {
	species int
	initial State
	rules   []ReactionRule
}

var _ sim.Model[State] = (*Model)(nil)

// NewModel creates a model over the species of initial.
func NewModel(initial State, rules ...ReactionRule) (*Model, error) {
	species := initial.Len()
	for _, r := range rules {
		if r.Rate == nil {
			return nil, eris.Errorf("rule %q has no rate function", r.Name)
		}
		for _, p := range append(append([]Population{}, r.Reactants...), r.Products...) {
			if p.Species < 0 || p.Species >= species {
				return nil, eris.Errorf("rule %q references species %d of %d", r.Name, p.Species, species)
			}
		}
	}
	return &Model{species: species, initial: initial, rules: rules}, nil
}

func (m *Model) InitialState() State {
	return m.initial
}

// Activities returns one weighted transition per enabled rule. A negative or NaN
// rate is a model inconsistency and fails the replica.
func (m *Model) Activities(_ *rand.Rand, s State) (*sim.WeightedStructure[sim.StepFunction[State]], error) {
	ws := sim.NewWeightedStructure[sim.StepFunction[State]]()
	for i := range m.rules {
		rule := &m.rules[i]
		if !s.Has(rule.Reactants) {
			continue
		}
		rate := rule.Rate(s)
		if err := ws.Add(rate, sim.StepFunc[State](func(*rand.Rand, float64, float64) State {
			next, _ := s.Apply(rule.Reactants, rule.Products)
			return next
		})); err != nil {
			return nil, eris.Wrapf(err, "rule %q in state %v", rule.Name, s)
		}
	}
	return ws, nil
}

// Rules returns the model rules.
func (m *Model) Rules() []ReactionRule {
	return m.rules
}
