package population

import (
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/remote"
)

// Species of the SAGRD epidemic model.
const (
	Susceptible  = 0 // S
	Asymptomatic = 1 // A
	Symptomatic  = 2 // G
	Recovered    = 3 // R
	Dead         = 4 // D
)

// SAGRD parameters.
const (
	CovidScale = 100

	LambdaMeet       = 4.0
	ProbTransmission = 0.1
	LambdaRecoveryA  = 1 / 7.0
	LambdaRecoveryG  = 1 / 15.0
	ProbAsymptomatic = 0.8
	ProbAToG         = 0.5
	ProbDeath        = 0.02

	// CovidModelName is the catalog name of the model.
	CovidModelName = "covid"
)

// CovidInitialState is the default start: 9900 susceptible and 100 asymptomatic agents.
func CovidInitialState() State {
	s, _ := NewState(99*CovidScale, 1*CovidScale, 0, 0, 0)
	return s
}

// NewCovidModel builds the SAGRD model. Recognized params: "lambda" (meeting rate) and
// "s", "a", "g", "r", "d" (initial occupancies; all five or none).
//
// Infection rates use the size of the initial population as N.
func NewCovidModel(params map[string]float64) (*Model, error) {
	lambda := LambdaMeet
	if v, ok := params["lambda"]; ok {
		if !(v >= 0) {
			return nil, eris.Wrapf(sim.ErrInvalidParameter, "lambda must be non-negative, got %v", v)
		}
		lambda = v
	}
	initial, err := covidInitial(params)
	if err != nil {
		return nil, err
	}
	n := float64(initial.Total())
	if n == 0 {
		return nil, eris.Wrap(sim.ErrInvalidParameter, "empty initial population")
	}

	infection := func(prob float64, spreader int) func(State) float64 {
		return func(s State) float64 {
			return prob * float64(s.Occupancy(Susceptible)) * ProbTransmission * lambda *
				(float64(s.Occupancy(spreader)) / n)
		}
	}
	progression := func(from int, rate, prob float64) func(State) float64 {
		return func(s State) float64 {
			return float64(s.Occupancy(from)) * rate * prob
		}
	}

	return NewModel(initial,
		ReactionRule{
			Name:      "S+A->A+A",
			Reactants: []Population{Of(Susceptible), Of(Asymptomatic)},
			Products:  []Population{Of(Asymptomatic), Of(Asymptomatic)},
			Rate:      infection(ProbAsymptomatic, Asymptomatic),
		},
		ReactionRule{
			Name:      "S+A->G+A",
			Reactants: []Population{Of(Susceptible), Of(Asymptomatic)},
			Products:  []Population{Of(Symptomatic), Of(Asymptomatic)},
			Rate:      infection(1-ProbAsymptomatic, Asymptomatic),
		},
		ReactionRule{
			Name:      "S+G->A+G",
			Reactants: []Population{Of(Susceptible), Of(Symptomatic)},
			Products:  []Population{Of(Asymptomatic), Of(Symptomatic)},
			Rate:      infection(ProbAsymptomatic, Symptomatic),
		},
		ReactionRule{
			Name:      "S+G->G+G",
			Reactants: []Population{Of(Susceptible), Of(Symptomatic)},
			Products:  []Population{Of(Symptomatic), Of(Symptomatic)},
			Rate:      infection(1-ProbAsymptomatic, Symptomatic),
		},
		ReactionRule{
			Name:      "A->G",
			Reactants: []Population{Of(Asymptomatic)},
			Products:  []Population{Of(Symptomatic)},
			Rate:      progression(Asymptomatic, LambdaRecoveryA, ProbAToG),
		},
		ReactionRule{
			Name:      "A->R",
			Reactants: []Population{Of(Asymptomatic)},
			Products:  []Population{Of(Recovered)},
			Rate:      progression(Asymptomatic, LambdaRecoveryA, 1-ProbAToG),
		},
		ReactionRule{
			Name:      "G->R",
			Reactants: []Population{Of(Symptomatic)},
			Products:  []Population{Of(Recovered)},
			Rate:      progression(Symptomatic, LambdaRecoveryG, 1-ProbDeath),
		},
		ReactionRule{
			Name:      "G->D",
			Reactants: []Population{Of(Symptomatic)},
			Products:  []Population{Of(Dead)},
			Rate:      progression(Symptomatic, LambdaRecoveryG, ProbDeath),
		},
	)
}

func covidInitial(params map[string]float64) (State, error) {
	keys := []string{"s", "a", "g", "r", "d"}
	counts := make([]int, 0, len(keys))
	for _, k := range keys {
		if v, ok := params[k]; ok {
			counts = append(counts, int(v))
		}
	}
	switch len(counts) {
	case 0:
		return CovidInitialState(), nil
	case len(keys):
		s, err := NewState(counts...)
		if err != nil {
			return State{}, eris.Wrap(sim.ErrInvalidParameter, err.Error())
		}
		return s, nil
	default:
		return State{}, eris.Wrapf(sim.ErrInvalidParameter, "initial state needs all of %v", keys)
	}
}

// CovidMeasures are the population fractions of each compartment.
func CovidMeasures() map[string]func(State) float64 {
	fraction := func(i int) func(State) float64 {
		return func(s State) float64 { return s.Fraction(i) }
	}
	return map[string]func(State) float64{
		"fraction-s": fraction(Susceptible),
		"fraction-a": fraction(Asymptomatic),
		"fraction-g": fraction(Symptomatic),
		"fraction-r": fraction(Recovered),
		"fraction-d": fraction(Dead),
		"infected": func(s State) float64 {
			return s.Fraction(Asymptomatic) + s.Fraction(Symptomatic)
		},
	}
}

// CovidPredicates are the state conditions used by reachability queries.
//   - extinct: no infected agent is left.
//   - no-deaths: nobody has died yet.
//   - peak-g: at least 10% of the population is symptomatic.
func CovidPredicates() map[string]sim.Predicate[State] {
	return map[string]sim.Predicate[State]{
		"extinct": func(s State) bool {
			return s.Occupancy(Asymptomatic)+s.Occupancy(Symptomatic) == 0
		},
		"no-deaths": func(s State) bool { return s.Occupancy(Dead) == 0 },
		"peak-g":    func(s State) bool { return s.Fraction(Symptomatic) >= 0.1 },
	}
}

// Register adds the covid model to catalog.
func Register(catalog *remote.Catalog) error {
	return remote.Register(catalog, CovidModelName, remote.Definition[State]{
		NewModel: func(params map[string]float64) (sim.Model[State], error) {
			return NewCovidModel(params)
		},
		Measures:   CovidMeasures(),
		Predicates: CovidPredicates(),
	})
}
