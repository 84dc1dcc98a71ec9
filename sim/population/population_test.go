package population

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/remote"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallCovid(t *testing.T) *Model {
	t.Helper()
	m, err := NewCovidModel(map[string]float64{"s": 190, "a": 10, "g": 0, "r": 0, "d": 0})
	require.NoError(t, err)
	return m
}

func TestState_ApplyIsImmutable(t *testing.T) {
	s, err := NewState(3, 1, 0)
	require.NoError(t, err)

	next, ok := s.Apply([]Population{Of(0), Of(1)}, []Population{Of(1), Of(1)})

	require.True(t, ok)
	assert.Equal(t, []int{2, 2, 0}, next.Counts())
	assert.Equal(t, []int{3, 1, 0}, s.Counts(), "original state unchanged")
	assert.Equal(t, 4, next.Total())

	_, ok = s.Apply([]Population{Of(2)}, []Population{Of(0)})
	assert.False(t, ok)
	_, ok = s.Apply([]Population{{Species: 1, Multiplicity: 2}}, nil)
	assert.False(t, ok)
}

func TestState_RejectsNegative(t *testing.T) {
	_, err := NewState(1, -1)
	assert.Error(t, err)
}

func TestState_FractionAndJSON(t *testing.T) {
	s, err := NewState(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.75, s.Fraction(1))
	assert.Equal(t, 0, s.Occupancy(7))
	assert.Equal(t, "[1 3]", s.String())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,3]`, string(data))

	var back State
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, s.Equal(back))
	assert.Error(t, json.Unmarshal([]byte(`[-2]`), &back))

	var empty State
	assert.Equal(t, 0.0, empty.Fraction(0))
}

func TestNewModel_ValidatesRules(t *testing.T) {
	s, _ := NewState(1, 1)
	_, err := NewModel(s, ReactionRule{Name: "bad", Reactants: []Population{Of(5)}, Rate: func(State) float64 { return 1 }})
	assert.Error(t, err)
	_, err = NewModel(s, ReactionRule{Name: "norate", Reactants: []Population{Of(0)}})
	assert.Error(t, err)
}

func TestModel_ActivitiesSkipDisabledRules(t *testing.T) {
	// GIVEN the default covid state (no symptomatic agents)
	m, err := NewCovidModel(nil)
	require.NoError(t, err)

	ws, err := m.Activities(rand.New(rand.NewSource(1)), m.InitialState())

	// THEN only the rules driven by asymptomatic agents fire: 2 infections + 2 progressions
	require.NoError(t, err)
	assert.Equal(t, 4, ws.Len())
	n := 10000.0
	wantInfection := 9900 * ProbTransmission * LambdaMeet * (100 / n)
	wantProgression := 100 * LambdaRecoveryA
	assert.InDelta(t, wantInfection+wantProgression, ws.TotalWeight(), 1e-9)
}

func TestModel_NegativeRateFailsReplica(t *testing.T) {
	s, _ := NewState(1)
	m, err := NewModel(s, ReactionRule{Name: "neg", Reactants: []Population{Of(0)}, Products: []Population{Of(0)},
		Rate: func(State) float64 { return -1 }})
	require.NoError(t, err)

	_, err = m.Activities(nil, s)

	assert.True(t, eris.Is(err, sim.ErrInvalidWeight))
}

func TestModel_ZeroRateIsAbsorbing(t *testing.T) {
	s, _ := NewState(1)
	m, err := NewModel(s, ReactionRule{Name: "zero", Reactants: []Population{Of(0)}, Rate: func(State) float64 { return 0 }})
	require.NoError(t, err)

	result, err := sim.NewKernel[State](m).Run(rand.New(rand.NewSource(1)), 10, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeAbsorbed, result.Outcome)
}

func TestCovid_PopulationIsConserved(t *testing.T) {
	// GIVEN a small SAGRD epidemic
	m := smallCovid(t)
	rec := sampling.NewTraceRecorder[State]()

	// WHEN one replica runs until absorption
	result, err := sim.NewKernel[State](m).Run(rand.New(rand.NewSource(4)), 1e6, nil, rec)

	// THEN every visited state keeps 200 agents and the epidemic dies out
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeAbsorbed, result.Outcome)
	for _, p := range rec.Points() {
		if p.State.Total() != 200 {
			t.Fatalf("population %d at t=%v", p.State.Total(), p.Time)
		}
	}
	last, _ := rec.Last()
	assert.True(t, CovidPredicates()["extinct"](last.State))
}

func TestCovid_ParamsValidation(t *testing.T) {
	_, err := NewCovidModel(map[string]float64{"s": 10})
	assert.True(t, eris.Is(err, sim.ErrInvalidParameter))
	_, err = NewCovidModel(map[string]float64{"lambda": math.NaN()})
	assert.True(t, eris.Is(err, sim.ErrInvalidParameter))
	_, err = NewCovidModel(map[string]float64{"s": 0, "a": 0, "g": 0, "r": 0, "d": 0})
	assert.True(t, eris.Is(err, sim.ErrInvalidParameter))

	m, err := NewCovidModel(map[string]float64{"lambda": 0})
	require.NoError(t, err)
	ws, err := m.Activities(nil, m.InitialState())
	require.NoError(t, err)
	assert.Equal(t, 2, ws.Len(), "no infections without meetings")
}

func TestCovid_MeasuresAndPredicates(t *testing.T) {
	s := CovidInitialState()
	measures := CovidMeasures()
	assert.InDelta(t, 0.99, measures["fraction-s"](s), 1e-12)
	assert.InDelta(t, 0.01, measures["infected"](s), 1e-12)

	preds := CovidPredicates()
	assert.False(t, preds["extinct"](s))
	assert.True(t, preds["no-deaths"](s))
	assert.False(t, preds["peak-g"](s))
}

func TestCovid_EnvironmentSeriesFractionsSumToOne(t *testing.T) {
	env := sim.NewEnvironment[State](smallCovid(t), sim.EnvironmentConfig{Seed: 9, Parallelism: 2})
	measures := CovidMeasures()
	names := []string{"fraction-s", "fraction-a", "fraction-g", "fraction-r", "fraction-d"}
	collection := sampling.NewCollection[State]()
	for _, name := range names {
		collection.Add(sampling.Measure(name, 10, 20, measures[name]))
	}
	env.SetSampling(collection)

	_, err := env.Simulate(context.Background(), nil, 8, 20)

	require.NoError(t, err)
	series := env.TimeSeries()
	require.Len(t, series, len(names))
	for i := 0; i < 10; i++ {
		sum := 0.0
		for _, ts := range series {
			sum += ts.Points[i].Mean
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "grid point %d", i)
	}
}

func TestRegister_AddsCovidToCatalog(t *testing.T) {
	catalog := remote.NewCatalog()
	require.NoError(t, Register(catalog))
	assert.Error(t, Register(catalog), "duplicate registration")

	info, ok := catalog.Describe(CovidModelName)
	require.True(t, ok)
	assert.Contains(t, info.Measures, "fraction-g")
	assert.Equal(t, []string{"extinct", "no-deaths", "peak-g"}, info.Predicates)
}
