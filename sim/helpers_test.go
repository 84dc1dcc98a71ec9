package sim

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
)

// birthModel always has exactly one enabled transition of the given rate: n -> n+1.
type birthModel struct {
	rate float64
}

func (m birthModel) InitialState() int { return 0 }

func (m birthModel) Activities(_ *rand.Rand, n int) (*WeightedStructure[StepFunction[int]], error) {
	ws := NewWeightedStructure[StepFunction[int]]()
	err := ws.Add(m.rate, StepFunc[int](func(*rand.Rand, float64, float64) int { return n + 1 }))
	return ws, err
}

// decayModel counts down from start to the absorbing state 0 with rate n per unit.
type decayModel struct {
	start int
}

func (m decayModel) InitialState() int { return m.start }

func (m decayModel) Activities(_ *rand.Rand, n int) (*WeightedStructure[StepFunction[int]], error) {
	ws := NewWeightedStructure[StepFunction[int]]()
	if n == 0 {
		return ws, nil
	}
	err := ws.Add(float64(n), StepFunc[int](func(*rand.Rand, float64, float64) int { return n - 1 }))
	return ws, err
}

// choiceModel fires once from state 0 to either 1 or 2 (weights w1, w2); both are absorbing.
type choiceModel struct {
	w1, w2 float64
}

func (m choiceModel) InitialState() int { return 0 }

func (m choiceModel) Activities(_ *rand.Rand, n int) (*WeightedStructure[StepFunction[int]], error) {
	ws := NewWeightedStructure[StepFunction[int]]()
	if n != 0 {
		return ws, nil
	}
	if err := ws.Add(m.w1, StepFunc[int](func(*rand.Rand, float64, float64) int { return 1 })); err != nil {
		return nil, err
	}
	if err := ws.Add(m.w2, StepFunc[int](func(*rand.Rand, float64, float64) int { return 2 })); err != nil {
		return nil, err
	}
	return ws, nil
}

var errBroken = eris.New("broken model")

// failingModel behaves like birthModel until failAt, then reports an error.
type failingModel struct {
	failAt int
	weight float64 // used at failAt when non-zero instead of returning errBroken
}

func (m failingModel) InitialState() int { return 0 }

func (m failingModel) Activities(_ *rand.Rand, n int) (*WeightedStructure[StepFunction[int]], error) {
	ws := NewWeightedStructure[StepFunction[int]]()
	if n >= m.failAt {
		if m.weight != 0 {
			return nil, ws.Add(m.weight, StepFunc[int](func(*rand.Rand, float64, float64) int { return n }))
		}
		return nil, errBroken
	}
	err := ws.Add(1, StepFunc[int](func(*rand.Rand, float64, float64) int { return n + 1 }))
	return ws, err
}

// cancelAfter cancels itself once an update at or beyond at is observed.
type cancelAfter struct {
	CancelMonitor
	at         float64
	lastUpdate float64
	started    []int
	ended      []int
}

func (m *cancelAfter) Update(time float64) {
	m.lastUpdate = time
	if time >= m.at {
		m.Cancel()
	}
}

func (m *cancelAfter) StartIteration(i int) { m.started = append(m.started, i) }
func (m *cancelAfter) EndSimulation(i int)  { m.ended = append(m.ended, i) }

func identity(n int) float64 { return float64(n) }

// overflowModel enables two transitions whose rates sum past math.MaxFloat64.
type overflowModel struct{}

func (overflowModel) InitialState() int { return 0 }

func (overflowModel) Activities(_ *rand.Rand, n int) (*WeightedStructure[StepFunction[int]], error) {
	ws := NewWeightedStructure[StepFunction[int]]()
	for i := 0; i < 2; i++ {
		if err := ws.Add(math.MaxFloat64, StepFunc[int](func(*rand.Rand, float64, float64) int { return n + 1 })); err != nil {
			return nil, err
		}
	}
	return ws, nil
}
