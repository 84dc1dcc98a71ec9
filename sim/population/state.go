// Package population provides population models: states are occupancy vectors of
// species counts and transitions are reaction rules that move agents between species.
package population

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// State is an immutable occupancy vector. The zero value has no species.
type State struct {
	counts []int
	total  int
}

// NewState creates a state from species counts. Negative counts are rejected.
func NewState(counts ...int) (State, error) {
	c := make([]int, len(counts))
	total := 0
	for i, n := range counts {
		if n < 0 {
			return State{}, eris.Errorf("negative occupancy %d for species %d", n, i)
		}
		c[i] = n
		total += n
	}
	return State{counts: c, total: total}, nil
}

// Len returns the number of species.
func (s State) Len() int { return len(s.counts) }

// Occupancy returns the number of agents of species i.
func (s State) Occupancy(i int) int {
	if i < 0 || i >= len(s.counts) {
		return 0
	}
	return s.counts[i]
}

// Fraction returns the share of the population in species i (0 for an empty population).
func (s State) Fraction(i int) float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.Occupancy(i)) / float64(s.total)
}

// Total returns the population size.
func (s State) Total() int { return s.total }

// Counts returns a copy of the occupancy vector.
func (s State) Counts() []int {
	out := make([]int, len(s.counts))
	copy(out, s.counts)
	return out
}

// Has reports whether every population in ps is available.
func (s State) Has(ps []Population) bool {
	need := make(map[int]int, len(ps))
	for _, p := range ps {
		need[p.Species] += p.multiplicity()
	}
	for species, n := range need {
		if s.Occupancy(species) < n {
			return false
		}
	}
	return true
}

// Apply removes reactants and adds products, returning the new state.
// ok is false (and s is returned) when the reactants are not available.
func (s State) Apply(reactants, products []Population) (State, bool) {
	if !s.Has(reactants) {
		return s, false
	}
	next := State{counts: s.Counts(), total: s.total}
	for _, p := range reactants {
		next.counts[p.Species] -= p.multiplicity()
		next.total -= p.multiplicity()
	}
	for _, p := range products {
		next.counts[p.Species] += p.multiplicity()
		next.total += p.multiplicity()
	}
	return next, true
}

// Equal reports whether two states have the same occupancy vector.
func (s State) Equal(o State) bool {
	if len(s.counts) != len(o.counts) {
		return false
	}
	for i := range s.counts {
		if s.counts[i] != o.counts[i] {
			return false
		}
	}
	return true
}

func (s State) String() string {
	parts := make([]string, len(s.counts))
	for i, n := range s.counts {
		parts[i] = fmt.Sprint(n)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MarshalJSON encodes the state as its occupancy array.
func (s State) MarshalJSON() ([]byte, error) {
	if s.counts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.counts)
}

// UnmarshalJSON decodes an occupancy array.
func (s *State) UnmarshalJSON(data []byte) error {
	var counts []int
	if err := json.Unmarshal(data, &counts); err != nil {
		return eris.Wrap(err, "decoding population state")
	}
	st, err := NewState(counts...)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Population is a number of agents of one species taking part in a rule.
type Population struct {
	Species int
	// Multiplicity defaults to 1 when zero.
	Multiplicity int
}

// Of returns a population of one agent of species.
func Of(species int) Population {
	return Population{Species: species, Multiplicity: 1}
}

func (p Population) multiplicity() int {
	if p.Multiplicity <= 0 {
		return 1
	}
	return p.Multiplicity
}
