// sim/weighted.go
package sim

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// WeightedElement pairs an element with its non-negative weight.
type WeightedElement[T any] struct {
	Weight  float64
	Element T
}

// WeightedStructure holds weighted candidates in insertion order and supports weighted
// selection by cumulative weight.
//
// Selection uses the cumulative intervals (c[i-1], c[i]]: the selected element is the
// first one whose cumulative weight is >= x. Zero-weight elements are never stored since
// they could never fire. The ordering is fixed for the lifetime of the structure.
//
// Thread-safety: NOT thread-safe. A structure belongs to one step of one replica.
type WeightedStructure[T any] struct {
	elements   []WeightedElement[T]
	cumulative []float64
}

// NewWeightedStructure creates an empty structure.
func NewWeightedStructure[T any]() *WeightedStructure[T] {
	return &WeightedStructure[T]{}
}

// Add appends element with the given weight.
// Returns ErrInvalidWeight for negative, NaN or infinite weights.
func (w *WeightedStructure[T]) Add(weight float64, element T) error {
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return eris.Wrapf(ErrInvalidWeight, "weight %v", weight)
	}
	if weight == 0 {
		return nil
	}
	w.elements = append(w.elements, WeightedElement[T]{Weight: weight, Element: element})
	w.cumulative = append(w.cumulative, w.TotalWeight()+weight)
	return nil
}

// AddAll appends every element of other, preserving its order.
func (w *WeightedStructure[T]) AddAll(other *WeightedStructure[T]) {
	if other == nil {
		return
	}
	for _, e := range other.elements {
		w.elements = append(w.elements, e)
		w.cumulative = append(w.cumulative, w.TotalWeight()+e.Weight)
	}
}

// TotalWeight returns the sum of all weights (0 for an empty structure).
func (w *WeightedStructure[T]) TotalWeight() float64 {
	if w == nil || len(w.cumulative) == 0 {
		return 0
	}
	return w.cumulative[len(w.cumulative)-1]
}

// Len returns the number of stored elements.
func (w *WeightedStructure[T]) Len() int {
	if w == nil {
		return 0
	}
	return len(w.elements)
}

// Elements returns a copy of the stored elements in selection order.
func (w *WeightedStructure[T]) Elements() []WeightedElement[T] {
	if w == nil {
		return nil
	}
	out := make([]WeightedElement[T], len(w.elements))
	copy(out, w.elements)
	return out
}

// Select returns the element whose cumulative interval contains x.
// ok is false when the structure is empty or x is outside [0, TotalWeight()].
func (w *WeightedStructure[T]) Select(x float64) (WeightedElement[T], bool) {
	var zero WeightedElement[T]
	if w.Len() == 0 || math.IsNaN(x) || x < 0 || x > w.TotalWeight() {
		return zero, false
	}
	idx := sort.SearchFloat64s(w.cumulative, x)
	if idx >= len(w.elements) {
		return zero, false
	}
	return w.elements[idx], true
}
