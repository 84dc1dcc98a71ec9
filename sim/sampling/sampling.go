package sampling

import (
	"github.com/rotisserie/eris"
)

// ErrIncompatible is returned when merging sampling functions or series of different shape.
var ErrIncompatible = eris.New("incompatible sampling data")

// Function observes replica runs: Start at the beginning of a replica, Sample once per
// kernel step (and once for the initial state), End when the replica stops.
// After a batch, TimeSeries exposes one finished series per measured quantity.
type Function[S any] interface {
	Start()
	Sample(time float64, state S)
	End(time float64)
	TimeSeries() []*TimeSeries
}

// Mergeable is implemented by sampling functions whose per-replica partial results can
// be folded into a shared aggregate. Merge must be commutative over replica order.
type Mergeable[S any] interface {
	Function[S]
	// Fresh returns an empty function with the same configuration.
	Fresh() Function[S]
	// Merge folds other (created by Fresh) into the receiver.
	Merge(other Function[S]) error
}

// IsMergeable reports whether f supports Fresh/Merge, including every member of a Collection.
func IsMergeable[S any](f Function[S]) bool {
	if c, ok := f.(*Collection[S]); ok {
		for _, m := range c.functions {
			if !IsMergeable(m) {
				return false
			}
		}
		return true
	}
	_, ok := f.(Mergeable[S])
	return ok
}

// Collection samples several functions together.
type Collection[S any] struct {
	functions []Function[S]
}

// NewCollection groups functions; they are sampled in the given order.
func NewCollection[S any](functions ...Function[S]) *Collection[S] {
	return &Collection[S]{functions: functions}
}

// Add appends a function to the collection.
func (c *Collection[S]) Add(f Function[S]) {
	c.functions = append(c.functions, f)
}

// Len returns the number of functions in the collection.
func (c *Collection[S]) Len() int {
	return len(c.functions)
}

func (c *Collection[S]) Start() {
	for _, f := range c.functions {
		f.Start()
	}
}

func (c *Collection[S]) Sample(time float64, state S) {
	for _, f := range c.functions {
		f.Sample(time, state)
	}
}

func (c *Collection[S]) End(time float64) {
	for _, f := range c.functions {
		f.End(time)
	}
}

// TimeSeries concatenates the series of every member in collection order.
func (c *Collection[S]) TimeSeries() []*TimeSeries {
	var out []*TimeSeries
	for _, f := range c.functions {
		out = append(out, f.TimeSeries()...)
	}
	return out
}

// Fresh returns a collection of fresh members. Members must be mergeable (see IsMergeable).
func (c *Collection[S]) Fresh() Function[S] {
	fresh := &Collection[S]{functions: make([]Function[S], 0, len(c.functions))}
	for _, f := range c.functions {
		if m, ok := f.(Mergeable[S]); ok {
			fresh.functions = append(fresh.functions, m.Fresh())
		} else {
			fresh.functions = append(fresh.functions, f)
		}
	}
	return fresh
}

// Merge folds a collection created by Fresh into c, member by member.
func (c *Collection[S]) Merge(other Function[S]) error {
	o, ok := other.(*Collection[S])
	if !ok || len(o.functions) != len(c.functions) {
		return eris.Wrap(ErrIncompatible, "collection shape mismatch")
	}
	for i, f := range c.functions {
		m, ok := f.(Mergeable[S])
		if !ok {
			return eris.Wrapf(ErrIncompatible, "member %d is not mergeable", i)
		}
		if err := m.Merge(o.functions[i]); err != nil {
			return eris.Wrapf(err, "member %d", i)
		}
	}
	return nil
}
