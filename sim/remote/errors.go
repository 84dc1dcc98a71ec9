package remote

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnknownModel is returned for a model name missing from the catalog.
	ErrUnknownModel = eris.New("unknown model")

	// ErrUnknownMeasure is returned for a measure the model does not define.
	ErrUnknownMeasure = eris.New("unknown measure")

	// ErrUnknownPredicate is returned for a predicate the model does not define.
	ErrUnknownPredicate = eris.New("unknown predicate")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = eris.New("invalid simulation request")

	// ErrTransport matches every TransportError.
	ErrTransport = eris.New("worker transport failure")

	// ErrRemote is returned when a worker replied with an error.
	ErrRemote = eris.New("worker reported an error")
)

// TransportError reports a network failure talking to a worker. It matches
// ErrTransport and unwraps to the network error (network.ErrTimeout and friends).
type TransportError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
