package sim

import "github.com/rotisserie/eris"

var (
	// ErrInvalidWeight is returned when a transition weight is negative, NaN or infinite.
	ErrInvalidWeight = eris.New("invalid transition weight")

	// ErrSelectionFailed is returned when a non-empty weighted structure yields no
	// element for a valid selection point.
	ErrSelectionFailed = eris.New("weighted selection failed on non-empty structure")

	// ErrModelInconsistency is returned when a model produces activities that cannot
	// drive an SSA step (for example a non-finite total rate).
	ErrModelInconsistency = eris.New("model inconsistency")

	// ErrInvalidParameter is returned for out-of-range estimator or batch parameters.
	ErrInvalidParameter = eris.New("invalid parameter")

	// ErrAlreadyRegistered is returned when a context already holds a random generator.
	ErrAlreadyRegistered = eris.New("random generator already registered for this context")

	// ErrNotRegistered is returned when no random generator is registered for a context.
	ErrNotRegistered = eris.New("no random generator registered for this context")
)
