package vetomint

import "errors"

var (
	// ErrInvariantViolated is returned when the consensus state breaks one of its internal invariants.
	// The caller must halt the height; continuing could violate safety.
	ErrInvariantViolated = errors.New("consensus invariant violated")
	// ErrUnknownEvent is returned when an event of an unknown type is delivered.
	ErrUnknownEvent = errors.New("unknown consensus event")

	ErrNoValidators = errors.New("validator set is empty")
	ErrZeroPower    = errors.New("total voting power is zero")
	ErrNodeIndex    = errors.New("node index out of range")
	ErrZeroTimeout  = errors.New("timeout must be positive")
)
