package signup

import "errors"

// MaxSlots is the hard cap on slot labels per squad. The signup keyboard
// puts one button per free slot and the transport refuses markup beyond it.
const MaxSlots = 25

var (
	// ErrTooManySlots is returned by PublishSquad when the label list
	// exceeds MaxSlots.
	ErrTooManySlots = errors.New("signup: too many slots")

	// ErrNoSlots is returned by PublishSquad on an empty label list.
	ErrNoSlots = errors.New("signup: squad needs at least one slot")
)
