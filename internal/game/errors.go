package game

import (
	"errors"
	"fmt"
)

// Contract failures. Every rejection wraps ErrPrecondition; broken internal
// invariants wrap ErrPostcondition so callers can tell bad input from engine bugs.
var (
	ErrPrecondition  = errors.New("precondition violated")
	ErrPostcondition = errors.New("postcondition violated")
)

var (
	ErrColumnOutOfRange  = fmt.Errorf("%w: column out of range", ErrPrecondition)
	ErrNotEnoughPlayers  = fmt.Errorf("%w: not enough players", ErrPrecondition)
	ErrSessionFull       = fmt.Errorf("%w: session is full", ErrPrecondition)
	ErrDuplicatePlayer   = fmt.Errorf("%w: player already seated", ErrPrecondition)
	ErrUnknownPlayer     = fmt.Errorf("%w: player not in session", ErrPrecondition)
	ErrSessionFinished   = fmt.Errorf("%w: session is finished", ErrPrecondition)
	ErrWrongPhase        = fmt.Errorf("%w: operation not valid in this phase", ErrPrecondition)
	ErrInvalidDifficulty = fmt.Errorf("%w: difficulty out of range", ErrPrecondition)
	ErrInvalidVariant    = fmt.Errorf("%w: invalid variant", ErrPrecondition)
	ErrNoFreeColumn      = fmt.Errorf("%w: board has no free column", ErrPrecondition)
	ErrNotYourTurn       = fmt.Errorf("%w: not your turn", ErrPrecondition)
)

func postcondition(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPostcondition}, args...)...)
}
