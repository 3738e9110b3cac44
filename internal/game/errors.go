package game

import (
	"errors"
	"fmt"
	"strings"
)

// Precondition failures. None of them mutate state; callers re-read and retry.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPhase    = errors.New("round/phase no longer current")
	ErrAlreadyLocked   = errors.New("phase already locked")
	ErrNotHost         = errors.New("only the host may do this")
	ErrNotController   = errors.New("player does not control this nation")
	ErrNotAllCommitted = errors.New("not all nations have committed")
	ErrNotActive       = errors.New("session is not active")
	ErrNotLobby        = errors.New("session has already started")
	ErrSessionFull     = errors.New("session is full")
	ErrAlreadyFinished = errors.New("session is finished")
	ErrInvalidArgument = errors.New("invalid argument")
)

// PendingError reports which nations are still DRAFT when an advance is
// refused. It unwraps to ErrNotAllCommitted.
type PendingError struct {
	Turn    Turn
	Pending []string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s: %s still drafting (%s)", ErrNotAllCommitted, strings.Join(e.Pending, ", "), e.Turn)
}

func (e *PendingError) Unwrap() error {
	return ErrNotAllCommitted
}
