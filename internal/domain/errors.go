package domain

import "errors"

// Domain errors
var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientCards        = errors.New("insufficient cards in deck")
	ErrAlreadyInMatch           = errors.New("player already in a match")
	ErrNoActiveMatch            = errors.New("player has no active match")
	ErrConflict                 = errors.New("profile changed since load")
	ErrInvalidAction            = errors.New("action not legal in current match state")
	ErrMatchFull                = errors.New("match is full")
	ErrBelowMinimumParticipants = errors.New("not enough participants")
	ErrNotFound                 = errors.New("not found")
	ErrUnknownGameType          = errors.New("unknown game type")
	ErrInvalidStake             = errors.New("stake outside allowed bounds")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrInternalError            = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoActiveMatch)
}
