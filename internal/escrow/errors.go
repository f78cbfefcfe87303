package escrow

import "errors"

// Validation errors. Every operation that returns one of these left state unchanged.
var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("caller not authorized")
	ErrNotRegistered        = errors.New("caller not registered")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidStatus        = errors.New("invalid status for operation")
	ErrBiddingClosed        = errors.New("bidding window closed")
	ErrDuplicateBid         = errors.New("freelancer already has a pending bid")
	ErrDisputeExists        = errors.New("task already has an open dispute")
	ErrDisputeNotOpen       = errors.New("dispute is not open")
	ErrTimeoutNotReached    = errors.New("dispute timeout not reached")
	ErrNotExpired           = errors.New("task deadline not passed")
	ErrInvalidMatches       = errors.New("invalid match results")
	ErrMatcherUnavailable   = errors.New("no match producer configured")
	ErrSettlementInProgress = errors.New("settlement in progress for task")
	ErrNotEmpty             = errors.New("engine already holds state")
	ErrCustodyMismatch      = errors.New("escrow account balance does not match task records")
)

// IsStale reports whether err means the target no longer qualifies for the attempted
// transition, as opposed to a failure while performing it.
func IsStale(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrDisputeNotOpen) ||
		errors.Is(err, ErrTimeoutNotReached) ||
		errors.Is(err, ErrNotExpired) ||
		errors.Is(err, ErrSettlementInProgress)
}
