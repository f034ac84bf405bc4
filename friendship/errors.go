package friendship

import "errors"

// Sentinel errors returned by Service operations. Handlers map these onto
// HTTP status codes; anything else is treated as an internal error.
var (
	// ErrInvalidOperation covers requests that can never succeed, such as
	// sending a friend request to yourself or rejecting a relationship
	// that is already inactive.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrAlreadyPending is returned when a request already exists between
	// the pair, regardless of which side initiated it.
	ErrAlreadyPending = errors.New("friend request already pending")

	// ErrAlreadyFriends is returned when the pair is already FRIENDLY.
	ErrAlreadyFriends = errors.New("already friends")

	// ErrNotFound is returned when the relationship (or the other user)
	// does not exist, or the caller is not a participant.
	ErrNotFound = errors.New("relationship not found")

	// ErrForbidden is returned when the caller is a participant but the
	// operation is reserved for the other side (e.g. only the recipient
	// may accept).
	ErrForbidden = errors.New("operation not allowed for caller")
)

// IsConflict reports whether err represents a state conflict (the pair is
// already pending or already friends).
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPending) || errors.Is(err, ErrAlreadyFriends)
}
