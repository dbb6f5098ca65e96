package chord

import "errors"

var (
	// ErrInvalidArgument is returned when a key equals the routing node's own
	// identifier, or a required argument is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRoutingFailure is returned when a lookup cannot resolve an owner.
	ErrRoutingFailure = errors.New("no successor found")

	// ErrUnreachable is returned when a remote call could not complete.
	ErrUnreachable = errors.New("peer unreachable")
)
