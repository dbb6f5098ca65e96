package transport

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/pkg"
)

// toStatus maps a node error onto the gRPC status sent to the caller.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, chord.ErrInvalidArgument), errors.Is(err, pkg.ErrInvalidKey):
		code = codes.InvalidArgument
	case errors.Is(err, pkg.ErrKeyNotFound):
		code = codes.NotFound
	case errors.Is(err, chord.ErrRoutingFailure):
		code = codes.Aborted
	case errors.Is(err, chord.ErrUnreachable), errors.Is(err, pkg.ErrStorageUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled), errors.Is(err, pkg.ErrContextCanceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

// fromStatus turns a failed call back into the node's sentinel errors. Anything
// that is not a domain answer means the peer could not serve the call.
func fromStatus(method string, address string, err error) error {
	if err == nil {
		return nil
	}

	st := status.Convert(err)
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = chord.ErrInvalidArgument
	case codes.NotFound:
		sentinel = pkg.ErrKeyNotFound
	case codes.Aborted:
		sentinel = chord.ErrRoutingFailure
	default:
		sentinel = chord.ErrUnreachable
	}
	return fmt.Errorf("%w: %s on %s: %s", sentinel, method, address, st.Message())
}
