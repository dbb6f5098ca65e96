package pkg

import "errors"

// Store errors. The transport maps ErrKeyNotFound to codes.NotFound so a
// remote miss compares equal to a local one.
var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrContextCanceled    = errors.New("context canceled")
	ErrStorageUnavailable = errors.New("storage unavailable") // store closed
	ErrInvalidKey         = errors.New("invalid key")         // not representable by the backend
)
