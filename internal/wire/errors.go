package wire

import "errors"

// ErrShortRead indicates EOF occurred before a declared frame length was satisfied.
var ErrShortRead = errors.New("wire: short read")

// ErrTooLarge indicates a frame's declared length exceeds the configured maximum.
var ErrTooLarge = errors.New("wire: frame too large")

// ErrUnknownType indicates a message envelope carried an unrecognized type.
var ErrUnknownType = errors.New("wire: unknown message type")

// ErrMissingField indicates a required payload field was absent.
var ErrMissingField = errors.New("wire: missing required field")
