package types

import "errors"

// Validation errors, rejected before anything is persisted or broadcast.
var (
	ErrEmptyMessage       = errors.New("message is empty")
	ErrMessageTooLong     = errors.New("message exceeds 500 characters")
	ErrInvalidCoordinates = errors.New("coordinates out of bounds: lat must be -90..90, lng -180..180")
	ErrMissingFileRef     = errors.New("file reference requires url, name and size")
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidKind        = errors.New("invalid message kind")
)
