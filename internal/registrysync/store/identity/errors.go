package identity

import "errors"

// ErrNotFound is returned when no identity row matches the lookup.
var ErrNotFound = errors.New("registry identity not found")
