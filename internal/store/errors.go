package store

import "errors"

// Sentinel errors that store/postgres returns for missing rows and unique
// violations, so callers can branch with errors.Is. store/memory returns
// its own errors, which do not wrap these.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrDuplicateEntry = errors.New("store: duplicate entry")
)
