package unified

import "errors"

// Sentinel errors matching the abstract error kinds in spec §7 that this
// package can itself raise.
var (
	ErrIndexCorrupt = errors.New("unified: index corrupt")
	ErrOutOfCapacity = errors.New("unified: slot array full")
	ErrNotFound     = errors.New("unified: not found")
)
