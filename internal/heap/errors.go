// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import "fmt"

// ErrTypeMismatch is returned when an accessor is called against a handle
// whose body is not the expected layout (e.g. ListGet on a map handle).
var ErrTypeMismatch = fmt.Errorf("heap: type mismatch")

// ErrOutOfBounds is returned by indexed list/object accessors.
var ErrOutOfBounds = fmt.Errorf("heap: index out of bounds")

func newTypeMismatchError(want string, got Kind) error {
	return fmt.Errorf("%w: want %s, got kind %d", ErrTypeMismatch, want, got)
}

func newOutOfBoundsError(idx, length int) error {
	return fmt.Errorf("%w: index %d, length %d", ErrOutOfBounds, idx, length)
}
