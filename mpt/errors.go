package mpt

import (
	"errors"
	"fmt"
)

var ErrInvariantViolation = errors.New("trie invariant violated")

var ErrVersionNotFound = errors.New("version not found")

var ErrInvalidVersion = errors.New("invalid version")

var ErrInvalidKey = errors.New("invalid key")

var ErrUnsupported = errors.New("not supported by this trie configuration")

// InvariantError reports a stored structure the trie can never produce, such as a dangling child
// reference or a branch with a single entry. The operation that found it is aborted.
type InvariantError struct {
	Reason string
	Digest []byte
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s (node %x)", ErrInvariantViolation, e.Reason, e.Digest)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}
