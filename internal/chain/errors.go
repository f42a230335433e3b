package chain

import (
	"errors"
	"fmt"
)

var (
	ErrDecode = errors.New("chain: block body cannot be decoded")
	ErrAppend = errors.New("chain: append invariant violated")
)

// DecodeError reports a block whose body is not validly encoded.
type DecodeError struct {
	Height int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode body of block %d: %v", e.Height, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// AppendError reports an internal inconsistency detected while appending.
type AppendError struct {
	Height int
	Reason string
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append at height %d: %s", e.Height, e.Reason)
}

func (e *AppendError) Is(target error) bool { return target == ErrAppend }

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	KindBrokenLink   ValidationKind = "broken_link"
	KindHashMismatch ValidationKind = "hash_mismatch"
	KindBadGenesis   ValidationKind = "bad_genesis"
)

// ValidationError describes one integrity failure at a given height.
// Validation errors are diagnostic; nothing repairs them automatically.
type ValidationError struct {
	Height   int            `json:"height"`
	Kind     ValidationKind `json:"kind"`
	Expected string         `json:"expected"`
	Actual   string         `json:"actual"`
}

func (e ValidationError) Error() string {
	switch e.Kind {
	case KindBrokenLink:
		return fmt.Sprintf("block %d: previous hash %q does not match block %d hash %q",
			e.Height, e.Actual, e.Height-1, e.Expected)
	case KindHashMismatch:
		return fmt.Sprintf("block %d: stored hash %q does not match recomputed %q",
			e.Height, e.Actual, e.Expected)
	default:
		return fmt.Sprintf("block %d: invalid genesis: expected %q, got %q",
			e.Height, e.Expected, e.Actual)
	}
}
