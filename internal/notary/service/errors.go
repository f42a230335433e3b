package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the notary service. Each typed error below matches its
// sentinel with errors.Is.
var (
	ErrChallengeExpired = errors.New("ownership challenge has expired; request a new one")
	ErrInvalidSignature = errors.New("signature does not prove ownership of address")
	ErrAddressMismatch  = errors.New("challenge was issued for a different address")
	ErrInvalidStar      = errors.New("invalid star data")
	ErrBlockNotFound    = errors.New("block not found")
	ErrNotInitialized   = errors.New("ledger has no genesis block")
)

// ChallengeExpiredError is returned when a submission arrives at or after the
// end of the challenge window.
type ChallengeExpiredError struct {
	Address        string
	ElapsedSeconds int64
	WindowSeconds  int64
}

func (e *ChallengeExpiredError) Error() string {
	return fmt.Sprintf("challenge for %s expired: %ds elapsed, window is %ds",
		e.Address, e.ElapsedSeconds, e.WindowSeconds)
}

func (e *ChallengeExpiredError) Is(target error) bool { return target == ErrChallengeExpired }

// InvalidSignatureError is returned when the signature does not verify.
type InvalidSignatureError struct {
	Address string
	Err     error // decoding failure, nil when the signature simply did not match
}

func (e *InvalidSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid signature for %s: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("invalid signature for %s", e.Address)
}

func (e *InvalidSignatureError) Unwrap() error { return e.Err }

func (e *InvalidSignatureError) Is(target error) bool { return target == ErrInvalidSignature }

// AddressMismatchError is returned when the submitter is not the address the
// challenge was issued for.
type AddressMismatchError struct {
	Address    string
	Challenged string
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("challenge issued for %s cannot be used by %s", e.Challenged, e.Address)
}

func (e *AddressMismatchError) Is(target error) bool { return target == ErrAddressMismatch }

// InvalidStarError names the star field that failed validation.
type InvalidStarError struct {
	Field  string
	Reason string
}

func (e *InvalidStarError) Error() string {
	return fmt.Sprintf("invalid star %s: %s", e.Field, e.Reason)
}

func (e *InvalidStarError) Is(target error) bool { return target == ErrInvalidStar }
