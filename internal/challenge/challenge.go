// Package challenge issues and parses the time-boxed ownership challenges a
// claimant must sign before registering a star.
//
// A challenge is the string "{address}:{issuedAtSeconds}:starRegistry".
// Nothing is stored: validity is derived solely from the embedded timestamp.
package challenge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Suffix is the fixed trailing field of every challenge message.
const Suffix = "starRegistry"

// DefaultWindow is how long a challenge stays valid after issuance.
const DefaultWindow = 300 * time.Second

// ErrMalformed matches every MalformedChallengeError.
var ErrMalformed = errors.New("malformed challenge")

// MalformedChallengeError reports a message that does not parse as a challenge.
type MalformedChallengeError struct {
	Message string
	Reason  string
}

func (e *MalformedChallengeError) Error() string {
	return fmt.Sprintf("malformed challenge %q: %s", e.Message, e.Reason)
}

func (e *MalformedChallengeError) Is(target error) bool { return target == ErrMalformed }

// Challenge is the parsed form of a challenge message.
type Challenge struct {
	Address  string
	IssuedAt int64 // Unix seconds
}

// String returns the wire form of c.
func (c Challenge) String() string {
	return fmt.Sprintf("%s:%d:%s", c.Address, c.IssuedAt, Suffix)
}

// Parse splits message into its three fields.
func Parse(message string) (*Challenge, error) {
	parts := strings.Split(message, ":")
	if len(parts) != 3 {
		return nil, &MalformedChallengeError{
			Message: message,
			Reason:  fmt.Sprintf("expected 3 colon-separated fields, got %d", len(parts)),
		}
	}
	if parts[0] == "" {
		return nil, &MalformedChallengeError{Message: message, Reason: "empty address"}
	}
	issuedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, &MalformedChallengeError{
			Message: message,
			Reason:  fmt.Sprintf("timestamp %q is not an integer", parts[1]),
		}
	}
	if parts[2] != Suffix {
		return nil, &MalformedChallengeError{
			Message: message,
			Reason:  fmt.Sprintf("unexpected suffix %q", parts[2]),
		}
	}
	return &Challenge{Address: parts[0], IssuedAt: issuedAt}, nil
}

// Issuer creates challenges and measures their age against a clock.
type Issuer struct {
	now func() time.Time
}

// NewIssuer returns an Issuer using the wall clock.
func NewIssuer() *Issuer {
	return &Issuer{now: time.Now}
}

// NewIssuerWithClock returns an Issuer reading time from now.
func NewIssuerWithClock(now func() time.Time) *Issuer {
	return &Issuer{now: now}
}

// Issue returns the challenge message for address, stamped with the current
// time truncated to whole seconds.
func (i *Issuer) Issue(address string) string {
	return Challenge{Address: address, IssuedAt: i.now().Unix()}.String()
}

// Elapsed returns the whole seconds between c's issuance and now. A challenge
// stamped later than the current time is malformed: no issuer produces one.
func (i *Issuer) Elapsed(c *Challenge) (int64, error) {
	elapsed := i.now().Unix() - c.IssuedAt
	if elapsed < 0 {
		return 0, &MalformedChallengeError{Message: c.String(), Reason: "issued in the future"}
	}
	return elapsed, nil
}

// ElapsedSeconds parses message and returns its age in whole seconds.
func (i *Issuer) ElapsedSeconds(message string) (int64, error) {
	c, err := Parse(message)
	if err != nil {
		return 0, err
	}
	return i.Elapsed(c)
}
