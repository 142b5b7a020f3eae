package store

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failed store call so callers can decide between
// retrying, surfacing a message, or treating the target as gone.
type Kind int

const (
	// KindTransport is a network or timeout failure; the store may not
	// have seen the request at all.
	KindTransport Kind = iota
	// KindRejected means the store answered with an error status.
	KindRejected
	// KindNotFound means the requested marker does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not found"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

// kindOf unwraps any pkg/errors wrapping around the classified error.
// *Error deliberately does not implement Cause; errors.Cause must stop
// at it, not unwrap through it.
func kindOf(err error) (Kind, bool) {
	se, ok := errors.Cause(err).(*Error)
	if !ok {
		return 0, false
	}
	return se.Kind, true
}

func IsTransport(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransport
}

func IsRejected(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRejected
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}
