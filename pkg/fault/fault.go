// Package fault defines the error taxonomy shared by every covenant
// component. A Fault is always a synchronous, hard failure: the
// operation that produced it left no observable state change and must
// not be retried internally. Retry policy, if any, belongs to the
// external caller.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a hard failure.
type Kind string

const (
	// Precondition covers wrong state, unauthorized callers, and
	// malformed input. Permanent for terminal states (a triggered
	// intent rejects every mutation forever).
	Precondition Kind = "PRECONDITION_VIOLATION"

	// Policy marks the prohibited-action filter or a length limit
	// doing its job. Semantically distinct from Precondition: the
	// rejection is the designed behavior, not a caller bug.
	Policy Kind = "POLICY_REJECTION"

	// Transfer marks a failed external value transfer. The entire
	// operation, including any ledger debit made before the send,
	// has been reverted.
	Transfer Kind = "EXTERNAL_TRANSFER_FAILURE"

	// NotFound marks a missing principal, record, or cache entry
	// where presence was required.
	NotFound Kind = "NOT_FOUND"
)

// Fault is a classified hard failure.
type Fault struct {
	Kind Kind
	Op   string // operation that failed, e.g. "intent.Capture"
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", f.Op, f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s: %s", f.Op, f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// Preconditionf returns a Precondition fault.
func Preconditionf(op, format string, args ...any) error {
	return &Fault{Kind: Precondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Policyf returns a Policy fault.
func Policyf(op, format string, args ...any) error {
	return &Fault{Kind: Policy, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transferf returns a Transfer fault wrapping the send error.
func Transferf(op string, err error, format string, args ...any) error {
	return &Fault{Kind: Transfer, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFoundf returns a NotFound fault.
func NotFoundf(op, format string, args ...any) error {
	return &Fault{Kind: NotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" if err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsPrecondition reports whether err is a Precondition fault.
func IsPrecondition(err error) bool { return KindOf(err) == Precondition }

// IsPolicy reports whether err is a Policy fault.
func IsPolicy(err error) bool { return KindOf(err) == Policy }

// IsTransfer reports whether err is a Transfer fault.
func IsTransfer(err error) bool { return KindOf(err) == Transfer }

// IsNotFound reports whether err is a NotFound fault.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }
