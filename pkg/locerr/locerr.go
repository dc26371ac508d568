// Package locerr defines the typed error kinds shared across the location
// service: coordinate validation, mode negotiation, provider selection,
// driver, observable reentrancy, and reporter failures.
package locerr

import "fmt"

// Kind identifies one of the service-wide error categories.
type Kind string

const (
	KindInvalidCoordinate  Kind = "invalid_coordinate"
	KindUnsupportedMode    Kind = "unsupported_mode"
	KindNoMatchingProvider Kind = "no_matching_provider"
	KindDriverUnavailable  Kind = "driver_unavailable"
	KindReentrancyRejected Kind = "reentrancy_rejected"
	KindReporterTransient  Kind = "reporter_transient"
	KindReporterPermanent  Kind = "reporter_permanent"
	KindPermissionDenied   Kind = "permission_denied"
)

// Error is a typed error carrying one of the Kind values plus context.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Err: cause}
}

// Is reports whether err is a *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
