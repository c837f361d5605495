package domain

import (
	"fmt"

	"github.com/juju/errors"
)

// Error kinds not covered by juju/errors. Every error returned by the
// lifecycle manager and the stores wraps exactly one kind, so callers
// classify with errors.Is.
const (
	// Unavailable means the backend could not be reached or rejected the query.
	Unavailable = errors.ConstError("backend unavailable")

	// ErrInvalidTransition means the requested status change is not in the
	// lifecycle table for the request's current status.
	ErrInvalidTransition = errors.ConstError("invalid status transition")

	// ErrConcurrentUpdate means the request changed status between the read
	// and the guarded write.
	ErrConcurrentUpdate = errors.ConstError("request was modified concurrently")
)

var (
	ErrRequestNotFound    = fmt.Errorf("service request %w", errors.NotFound)
	ErrServiceNotFound    = fmt.Errorf("service %w", errors.NotFound)
	ErrDepartmentNotFound = fmt.Errorf("department %w", errors.NotFound)
	ErrRoleNotFound       = fmt.Errorf("user role %w", errors.NotFound)

	ErrServiceInactive      = fmt.Errorf("%w: service is not accepting applications", errors.NotValid)
	ErrInvalidStatus        = fmt.Errorf("%w: unknown request status", errors.NotValid)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: payment method must be card, upi or net_banking", errors.NotValid)
	ErrRemarksRequired      = fmt.Errorf("%w: remarks are required when rejecting", errors.NotValid)
	ErrCitizenRequired      = fmt.Errorf("%w: citizen_id is required", errors.NotValid)
	ErrNegativeFee          = fmt.Errorf("%w: fee must not be negative", errors.NotValid)
	ErrIncompleteService    = fmt.Errorf("%w: name, description, fee, processing_time and department_id are required", errors.NotValid)
	ErrUnknownRole          = fmt.Errorf("%w: unknown role", errors.NotValid)
	ErrMalformedID          = fmt.Errorf("%w: malformed id", errors.NotValid)

	ErrNotPermitted = fmt.Errorf("%w: role is not permitted", errors.Forbidden)
	ErrOutsideScope = fmt.Errorf("%w: request belongs to another department", errors.Forbidden)
	ErrNotOwner     = fmt.Errorf("%w: request belongs to another citizen", errors.Forbidden)

	ErrMissingToken = fmt.Errorf("%w: missing bearer token", errors.Unauthorized)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", errors.Unauthorized)
)

// Kind reports the kind err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{
		Unavailable,
		errors.NotValid,
		errors.Unauthorized,
		errors.Forbidden,
		errors.NotFound,
		ErrInvalidTransition,
		ErrConcurrentUpdate,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// UnavailableError wraps a backend failure as Unavailable. The cause stays
// reachable through errors.Is and errors.As.
func UnavailableError(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, Unavailable, cause)
}
