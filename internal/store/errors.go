package store

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the broker's error taxonomy. Callers match with
// errors.Is; the façade maps them onto user-facing failures and decides
// retry behaviour (only ErrUnavailable is retryable).
var (
	// ErrNotFound: the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a unique constraint was violated. Upsert paths resolve
	// this by re-reading; everywhere else it surfaces.
	ErrConflict = errors.New("conflict")

	// ErrPermissionDenied: a permission query failed (not a member, no
	// can_send, etc.). Never silent on writes; reads filter instead.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPolicyDenied: DM policy forbids the operation (closed/restricted
	// without allow, or an explicit block).
	ErrPolicyDenied = errors.New("policy denied")

	// ErrInvalidArgument: shape, length, or range violation on input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFilter: a filter tree failed to parse, exceeded the depth limit,
	// or used an unknown operator.
	ErrFilter = errors.New("filter error")

	// ErrUnavailable: transient backend failure; retried with backoff
	// inside the façade before surfacing.
	ErrUnavailable = errors.New("unavailable")

	// ErrIntegrity: a stored invariant is violated; not retryable.
	ErrIntegrity = errors.New("integrity violation")
)

// NotFoundf wraps ErrNotFound with a formatted description.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted description.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// PermissionDeniedf wraps ErrPermissionDenied. The message should name the
// rule violated in one sentence ("agent is not a member of this channel"),
// never leak SQL.
func PermissionDeniedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// PolicyDeniedf wraps ErrPolicyDenied with a formatted description.
func PolicyDeniedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPolicyDenied, fmt.Sprintf(format, args...))
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted description.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Filterf wraps ErrFilter with a formatted description.
func Filterf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFilter, fmt.Sprintf(format, args...))
}

// Unavailablef wraps ErrUnavailable with a formatted description.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Integrityf wraps ErrIntegrity with a formatted description.
func Integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}
