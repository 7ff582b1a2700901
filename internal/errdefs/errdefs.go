package errdefs

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the control surface. Callers test them with errors.Is.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrProvider        = errors.New("provider error")
	ErrStorageCorrupt  = errors.New("storage corrupt")
)

// Kind names used on the wire by the HTTP API and its client.
const (
	KindUnauthorized    = "unauthorized"
	KindInvalidArgument = "invalid_argument"
	KindNotFound        = "not_found"
	KindProvider        = "provider_error"
	KindStorageCorrupt  = "storage_corrupt"
	KindInternal        = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrProvider, KindProvider},
	{ErrStorageCorrupt, KindStorageCorrupt},
}

// Kind returns the wire kind of err, or KindInternal when err matches none of the sentinels.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// FromKind maps a wire kind back to its sentinel. Unknown kinds yield nil.
func FromKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// Provider wraps a transport, timeout or status failure of a provider operation.
// The result matches both ErrProvider and err.
func Provider(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProvider, err)
}

// Invalid builds an ErrInvalidArgument with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
