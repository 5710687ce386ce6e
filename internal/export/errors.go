package export

import (
	"errors"

	"github.com/rpattn/auditsync/internal/provider"
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as one that must stop the cycle. A nil err stays nil.
func Fatal(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, was marked by Fatal.
// Rejected credentials are always fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe) || errors.Is(err, provider.ErrUnauthorized)
}
