package catalog

import (
	"errors"
	"fmt"
)

// LoadError reports a fatal catalog failure: the root catalog could not be
// read or decoded. Failures below the root never produce a LoadError.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading catalog %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsLoadError returns true if err is a fatal catalog load failure.
// Uses errors.As to handle wrapped errors.
func IsLoadError(err error) bool {
	var e *LoadError
	return errors.As(err, &e)
}
