package features

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch means the fitted encoders cannot produce the persisted column order.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
	// ErrNotFitted is returned when transform runs before fit or load.
	ErrNotFitted = errors.New("feature pipeline not fitted")
)

// EncodingError reports a malformed field value in a campaign description.
type EncodingError struct {
	Field  string
	Value  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s=%q: %s", e.Field, e.Value, e.Reason)
}

// IsEncodingError reports whether err wraps an *EncodingError.
func IsEncodingError(err error) bool {
	var target *EncodingError
	return errors.As(err, &target)
}
