package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDecode              = errors.New("image could not be decoded")
	ErrShapeMismatch       = errors.New("weights do not match classifier shape")
	ErrConfiguration       = errors.New("invalid configuration")
	ErrArtifactUnavailable = errors.New("artifact unavailable")
)

// WrapError preserves the error kind with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", operation, kind)
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
