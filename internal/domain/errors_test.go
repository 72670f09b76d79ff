package domain

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapErrorKeepsKindAndCause(t *testing.T) {
	err := WrapError(ErrDecode, "decode image", io.ErrUnexpectedEOF)

	assert.True(t, IsKind(err, ErrDecode))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, IsKind(err, ErrShapeMismatch))
	assert.Contains(t, err.Error(), "decode image")
}

func TestWrapErrorWithoutCause(t *testing.T) {
	err := WrapError(ErrConfiguration, "scan dataset", nil)

	assert.True(t, IsKind(err, ErrConfiguration))
	assert.Equal(t, "scan dataset: invalid configuration", err.Error())
}
