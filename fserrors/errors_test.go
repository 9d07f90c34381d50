package fserrors_test

import (
	"errors"
	"testing"

	"github.com/levkropp/survivalfs/fserrors"
	"github.com/stretchr/testify/assert"
)

func TestWithMessage(t *testing.T) {
	err := fserrors.ErrNotFound.WithMessage("/docs/readme.txt")
	assert.Equal(t, "not found: /docs/readme.txt", err.Error())
	assert.ErrorIs(t, err, fserrors.ErrNotFound)
}

func TestWrap(t *testing.T) {
	cause := errors.New("short read")
	err := fserrors.ErrIoError.Wrap(cause)

	assert.Equal(t, "I/O error: short read", err.Error())
	assert.ErrorIs(t, err, fserrors.ErrIoError)
	assert.ErrorIs(t, err, cause)
}

func TestWithMessageThenWrap(t *testing.T) {
	err := fserrors.ErrCorruptFilesystem.WithMessage("bad OEM id").Wrap(errors.New("eio"))
	assert.ErrorIs(t, err, fserrors.ErrCorruptFilesystem)
}
