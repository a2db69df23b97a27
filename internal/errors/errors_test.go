package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsExistingCode(t *testing.T) {
	inner := NotFound("proposal", "p-1")
	wrapped := Wrap(fmt.Errorf("lookup: %w", inner), ErrCodeInternal, "failed to load proposal")

	assert.Equal(t, ErrCodeNotFound, wrapped.Code)
	assert.True(t, Is(wrapped, ErrCodeNotFound))
}

func TestWrapPlainError(t *testing.T) {
	cause := stderrors.New("connection reset")
	wrapped := Wrap(cause, ErrCodeInternal, "failed to insert transaction")

	assert.Equal(t, ErrCodeInternal, wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "failed to insert transaction: connection reset", wrapped.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "unused"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("boom")))
	assert.Equal(t, ErrCodeValidation, CodeOf(InvalidInput("sync_fee", "must be positive")))
	assert.Equal(t, ErrCodeStorageConflict, CodeOf(StorageConflict(nil)))
	assert.False(t, Is(nil, ErrCodeInternal))
}

func TestFieldInMessage(t *testing.T) {
	err := InvalidInput("amount", "below minimum withdrawal 50.00")
	assert.Equal(t, "amount: below minimum withdrawal 50.00", err.Error())
}
