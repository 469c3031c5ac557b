package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/HSouheill/barrim_referrals/repositories"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := wrapError(CodeExpired, "invitation AB12 expired", errors.New("cause"))
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrInvalidState)

	wrapped := fmt.Errorf("accept: %w", err)
	assert.ErrorIs(t, wrapped, ErrExpired)

	var se *Error
	assert.True(t, errors.As(wrapped, &se))
	assert.Equal(t, CodeExpired, se.Code)
	assert.Equal(t, "EXPIRED: invitation AB12 expired: cause", se.Error())
}

func TestStorageError(t *testing.T) {
	assert.NoError(t, storageError("op", nil))
	assert.ErrorIs(t, storageError("load", repositories.ErrNotFound), ErrNotFound)
	assert.ErrorIs(t, storageError("commit", repositories.ErrWriteConflict), ErrTransientConflict)

	classified := newError(CodeQuotaExceeded, "full")
	assert.Same(t, classified, storageError("reserve", classified))

	boom := errors.New("socket closed")
	err := storageError("list", boom)
	assert.ErrorIs(t, err, boom)
	var se *Error
	assert.False(t, errors.As(err, &se))
}

type conflictingStore struct{ repositories.Store }

func (conflictingStore) WithTransaction(context.Context, func(context.Context) error) error {
	return fmt.Errorf("commit: %w", repositories.ErrWriteConflict)
}

func TestInTransactionClassifiesCommitFailures(t *testing.T) {
	err := inTransaction(context.Background(), conflictingStore{}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTransientConflict)
}

// conflictError stands in for a translated driver error: it matches
// ErrWriteConflict and unwraps to the labelled server error.
type conflictError struct{ cause mongo.CommandError }

func (e conflictError) Error() string        { return "write conflict: " + e.cause.Error() }
func (e conflictError) Unwrap() error        { return e.cause }
func (e conflictError) Is(target error) bool { return target == repositories.ErrWriteConflict }

func TestStorageErrorKeepsTransactionLabel(t *testing.T) {
	const label = "TransientTransactionError"
	cause := mongo.CommandError{Code: 112, Name: "WriteConflict", Labels: []string{label}}
	err := storageError("reserve slot", fmt.Errorf("reserve invitation slot: %w", conflictError{cause: cause}))
	assert.ErrorIs(t, err, ErrTransientConflict)

	found := false
	for e := err; e != nil; e = errors.Unwrap(e) {
		if le, ok := e.(mongo.LabeledError); ok && le.HasErrorLabel(label) {
			found = true
		}
	}
	assert.True(t, found)
}
