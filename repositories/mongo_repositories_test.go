package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/HSouheill/barrim_referrals/models"
)

// hasLabel walks the single Unwrap chain the way the driver does when it
// decides whether a transaction can be retried.
func hasLabel(err error, label string) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if le, ok := err.(mongo.LabeledError); ok && le.HasErrorLabel(label) {
			return true
		}
	}
	return false
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))
	assert.Same(t, ErrNotFound, translateError(mongo.ErrNoDocuments))

	other := errors.New("connection reset")
	assert.Same(t, other, translateError(other))

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
	err := translateError(dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NotErrorIs(t, err, ErrWriteConflict)
	var we mongo.WriteException
	assert.True(t, errors.As(err, &we))
}

func TestTranslateErrorKeepsTransactionLabel(t *testing.T) {
	raw := mongo.CommandError{
		Code:    writeConflictCode,
		Name:    "WriteConflict",
		Message: "write conflict during plan execution",
		Labels:  []string{transientTransactionLabel},
	}

	err := translateError(raw)
	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.True(t, hasLabel(err, transientTransactionLabel))

	wrapped := fmt.Errorf("reserve invitation slot: %w", err)
	assert.ErrorIs(t, wrapped, ErrWriteConflict)
	assert.True(t, hasLabel(wrapped, transientTransactionLabel))

	labelOnly := mongo.CommandError{Code: 251, Name: "NoSuchTransaction", Labels: []string{transientTransactionLabel}}
	assert.ErrorIs(t, translateError(labelOnly), ErrWriteConflict)
}

func TestPromoterRepositoryMongo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("reserve with no matching promoter", func(mt *mtest.T) {
		repo := &PromoterRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "lastErrorObject", Value: bson.D{{Key: "n", Value: 0}, {Key: "updatedExisting", Value: false}}},
			bson.E{Key: "value", Value: nil},
		))

		p, err := repo.ReserveInvitationSlot(context.Background(), primitive.NewObjectID())
		assert.Nil(mt, p)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("reserve returns the updated promoter", func(mt *mtest.T) {
		repo := &PromoterRepositoryMongo{collection: mt.Coll}
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "lastErrorObject", Value: bson.D{{Key: "n", Value: 1}, {Key: "updatedExisting", Value: true}}},
			bson.E{Key: "value", Value: bson.D{
				{Key: "_id", Value: id},
				{Key: "tier", Value: string(models.TierBronze)},
				{Key: "invitationQuota", Value: 10},
				{Key: "invitationsUsed", Value: 4},
				{Key: "isActive", Value: true},
			}},
		))

		p, err := repo.ReserveInvitationSlot(context.Background(), id)
		require.NoError(mt, err)
		assert.Equal(mt, id, p.ID)
		assert.Equal(mt, 4, p.InvitationsUsed)
	})

	mt.Run("tier change that lost the race", func(mt *mtest.T) {
		repo := &PromoterRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		changed, err := repo.ChangeTier(context.Background(), primitive.NewObjectID(), TierChange{
			From: models.TierBronze,
			To:   models.TierSilver,
		})
		require.NoError(mt, err)
		assert.False(mt, changed)
	})

	mt.Run("update of a missing promoter", func(mt *mtest.T) {
		repo := &PromoterRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := repo.RecordSuccessfulInvitation(context.Background(), primitive.NewObjectID())
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestInvitationRepositoryMongo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	accepted := InvitationUpdate{Status: models.InvitationAccepted}
	from := []models.InvitationStatus{models.InvitationPending, models.InvitationSent}

	mt.Run("transition with no matching invitation", func(mt *mtest.T) {
		repo := &InvitationRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		ok, err := repo.Transition(context.Background(), primitive.NewObjectID(), from, accepted)
		require.NoError(mt, err)
		assert.False(mt, ok)
	})

	mt.Run("transition applied", func(mt *mtest.T) {
		repo := &InvitationRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		ok, err := repo.Transition(context.Background(), primitive.NewObjectID(), from, accepted)
		require.NoError(mt, err)
		assert.True(mt, ok)
	})

	mt.Run("transition hits a write conflict", func(mt *mtest.T) {
		repo := &InvitationRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    writeConflictCode,
			Name:    "WriteConflict",
			Message: "write conflict",
			Labels:  []string{transientTransactionLabel},
		}))

		ok, err := repo.Transition(context.Background(), primitive.NewObjectID(), from, accepted)
		assert.False(mt, ok)
		assert.ErrorIs(mt, err, ErrWriteConflict)
		assert.True(mt, hasLabel(err, transientTransactionLabel))
	})

	mt.Run("create against an open invitation for the same target", func(mt *mtest.T) {
		repo := &InvitationRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Code:    11000,
			Message: `E11000 duplicate key error collection: barrim.promoter_invitations index: open_target_email dup key: { targetEmail: "shop@x.com" }`,
		}))

		inv := &models.Invitation{Code: "AB12CD34", TargetEmail: "shop@x.com", Status: models.InvitationPending}
		err := repo.Create(context.Background(), inv)
		assert.ErrorIs(mt, err, ErrOpenInvitationExists)
		assert.NotErrorIs(mt, err, ErrDuplicateKey)
		assert.True(mt, inv.Open)
	})

	mt.Run("create with a taken code", func(mt *mtest.T) {
		repo := &InvitationRepositoryMongo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Code:    11000,
			Message: `E11000 duplicate key error collection: barrim.promoter_invitations index: code_1 dup key: { code: "AB12CD34" }`,
		}))

		err := repo.Create(context.Background(), &models.Invitation{Code: "AB12CD34", Status: models.InvitationPending})
		assert.ErrorIs(mt, err, ErrDuplicateKey)
		assert.NotErrorIs(mt, err, ErrOpenInvitationExists)
	})

	mt.Run("get by unknown code", func(mt *mtest.T) {
		repo := &InvitationRepositoryMongo{collection: mt.Coll}
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		inv, err := repo.GetByCode(context.Background(), "NOPE0000")
		assert.Nil(mt, inv)
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}
