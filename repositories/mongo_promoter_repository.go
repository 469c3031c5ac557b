package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/barrim_referrals/models"
)

type PromoterRepositoryMongo struct {
	collection *mongo.Collection
}

func (r *PromoterRepositoryMongo) Create(ctx context.Context, p *models.Promoter) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("insert promoter: %w", translateError(err))
	}
	return nil
}

func (r *PromoterRepositoryMongo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *PromoterRepositoryMongo) GetByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Promoter, error) {
	return r.findOne(ctx, bson.M{"userId": userID})
}

func (r *PromoterRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*models.Promoter, error) {
	var p models.Promoter
	if err := r.collection.FindOne(ctx, filter).Decode(&p); err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

func (r *PromoterRepositoryMongo) ReserveInvitationSlot(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	filter := bson.M{
		"_id":      id,
		"isActive": true,
		"$or": bson.A{
			bson.M{"invitationQuota": models.UnlimitedQuota},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$invitationsUsed", "$invitationQuota"}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"invitationsUsed": 1},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var p models.Promoter
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&p); err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

func (r *PromoterRepositoryMongo) RecordSuccessfulInvitation(ctx context.Context, id primitive.ObjectID) error {
	update := bson.M{
		"$inc": bson.M{"successfulInvitations": 1, "totalPartnersInvited": 1},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	return r.updateByID(ctx, id, update)
}

func (r *PromoterRepositoryMongo) AddCommissionEarned(ctx context.Context, id primitive.ObjectID, amount models.Decimal) error {
	update := bson.M{
		"$inc": bson.M{"totalCommissionsEarned": amount},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	return r.updateByID(ctx, id, update)
}

func (r *PromoterRepositoryMongo) ChangeTier(ctx context.Context, id primitive.ObjectID, change TierChange) (bool, error) {
	filter := bson.M{"_id": id, "tier": change.From}
	update := bson.M{"$set": bson.M{
		"tier":            change.To,
		"invitationQuota": change.Quota,
		"commissionRate":  change.Rate,
		"updatedAt":       time.Now().UTC(),
	}}
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("change promoter tier: %w", translateError(err))
	}
	return res.MatchedCount == 1, nil
}

func (r *PromoterRepositoryMongo) SetActive(ctx context.Context, id primitive.ObjectID, active bool, by *primitive.ObjectID, at time.Time) error {
	var update bson.M
	if active {
		set := bson.M{"isActive": true, "approvedAt": at, "updatedAt": at}
		if by != nil {
			set["approvedBy"] = *by
		}
		update = bson.M{"$set": set, "$unset": bson.M{"deactivatedAt": ""}}
	} else {
		update = bson.M{"$set": bson.M{"isActive": false, "deactivatedAt": at, "updatedAt": at}}
	}
	return r.updateByID(ctx, id, update)
}

func (r *PromoterRepositoryMongo) updateByID(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("update promoter %s: %w", id.Hex(), translateError(err))
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
