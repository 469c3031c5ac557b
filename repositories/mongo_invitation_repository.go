package repositories

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/barrim_referrals/models"
)

// OpenTargetIndex is the partial unique index on targetEmail restricted to
// documents with open: true.
const OpenTargetIndex = "open_target_email"

type InvitationRepositoryMongo struct {
	collection *mongo.Collection
}

func (r *InvitationRepositoryMongo) Create(ctx context.Context, inv *models.Invitation) error {
	if inv.ID.IsZero() {
		inv.ID = primitive.NewObjectID()
	}
	inv.Open = !inv.Status.IsTerminal()
	if _, err := r.collection.InsertOne(ctx, inv); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), OpenTargetIndex) {
			return fmt.Errorf("insert invitation: %w", &driverError{kind: ErrOpenInvitationExists, err: err})
		}
		return fmt.Errorf("insert invitation: %w", translateError(err))
	}
	return nil
}

func (r *InvitationRepositoryMongo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Invitation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *InvitationRepositoryMongo) GetByCode(ctx context.Context, code string) (*models.Invitation, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

func (r *InvitationRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*models.Invitation, error) {
	var inv models.Invitation
	if err := r.collection.FindOne(ctx, filter).Decode(&inv); err != nil {
		return nil, translateError(err)
	}
	return &inv, nil
}

func (r *InvitationRepositoryMongo) CodeExists(ctx context.Context, code string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"code": code}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count invitation codes: %w", translateError(err))
	}
	return n > 0, nil
}

func (r *InvitationRepositoryMongo) HasOpenInvitationFor(ctx context.Context, email string, now time.Time) (bool, error) {
	filter := bson.M{
		"targetEmail": email,
		"status":      bson.M{"$in": models.OpenInvitationStatuses},
		"expiresAt":   bson.M{"$gt": now},
	}
	n, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count open invitations: %w", translateError(err))
	}
	return n > 0, nil
}

func (r *InvitationRepositoryMongo) Transition(ctx context.Context, id primitive.ObjectID, from []models.InvitationStatus, update InvitationUpdate) (bool, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": transitionSet(update)})
	if err != nil {
		return false, fmt.Errorf("transition invitation %s: %w", id.Hex(), translateError(err))
	}
	return res.MatchedCount == 1, nil
}

func transitionSet(u InvitationUpdate) bson.M {
	set := bson.M{"status": u.Status, "open": !u.Status.IsTerminal(), "updatedAt": time.Now().UTC()}
	if u.SentAt != nil {
		set["sentAt"] = *u.SentAt
	}
	if u.ViewedAt != nil {
		set["viewedAt"] = *u.ViewedAt
	}
	if u.AcceptedAt != nil {
		set["acceptedAt"] = *u.AcceptedAt
	}
	if u.DeclinedAt != nil {
		set["declinedAt"] = *u.DeclinedAt
	}
	if u.ExpiredAt != nil {
		set["expiredAt"] = *u.ExpiredAt
	}
	if u.ExpiryReason != "" {
		set["expiryReason"] = u.ExpiryReason
	}
	if u.ResultingPartnerID != nil {
		set["resultingPartnerId"] = *u.ResultingPartnerID
	}
	return set
}

func (r *InvitationRepositoryMongo) ExpireOverdue(ctx context.Context, promoterID primitive.ObjectID, now time.Time) (int64, error) {
	return r.expireOverdue(ctx, bson.M{"promoterId": promoterID}, now)
}

func (r *InvitationRepositoryMongo) ExpireOverdueForTarget(ctx context.Context, email string, now time.Time) (int64, error) {
	return r.expireOverdue(ctx, bson.M{"targetEmail": email}, now)
}

func (r *InvitationRepositoryMongo) expireOverdue(ctx context.Context, filter bson.M, now time.Time) (int64, error) {
	filter["status"] = bson.M{"$in": models.OpenInvitationStatuses}
	filter["expiresAt"] = bson.M{"$lte": now}
	update := bson.M{"$set": bson.M{
		"status":       models.InvitationExpired,
		"open":         false,
		"expiredAt":    now,
		"expiryReason": models.ExpiredByTime,
		"updatedAt":    now,
	}}
	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("expire overdue invitations: %w", translateError(err))
	}
	return res.ModifiedCount, nil
}

func (r *InvitationRepositoryMongo) List(ctx context.Context, filter InvitationFilter, page Page) ([]models.Invitation, int64, error) {
	query := bson.M{"promoterId": filter.PromoterID}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Type != "" {
		query["invitationType"] = filter.Type
	}
	if filter.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"targetEmail": pattern},
			bson.M{"targetName": pattern},
			bson.M{"targetBusinessName": pattern},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(page.Skip())).
		SetLimit(int64(page.Limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find invitations: %w", translateError(err))
	}
	defer cursor.Close(ctx)

	invitations := []models.Invitation{}
	if err := cursor.All(ctx, &invitations); err != nil {
		return nil, 0, fmt.Errorf("decode invitations: %w", err)
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count invitations: %w", translateError(err))
	}
	return invitations, total, nil
}

func (r *InvitationRepositoryMongo) CountByStatus(ctx context.Context, promoterID primitive.ObjectID) (map[models.InvitationStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"promoterId": promoterID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate invitations by status: %w", translateError(err))
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status models.InvitationStatus `bson:"_id"`
		Count  int64                   `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode invitation counts: %w", err)
	}

	counts := make(map[models.InvitationStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
