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

type CommissionRepositoryMongo struct {
	collection *mongo.Collection
}

func (r *CommissionRepositoryMongo) Create(ctx context.Context, rec *models.CommissionRecord) error {
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert commission record: %w", translateError(err))
	}
	return nil
}

func (r *CommissionRepositoryMongo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	var rec models.CommissionRecord
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		return nil, translateError(err)
	}
	return &rec, nil
}

func (r *CommissionRepositoryMongo) UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, status models.CommissionStatus, paidAt *time.Time) (bool, error) {
	now := time.Now().UTC()
	set := bson.M{"status": status, "updatedAt": now}
	if paidAt != nil {
		set["paidAt"] = *paidAt
	}
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("update commission status: %w", translateError(err))
	}
	return res.MatchedCount == 1, nil
}

func commissionQuery(filter CommissionFilter) bson.M {
	query := bson.M{"promoterId": filter.PromoterID}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Type != "" {
		query["commissionType"] = filter.Type
	}
	if filter.From != nil || filter.To != nil {
		created := bson.M{}
		if filter.From != nil {
			created["$gte"] = *filter.From
		}
		if filter.To != nil {
			created["$lt"] = *filter.To
		}
		query["createdAt"] = created
	}
	return query
}

func (r *CommissionRepositoryMongo) List(ctx context.Context, filter CommissionFilter, page Page) ([]models.CommissionRecord, int64, error) {
	query := commissionQuery(filter)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(page.Skip())).
		SetLimit(int64(page.Limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find commissions: %w", translateError(err))
	}
	defer cursor.Close(ctx)

	records := []models.CommissionRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, 0, fmt.Errorf("decode commissions: %w", err)
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count commissions: %w", translateError(err))
	}
	return records, total, nil
}

func (r *CommissionRepositoryMongo) CountByReference(ctx context.Context, promoterID primitive.ObjectID, typ models.CommissionType, referenceID primitive.ObjectID) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"promoterId":     promoterID,
		"commissionType": typ,
		"referenceId":    referenceID,
	})
	if err != nil {
		return 0, fmt.Errorf("count commissions by reference: %w", translateError(err))
	}
	return n, nil
}

// MonthlyTotals sums non-disputed commissions per calendar month (UTC).
func (r *CommissionRepositoryMongo) MonthlyTotals(ctx context.Context, promoterID primitive.ObjectID, since time.Time) ([]models.MonthlyCommissionTotal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"promoterId": promoterID,
			"createdAt":  bson.M{"$gte": since},
			"status":     bson.M{"$ne": models.CommissionDisputed},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"$dateToString": bson.M{"format": "%Y-%m", "date": "$createdAt"}},
			"total": bson.M{"$sum": "$amount"},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	var totals []models.MonthlyCommissionTotal
	if err := r.aggregate(ctx, pipeline, &totals); err != nil {
		return nil, fmt.Errorf("aggregate monthly commissions: %w", err)
	}
	return totals, nil
}

func (r *CommissionRepositoryMongo) TotalsByType(ctx context.Context, promoterID primitive.ObjectID) ([]models.CommissionTypeTotal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"promoterId": promoterID,
			"status":     bson.M{"$ne": models.CommissionDisputed},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$commissionType",
			"total": bson.M{"$sum": "$amount"},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	var totals []models.CommissionTypeTotal
	if err := r.aggregate(ctx, pipeline, &totals); err != nil {
		return nil, fmt.Errorf("aggregate commissions by type: %w", err)
	}
	return totals, nil
}

func (r *CommissionRepositoryMongo) aggregate(ctx context.Context, pipeline mongo.Pipeline, out interface{}) error {
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return translateError(err)
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}
