package repositories

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/barrim_referrals/models"
)

type PartnerRepositoryMongo struct {
	partners  *mongo.Collection
	addresses *mongo.Collection
}

func (r *PartnerRepositoryMongo) ExistsByEmailOrDocument(ctx context.Context, email, document string) (bool, error) {
	or := bson.A{bson.M{"email": email}}
	if document != "" {
		or = append(or, bson.M{"document": document})
	}
	n, err := r.partners.CountDocuments(ctx, bson.M{"$or": or}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count partners: %w", translateError(err))
	}
	return n > 0, nil
}

func (r *PartnerRepositoryMongo) Create(ctx context.Context, p *models.Partner) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if _, err := r.partners.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("insert partner: %w", translateError(err))
	}
	return nil
}

func (r *PartnerRepositoryMongo) CreateAddress(ctx context.Context, a *models.PartnerAddress) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if _, err := r.addresses.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert address: %w", translateError(err))
	}
	return nil
}
