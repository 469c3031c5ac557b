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

// UserRepositoryMongo reads and writes the shared users collection.
type UserRepositoryMongo struct {
	collection *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepositoryMongo {
	return &UserRepositoryMongo{
		collection: db.Collection(UsersCollection),
	}
}

func (r *UserRepositoryMongo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (r *UserRepositoryMongo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count users: %w", translateError(err))
	}
	return n > 0, nil
}

func (r *UserRepositoryMongo) Create(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if _, err := r.collection.InsertOne(ctx, u); err != nil {
		return fmt.Errorf("insert user: %w", translateError(err))
	}
	return nil
}
