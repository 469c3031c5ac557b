package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Collection names used by the referral engine.
const (
	PromotersCollection   = "promoters"
	InvitationsCollection = "promoter_invitations"
	CommissionsCollection = "promoter_commissions"
	PartnersCollection    = "partners"
	AddressesCollection   = "addresses"
	UsersCollection       = "users"
)

const (
	// writeConflictCode is the server code for a WriteConflict inside a transaction.
	writeConflictCode = 112
	// transientTransactionLabel marks errors after which the whole
	// transaction may be retried. session.WithTransaction looks for it.
	transientTransactionLabel = "TransientTransactionError"
)

// MongoStore implements Store on a replica-set MongoDB deployment.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database

	promoters   *PromoterRepositoryMongo
	invitations *InvitationRepositoryMongo
	commissions *CommissionRepositoryMongo
	partners    *PartnerRepositoryMongo
	users       *UserRepositoryMongo
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wires every repository on database dbName.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:      client,
		db:          db,
		promoters:   &PromoterRepositoryMongo{collection: db.Collection(PromotersCollection)},
		invitations: &InvitationRepositoryMongo{collection: db.Collection(InvitationsCollection)},
		commissions: &CommissionRepositoryMongo{collection: db.Collection(CommissionsCollection)},
		partners: &PartnerRepositoryMongo{
			partners:  db.Collection(PartnersCollection),
			addresses: db.Collection(AddressesCollection),
		},
		users: NewUserRepository(db),
	}
}

func (s *MongoStore) Promoters() PromoterRepository     { return s.promoters }
func (s *MongoStore) Invitations() InvitationRepository { return s.invitations }
func (s *MongoStore) Commissions() CommissionRepository { return s.commissions }
func (s *MongoStore) Partners() PartnerRepository       { return s.partners }
func (s *MongoStore) Users() UserRepository             { return s.users }

// WithTransaction runs fn inside a multi-document transaction. The driver
// retries fn on transient transaction errors until ctx expires; any error
// returned by fn aborts the transaction.
func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	var fnErr error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(sc)
		return nil, fnErr
	}, txnOpts)
	if fnErr != nil && errors.Is(err, fnErr) {
		// fn's errors come from the repositories, already translated.
		return err
	}
	return translateError(err)
}

// driverError tags a driver error with a repository sentinel. Unwrap returns
// the driver error itself because session.WithTransaction walks a single
// Unwrap chain looking for retry labels.
type driverError struct {
	kind error
	err  error
}

func (e *driverError) Error() string        { return e.kind.Error() + ": " + e.err.Error() }
func (e *driverError) Unwrap() error        { return e.err }
func (e *driverError) Is(target error) bool { return target == e.kind }

// translateError maps driver errors onto the repository sentinels and leaves
// everything else untouched. The driver error stays in the chain so the
// session can still see its labels and retry.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return &driverError{kind: ErrDuplicateKey, err: err}
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.HasErrorCode(writeConflictCode) || serverErr.HasErrorLabel(transientTransactionLabel) {
			return &driverError{kind: ErrWriteConflict, err: err}
		}
	}
	return err
}
