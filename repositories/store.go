package repositories

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
)

var (
	// ErrNotFound is returned when a lookup by id, code or owner matches nothing.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateKey is returned when a unique index rejects a write.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrOpenInvitationExists is returned when the target email already has a
	// live invitation from any promoter.
	ErrOpenInvitationExists = errors.New("target has an open invitation")
	// ErrWriteConflict is returned when a concurrent transaction touched the
	// same documents and the unit of work could not commit.
	ErrWriteConflict = errors.New("write conflict")
)

// Store groups the repositories and the transaction boundary used by the
// referral engine. Repositories called with the ctx handed to fn take part in
// the transaction.
type Store interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	Promoters() PromoterRepository
	Invitations() InvitationRepository
	Commissions() CommissionRepository
	Partners() PartnerRepository
	Users() UserRepository
}

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Skip returns the number of documents before the page.
func (p Page) Skip() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// TierChange is applied by a compare-and-set on the promoter's current tier.
type TierChange struct {
	From  models.PromoterTier
	To    models.PromoterTier
	Quota int
	Rate  models.Decimal
}

type PromoterRepository interface {
	Create(ctx context.Context, p *models.Promoter) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error)
	GetByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Promoter, error)
	// ReserveInvitationSlot increments invitationsUsed only when the promoter
	// is active and below quota (or unlimited). ErrNotFound means no document
	// matched the condition.
	ReserveInvitationSlot(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error)
	RecordSuccessfulInvitation(ctx context.Context, id primitive.ObjectID) error
	AddCommissionEarned(ctx context.Context, id primitive.ObjectID, amount models.Decimal) error
	// ChangeTier returns false when the promoter is no longer on change.From.
	ChangeTier(ctx context.Context, id primitive.ObjectID, change TierChange) (bool, error)
	SetActive(ctx context.Context, id primitive.ObjectID, active bool, by *primitive.ObjectID, at time.Time) error
}

// InvitationFilter narrows a promoter's invitation listing.
type InvitationFilter struct {
	PromoterID primitive.ObjectID
	Status     models.InvitationStatus
	Type       models.InvitationType
	Search     string
}

// InvitationUpdate carries the fields a status transition writes. Nil
// pointers are left untouched.
type InvitationUpdate struct {
	Status             models.InvitationStatus
	SentAt             *time.Time
	ViewedAt           *time.Time
	AcceptedAt         *time.Time
	DeclinedAt         *time.Time
	ExpiredAt          *time.Time
	ExpiryReason       models.ExpiryReason
	ResultingPartnerID *primitive.ObjectID
}

type InvitationRepository interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Invitation, error)
	GetByCode(ctx context.Context, code string) (*models.Invitation, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// HasOpenInvitationFor reports an invitation to email from any promoter
	// that is neither terminal nor past its deadline.
	HasOpenInvitationFor(ctx context.Context, email string, now time.Time) (bool, error)
	// Transition applies update only when the stored status is one of from.
	// It returns false when another writer changed the status first.
	Transition(ctx context.Context, id primitive.ObjectID, from []models.InvitationStatus, update InvitationUpdate) (bool, error)
	// ExpireOverdue flips every open, overdue invitation of the promoter to
	// EXPIRED and returns how many changed.
	ExpireOverdue(ctx context.Context, promoterID primitive.ObjectID, now time.Time) (int64, error)
	// ExpireOverdueForTarget does the same for every invitation to email,
	// whichever promoter sent it.
	ExpireOverdueForTarget(ctx context.Context, email string, now time.Time) (int64, error)
	List(ctx context.Context, filter InvitationFilter, page Page) ([]models.Invitation, int64, error)
	CountByStatus(ctx context.Context, promoterID primitive.ObjectID) (map[models.InvitationStatus]int64, error)
}

// CommissionFilter narrows a promoter's ledger listing.
type CommissionFilter struct {
	PromoterID primitive.ObjectID
	Status     models.CommissionStatus
	Type       models.CommissionType
	From       *time.Time
	To         *time.Time
}

type CommissionRepository interface {
	Create(ctx context.Context, rec *models.CommissionRecord) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error)
	// UpdateStatus moves a record to status when its current status is in
	// from; false means the record moved concurrently.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, status models.CommissionStatus, paidAt *time.Time) (bool, error)
	List(ctx context.Context, filter CommissionFilter, page Page) ([]models.CommissionRecord, int64, error)
	CountByReference(ctx context.Context, promoterID primitive.ObjectID, typ models.CommissionType, referenceID primitive.ObjectID) (int64, error)
	MonthlyTotals(ctx context.Context, promoterID primitive.ObjectID, since time.Time) ([]models.MonthlyCommissionTotal, error)
	TotalsByType(ctx context.Context, promoterID primitive.ObjectID) ([]models.CommissionTypeTotal, error)
}

type PartnerRepository interface {
	ExistsByEmailOrDocument(ctx context.Context, email, document string) (bool, error)
	Create(ctx context.Context, p *models.Partner) error
	CreateAddress(ctx context.Context, a *models.PartnerAddress) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u *models.User) error
}
