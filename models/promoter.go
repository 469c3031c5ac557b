package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PromoterTier is a performance bracket that decides quota and commission rate.
type PromoterTier string

const (
	TierBronze   PromoterTier = "BRONZE"
	TierSilver   PromoterTier = "SILVER"
	TierGold     PromoterTier = "GOLD"
	TierPlatinum PromoterTier = "PLATINUM"
)

// UnlimitedQuota marks a promoter that may create any number of invitations.
const UnlimitedQuota = -1

// Promoter is an account allowed to invite new partners for commission.
// Exactly one promoter exists per user.
type Promoter struct {
	ID                     primitive.ObjectID  `json:"id,omitempty" bson:"_id,omitempty"`
	UserID                 primitive.ObjectID  `json:"userId" bson:"userId"`
	BusinessName           string              `json:"businessName" bson:"businessName"`
	Territory              string              `json:"territory,omitempty" bson:"territory,omitempty"`
	Specialization         string              `json:"specialization,omitempty" bson:"specialization,omitempty"`
	Tier                   PromoterTier        `json:"tier" bson:"tier"`
	CommissionRate         Decimal             `json:"commissionRate" bson:"commissionRate"`
	InvitationQuota        int                 `json:"invitationQuota" bson:"invitationQuota"`
	InvitationsUsed        int                 `json:"invitationsUsed" bson:"invitationsUsed"`
	SuccessfulInvitations  int                 `json:"successfulInvitations" bson:"successfulInvitations"`
	TotalPartnersInvited   int                 `json:"totalPartnersInvited" bson:"totalPartnersInvited"`
	TotalCommissionsEarned Decimal             `json:"totalCommissionsEarned" bson:"totalCommissionsEarned"`
	IsActive               bool                `json:"isActive" bson:"isActive"`
	ApprovedAt             *time.Time          `json:"approvedAt,omitempty" bson:"approvedAt,omitempty"`
	ApprovedBy             *primitive.ObjectID `json:"approvedBy,omitempty" bson:"approvedBy,omitempty"`
	DeactivatedAt          *time.Time          `json:"deactivatedAt,omitempty" bson:"deactivatedAt,omitempty"`
	CreatedAt              time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt              time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// HasUnlimitedQuota reports whether the quota sentinel is set.
func (p *Promoter) HasUnlimitedQuota() bool {
	return p.InvitationQuota == UnlimitedQuota
}

// RemainingInvitations returns how many invitations can still be created, or
// -1 when the quota is unlimited.
func (p *Promoter) RemainingInvitations() int {
	if p.HasUnlimitedQuota() {
		return UnlimitedQuota
	}
	if left := p.InvitationQuota - p.InvitationsUsed; left > 0 {
		return left
	}
	return 0
}

// PromoterApplicationRequest is the body of POST /api/promoter/apply.
type PromoterApplicationRequest struct {
	BusinessName   string `json:"businessName" validate:"required,min=2,max=120"`
	Territory      string `json:"territory,omitempty" validate:"omitempty,max=120"`
	Specialization string `json:"specialization,omitempty" validate:"omitempty,max=120"`
}
