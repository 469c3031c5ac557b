package services

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
)

// Capability names an action guarded at the orchestrator boundary.
type Capability string

const (
	CapabilityApply             Capability = "apply"
	CapabilityManageInvitations Capability = "manage_invitations"
	CapabilityViewLedger        Capability = "view_ledger"
	CapabilityAdminister        Capability = "administer"
)

// Actor is the authenticated caller as established by the auth layer.
type Actor struct {
	UserID primitive.ObjectID
	Role   string
}

// Subject is everything a capability decision depends on.
type Subject struct {
	Role                string
	OwnsPromoterProfile bool
	PromoterActive      bool
}

// SubjectFor derives the decision input for actor acting on promoter, which
// may be nil when no promoter is involved.
func SubjectFor(actor Actor, promoter *models.Promoter) Subject {
	s := Subject{Role: actor.Role}
	if promoter != nil && promoter.UserID == actor.UserID {
		s.OwnsPromoterProfile = true
		s.PromoterActive = promoter.IsActive
	}
	return s
}

// CapabilityPolicy decides whether a subject holds a capability.
type CapabilityPolicy interface {
	Allows(cap Capability, s Subject) bool
}

// RolePolicy is the marketplace's capability table.
type RolePolicy struct{}

func (RolePolicy) Allows(cap Capability, s Subject) bool {
	switch cap {
	case CapabilityApply:
		return s.Role == models.UserTypePartnerAdmin || s.Role == models.UserTypeCustomer
	case CapabilityManageInvitations:
		return s.OwnsPromoterProfile && s.PromoterActive
	case CapabilityViewLedger:
		return s.Role == models.UserTypeAdmin || s.OwnsPromoterProfile
	case CapabilityAdminister:
		return s.Role == models.UserTypeAdmin
	}
	return false
}

// authorize evaluates policy once and turns a denial into an error.
func authorize(policy CapabilityPolicy, cap Capability, actor Actor, promoter *models.Promoter) error {
	s := SubjectFor(actor, promoter)
	if policy.Allows(cap, s) {
		return nil
	}
	if cap == CapabilityApply {
		return ErrIneligible
	}
	if cap == CapabilityManageInvitations && s.OwnsPromoterProfile && !s.PromoterActive {
		return newError(CodeForbidden, "promoter profile is not active")
	}
	return newError(CodeForbidden, "missing capability "+string(cap))
}
