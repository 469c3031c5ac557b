package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
)

func TestRolePolicy(t *testing.T) {
	owner := Subject{Role: models.UserTypeCustomer, OwnsPromoterProfile: true, PromoterActive: true}
	pendingOwner := Subject{Role: models.UserTypeCustomer, OwnsPromoterProfile: true}
	admin := Subject{Role: models.UserTypeAdmin}
	staff := Subject{Role: models.UserTypePartnerStaff}

	tests := []struct {
		name    string
		cap     Capability
		subject Subject
		want    bool
	}{
		{"customer applies", CapabilityApply, Subject{Role: models.UserTypeCustomer}, true},
		{"partner admin applies", CapabilityApply, Subject{Role: models.UserTypePartnerAdmin}, true},
		{"staff cannot apply", CapabilityApply, staff, false},
		{"admin cannot apply", CapabilityApply, admin, false},
		{"active owner manages", CapabilityManageInvitations, owner, true},
		{"pending owner cannot manage", CapabilityManageInvitations, pendingOwner, false},
		{"admin cannot manage others", CapabilityManageInvitations, admin, false},
		{"owner views ledger", CapabilityViewLedger, pendingOwner, true},
		{"admin views ledger", CapabilityViewLedger, admin, true},
		{"stranger cannot view ledger", CapabilityViewLedger, staff, false},
		{"admin administers", CapabilityAdminister, admin, true},
		{"owner cannot administer", CapabilityAdminister, owner, false},
		{"unknown capability", Capability("export"), admin, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RolePolicy{}.Allows(tt.cap, tt.subject))
		})
	}
}

func TestSubjectFor(t *testing.T) {
	userID := primitive.NewObjectID()
	p := &models.Promoter{UserID: userID, IsActive: true}

	s := SubjectFor(Actor{UserID: userID, Role: models.UserTypeCustomer}, p)
	assert.True(t, s.OwnsPromoterProfile)
	assert.True(t, s.PromoterActive)

	s = SubjectFor(Actor{UserID: primitive.NewObjectID(), Role: models.UserTypeCustomer}, p)
	assert.False(t, s.OwnsPromoterProfile)
	assert.False(t, s.PromoterActive)

	s = SubjectFor(Actor{UserID: userID, Role: models.UserTypeAdmin}, nil)
	assert.Equal(t, models.UserTypeAdmin, s.Role)
	assert.False(t, s.OwnsPromoterProfile)
}

func TestAuthorizeErrors(t *testing.T) {
	actor := Actor{UserID: primitive.NewObjectID(), Role: models.UserTypePartnerStaff}
	assert.ErrorIs(t, authorize(RolePolicy{}, CapabilityApply, actor, nil), ErrIneligible)
	assert.ErrorIs(t, authorize(RolePolicy{}, CapabilityAdminister, actor, nil), ErrForbidden)

	inactive := &models.Promoter{UserID: actor.UserID}
	err := authorize(RolePolicy{}, CapabilityManageInvitations, actor, inactive)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "not active")
}
