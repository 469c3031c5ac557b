package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Partner is a store registered on the marketplace. Partners created through
// an accepted invitation are active immediately.
type Partner struct {
	ID                  primitive.ObjectID  `json:"id,omitempty" bson:"_id,omitempty"`
	BusinessName        string              `json:"businessName" bson:"businessName"`
	Document            string              `json:"document" bson:"document"`
	Email               string              `json:"email" bson:"email"`
	Phone               string              `json:"phone,omitempty" bson:"phone,omitempty"`
	Category            string              `json:"category,omitempty" bson:"category,omitempty"`
	IsActive            bool                `json:"isActive" bson:"isActive"`
	ApprovedAt          *time.Time          `json:"approvedAt,omitempty" bson:"approvedAt,omitempty"`
	InvitedByPromoterID *primitive.ObjectID `json:"invitedByPromoterId,omitempty" bson:"invitedByPromoterId,omitempty"`
	InvitationID        *primitive.ObjectID `json:"invitationId,omitempty" bson:"invitationId,omitempty"`
	CreatedAt           time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// PartnerAddress is the postal address of a partner store.
type PartnerAddress struct {
	ID         primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	PartnerID  primitive.ObjectID `json:"partnerId" bson:"partnerId"`
	Street     string             `json:"street" bson:"street"`
	Number     string             `json:"number,omitempty" bson:"number,omitempty"`
	Complement string             `json:"complement,omitempty" bson:"complement,omitempty"`
	District   string             `json:"district,omitempty" bson:"district,omitempty"`
	City       string             `json:"city" bson:"city"`
	State      string             `json:"state,omitempty" bson:"state,omitempty"`
	ZipCode    string             `json:"zipCode,omitempty" bson:"zipCode,omitempty"`
	Country    string             `json:"country" bson:"country"`
	CreatedAt  time.Time          `json:"createdAt" bson:"createdAt"`
}

// AcceptedInvitation is returned to the invitee after a successful acceptance.
type AcceptedInvitation struct {
	Partner    *Partner        `json:"partner"`
	User       *User           `json:"user"`
	Address    *PartnerAddress `json:"address"`
	Invitation *Invitation     `json:"-"`
	Promoter   *Promoter       `json:"-"`
}
