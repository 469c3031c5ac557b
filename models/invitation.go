package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationSent     InvitationStatus = "SENT"
	InvitationViewed   InvitationStatus = "VIEWED"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
	InvitationExpired  InvitationStatus = "EXPIRED"
)

// OpenInvitationStatuses are the statuses an invitation can still leave.
var OpenInvitationStatuses = []InvitationStatus{InvitationPending, InvitationSent, InvitationViewed}

// IsTerminal reports whether no further transition is allowed.
func (s InvitationStatus) IsTerminal() bool {
	switch s {
	case InvitationAccepted, InvitationDeclined, InvitationExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationSent, InvitationViewed,
		InvitationAccepted, InvitationDeclined, InvitationExpired:
		return true
	}
	return false
}

type InvitationType string

const (
	InvitationDirect   InvitationType = "DIRECT"
	InvitationBulk     InvitationType = "BULK"
	InvitationPublic   InvitationType = "PUBLIC"
	InvitationCampaign InvitationType = "CAMPAIGN"
)

// Valid reports whether t is a known invitation type.
func (t InvitationType) Valid() bool {
	switch t {
	case InvitationDirect, InvitationBulk, InvitationPublic, InvitationCampaign:
		return true
	}
	return false
}

// ExpiryReason tells a natural expiry apart from an operator cancellation;
// both end in the EXPIRED status.
type ExpiryReason string

const (
	ExpiredByTime         ExpiryReason = "EXPIRED_BY_TIME"
	ExpiredByCancellation ExpiryReason = "EXPIRED_BY_CANCELLATION"
)

// Invitation is a time-boxed, uniquely coded offer a promoter sends to a
// prospective partner.
type Invitation struct {
	ID                   primitive.ObjectID  `json:"id,omitempty" bson:"_id,omitempty"`
	Code                 string              `json:"code" bson:"code"`
	PromoterID           primitive.ObjectID  `json:"promoterId" bson:"promoterId"`
	TargetEmail          string              `json:"targetEmail" bson:"targetEmail"`
	TargetPhone          string              `json:"targetPhone,omitempty" bson:"targetPhone,omitempty"`
	TargetName           string              `json:"targetName,omitempty" bson:"targetName,omitempty"`
	TargetBusinessName   string              `json:"targetBusinessName,omitempty" bson:"targetBusinessName,omitempty"`
	PersonalizedMessage  string              `json:"personalizedMessage,omitempty" bson:"personalizedMessage,omitempty"`
	Type                 InvitationType      `json:"invitationType" bson:"invitationType"`
	Status               InvitationStatus    `json:"status" bson:"status"`
	CommissionPercentage Decimal             `json:"commissionPercentage" bson:"commissionPercentage"`
	ExpiresAt            time.Time           `json:"expiresAt" bson:"expiresAt"`
	SentAt               *time.Time          `json:"sentAt,omitempty" bson:"sentAt,omitempty"`
	ViewedAt             *time.Time          `json:"viewedAt,omitempty" bson:"viewedAt,omitempty"`
	AcceptedAt           *time.Time          `json:"acceptedAt,omitempty" bson:"acceptedAt,omitempty"`
	DeclinedAt           *time.Time          `json:"declinedAt,omitempty" bson:"declinedAt,omitempty"`
	ExpiredAt            *time.Time          `json:"expiredAt,omitempty" bson:"expiredAt,omitempty"`
	ExpiryReason         ExpiryReason        `json:"expiryReason,omitempty" bson:"expiryReason,omitempty"`
	ResultingPartnerID   *primitive.ObjectID `json:"resultingPartnerId,omitempty" bson:"resultingPartnerId,omitempty"`
	// Open mirrors !Status.IsTerminal() so a partial unique index can allow
	// one live invitation per target email.
	Open                 bool                `json:"-" bson:"open"`
	CreatedAt            time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// IsPastDeadline reports whether now is after the expiration timestamp.
func (i *Invitation) IsPastDeadline(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// InvitationPublicView is what an unauthenticated invitee sees.
type InvitationPublicView struct {
	Code                string           `json:"code"`
	Status              InvitationStatus `json:"status"`
	InvitationType      InvitationType   `json:"invitationType"`
	TargetEmail         string           `json:"targetEmail"`
	TargetName          string           `json:"targetName,omitempty"`
	TargetBusinessName  string           `json:"targetBusinessName,omitempty"`
	PersonalizedMessage string           `json:"personalizedMessage,omitempty"`
	PromoterName        string           `json:"promoterName"`
	ExpiresAt           time.Time        `json:"expiresAt"`
}

// CreateInvitationRequest is the body of POST /api/promoter/invitations.
type CreateInvitationRequest struct {
	TargetEmail         string         `json:"targetEmail" validate:"required,email"`
	TargetPhone         string         `json:"targetPhone,omitempty" validate:"omitempty,max=20"`
	TargetName          string         `json:"targetName,omitempty" validate:"omitempty,max=120"`
	TargetBusinessName  string         `json:"targetBusinessName,omitempty" validate:"omitempty,max=120"`
	PersonalizedMessage string         `json:"personalizedMessage,omitempty" validate:"omitempty,max=1000"`
	InvitationType      InvitationType `json:"invitationType" validate:"required,oneof=DIRECT BULK PUBLIC CAMPAIGN"`
	ExpiresAt           *time.Time     `json:"expiresAt,omitempty"`
}

// AcceptInvitationRequest carries everything needed to register the invited
// partner in one step.
type AcceptInvitationRequest struct {
	Partner PartnerData  `json:"partner" validate:"required"`
	User    UserData     `json:"user" validate:"required"`
	Address AddressInput `json:"address" validate:"required"`
}

type PartnerData struct {
	BusinessName string `json:"businessName" validate:"required,min=2,max=120"`
	Document     string `json:"document" validate:"required,min=5,max=32"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,max=20"`
	Category     string `json:"category,omitempty" validate:"omitempty,max=60"`
}

type UserData struct {
	FullName string `json:"fullName" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,max=20"`
}

type AddressInput struct {
	Street     string `json:"street" validate:"required"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	ZipCode    string `json:"zipCode,omitempty"`
	Country    string `json:"country" validate:"required"`
}
