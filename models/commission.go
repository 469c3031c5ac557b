package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CommissionType string

const (
	CommissionInvitationBonus CommissionType = "INVITATION_BONUS"
	CommissionOngoingSales    CommissionType = "ONGOING_SALES"
	CommissionEventBonus      CommissionType = "EVENT_BONUS"
	CommissionTierBonus       CommissionType = "TIER_BONUS"
)

func (t CommissionType) Valid() bool {
	switch t {
	case CommissionInvitationBonus, CommissionOngoingSales, CommissionEventBonus, CommissionTierBonus:
		return true
	}
	return false
}

type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "PENDING"
	CommissionApproved CommissionStatus = "APPROVED"
	CommissionPaid     CommissionStatus = "PAID"
	CommissionDisputed CommissionStatus = "DISPUTED"
)

func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionApproved, CommissionPaid, CommissionDisputed:
		return true
	}
	return false
}

// CommissionRecord is an append-only ledger entry crediting a promoter.
// Only Status, PaidAt and UpdatedAt change after insert.
type CommissionRecord struct {
	ID          primitive.ObjectID     `json:"id,omitempty" bson:"_id,omitempty"`
	PromoterID  primitive.ObjectID     `json:"promoterId" bson:"promoterId"`
	PartnerID   *primitive.ObjectID    `json:"partnerId,omitempty" bson:"partnerId,omitempty"`
	Type        CommissionType         `json:"commissionType" bson:"commissionType"`
	ReferenceID primitive.ObjectID     `json:"referenceId" bson:"referenceId"`
	Amount      Decimal                `json:"amount" bson:"amount"`
	Percentage  Decimal                `json:"percentage" bson:"percentage"`
	BaseAmount  Decimal                `json:"baseAmount" bson:"baseAmount"`
	Status      CommissionStatus       `json:"status" bson:"status"`
	Description string                 `json:"description" bson:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt" bson:"createdAt"`
	PaidAt      *time.Time             `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	UpdatedAt   time.Time              `json:"updatedAt" bson:"updatedAt"`
}

// MonthlyCommissionTotal is one bucket of the monthly aggregation.
type MonthlyCommissionTotal struct {
	Month string  `json:"month" bson:"_id"` // YYYY-MM
	Total Decimal `json:"total" bson:"total"`
	Count int     `json:"count" bson:"count"`
}

// CommissionTypeTotal is one bucket of the per-type aggregation.
type CommissionTypeTotal struct {
	Type  CommissionType `json:"commissionType" bson:"_id"`
	Total Decimal        `json:"total" bson:"total"`
	Count int            `json:"count" bson:"count"`
}

// UpdateCommissionStatusRequest is the body of the admin status endpoint.
type UpdateCommissionStatusRequest struct {
	Status CommissionStatus `json:"status" validate:"required,oneof=APPROVED PAID DISPUTED"`
}
