// models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User types recognised by the role layer.
const (
	UserTypeAdmin        = "admin"
	UserTypePartnerAdmin = "partner_admin"
	UserTypePartnerStaff = "partner_staff"
	UserTypeCustomer     = "customer"
)

// User model
type User struct {
	ID            primitive.ObjectID  `json:"id,omitempty" bson:"_id,omitempty"`
	Email         string              `json:"email" bson:"email"`
	Password      string              `json:"password,omitempty" bson:"password"`
	FullName      string              `json:"fullName" bson:"fullName"`
	Phone         string              `json:"phone,omitempty" bson:"phone,omitempty"`
	UserType      string              `json:"userType" bson:"userType"`
	IsActive      bool                `json:"isActive" bson:"isActive"`
	EmailVerified bool                `json:"emailVerified" bson:"emailVerified"`
	PartnerID     *primitive.ObjectID `json:"partnerId,omitempty" bson:"partnerId,omitempty"`
	FCMToken      string              `json:"fcmToken,omitempty" bson:"fcmToken,omitempty"`
	CreatedAt     time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// Sanitized returns a copy without the password hash.
func (u User) Sanitized() *User {
	u.Password = ""
	return &u
}

// Response model
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// NewPagination computes the page count for total items.
func NewPagination(page, limit int, total int64) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + int64(limit) - 1) / int64(limit)
	}
	return p
}
