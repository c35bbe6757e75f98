// Package domain defines the persistence models of the marketplace: users and
// professionals, addresses, jobs and quotes, reviews, the credits ledger, and
// the chat/notification records. These types are mapped with GORM and shared
// by the repository, service and transport layers.
package domain

import (
	"time"
)

// Role is the platform role carried by an authenticated identity.
type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
	// RoleSystem is never issued in a token; it identifies internal actors
	// such as the guarantee sweeper.
	RoleSystem Role = "system"
)

// Valid reports whether r may be assigned to a registered user.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProfessional, RoleAdmin:
		return true
	}
	return false
}

// User is a registered account.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Email: unique login.
//   - PasswordHash: bcrypt hash, never serialized.
//   - Role: client, professional or admin.
//   - ReferralCode: unique code other users redeem to become referrals.
//   - AddressVersion: bumped inside every address mutation; the UPDATE on
//     this row is what serializes concurrent default-address changes.
type User struct {
	ID             string    `json:"id"             gorm:"type:char(36);primaryKey"`
	Name           string    `json:"name"           gorm:"type:varchar(120);not null"`
	Email          string    `json:"email"          gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash   string    `json:"-"              gorm:"type:varchar(255);not null"`
	Role           Role      `json:"role"           gorm:"type:varchar(16);not null;check:role IN ('client','professional','admin')"`
	ReferralCode   string    `json:"referral_code"  gorm:"type:varchar(16);not null;uniqueIndex:ux_users_referral_code"`
	AddressVersion int64     `json:"-"              gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Professional holds the denormalized rating of a professional user.
// RatingAvg and TotalJobs are only written by the review aggregator.
type Professional struct {
	UserID    string    `json:"user_id"    gorm:"type:char(36);primaryKey"`
	RatingAvg float64   `json:"rating_avg" gorm:"not null;default:0"`
	TotalJobs int       `json:"total_jobs" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Professional.
func (Professional) TableName() string { return "professionals" }

// Address is a postal address owned by a single user. At most one address per
// user carries IsDefault, enforced by a partial unique index in addition to
// the transactional logic in the address service.
type Address struct {
	ID           string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"user_id"      gorm:"type:char(36);not null;index:idx_user_addresses,priority:1;uniqueIndex:ux_addresses_user_default,where:is_default = true"`
	Street       string    `json:"street"       gorm:"type:varchar(255);not null"`
	Number       string    `json:"number"       gorm:"type:varchar(32);not null"`
	Complement   string    `json:"complement"   gorm:"type:varchar(255)"`
	Neighborhood string    `json:"neighborhood" gorm:"type:varchar(120);not null"`
	City         string    `json:"city"         gorm:"type:varchar(120);not null"`
	State        string    `json:"state"        gorm:"type:varchar(2);not null"`
	ZipCode      string    `json:"zip_code"     gorm:"type:varchar(16);not null"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	IsDefault    bool      `json:"is_default"   gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at"   gorm:"index:idx_user_addresses,priority:2"`
	UpdatedAt    time.Time `json:"updated_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Address.
func (Address) TableName() string { return "addresses" }
