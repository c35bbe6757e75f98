// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and the
// professional rating row.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Unique violations are left raw; callers check IsDuplicate.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// CreateUser inserts u. ID, timestamps and referral code are set by the caller.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return db.WithContext(ctx).Create(u).Error
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by login email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByReferralCode fetches the owner of a referral code.
func GetUserByReferralCode(ctx context.Context, db *gorm.DB, code string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("referral_code = ?", code).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// BumpAddressVersion increments users.address_version. Run as the first
// statement of an address transaction it takes the user's row lock, so every
// later step of that transaction is serialized against other address writes
// for the same user. Returns ErrNotFound for an unknown user.
func BumpAddressVersion(ctx context.Context, db *gorm.DB, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		UpdateColumn("address_version", gorm.Expr("address_version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateProfessional inserts the rating row for a professional user.
func CreateProfessional(ctx context.Context, db *gorm.DB, userID string) error {
	now := time.Now().UTC()
	p := &domain.Professional{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return db.WithContext(ctx).Create(p).Error
}

// GetProfessional fetches the rating row of a professional.
func GetProfessional(ctx context.Context, db *gorm.DB, userID string) (*domain.Professional, error) {
	var p domain.Professional
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CountProfessionalJob adds one reviewed job to the professional. Run before
// reading the review totals it takes the professional's row lock, so two
// reviews of the same professional cannot average a stale set. Returns
// ErrNotFound when the professional row is missing.
func CountProfessionalJob(ctx context.Context, db *gorm.DB, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Professional{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_jobs": gorm.Expr("total_jobs + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProfessionalRating stores a freshly computed rating average.
func SetProfessionalRating(ctx context.Context, db *gorm.DB, userID string, ratingAvg float64) error {
	return db.WithContext(ctx).
		Model(&domain.Professional{}).
		Where("user_id = ?", userID).
		UpdateColumn("rating_avg", ratingAvg).Error
}
