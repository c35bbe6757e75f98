package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// CreateAddress inserts a.
func CreateAddress(ctx context.Context, db *gorm.DB, a *domain.Address) error {
	return db.WithContext(ctx).Create(a).Error
}

// GetAddress fetches an address by id regardless of owner; ownership is the
// caller's check.
func GetAddress(ctx context.Context, db *gorm.DB, id string) (*domain.Address, error) {
	var a domain.Address
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAddresses returns a user's addresses, default first, then newest first.
func ListAddresses(ctx context.Context, db *gorm.DB, userID string) ([]domain.Address, error) {
	var out []domain.Address
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// CountAddresses returns how many addresses userID owns.
func CountAddresses(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Address{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// ClearDefaultAddresses unsets is_default on every address of userID.
func ClearDefaultAddresses(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Model(&domain.Address{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Updates(map[string]any{"is_default": false, "updated_at": time.Now().UTC()}).Error
}

// MarkAddressDefault flags one address as the default.
func MarkAddressDefault(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Address{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_default": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAddressFields applies a partial update. is_default is never part of
// fields; default changes go through ClearDefaultAddresses/MarkAddressDefault.
func UpdateAddressFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Address{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAddress removes an address.
func DeleteAddress(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Address{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestAddress returns the most recently created address of userID, or
// ErrNotFound when the user has none.
func LatestAddress(ctx context.Context, db *gorm.DB, userID string) (*domain.Address, error) {
	var a domain.Address
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}
