package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/casasegura/backend/internal/domain"
)

// EnsureCreditBalance creates a zero balance row for userID if none exists.
func EnsureCreditBalance(ctx context.Context, db *gorm.DB, userID string) error {
	row := &domain.CreditBalance{UserID: userID, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

// GetCreditBalance fetches the balance row of userID.
func GetCreditBalance(ctx context.Context, db *gorm.DB, userID string) (*domain.CreditBalance, error) {
	var b domain.CreditBalance
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitCreditsCAS subtracts amount from the balance only if the row is still
// at version and holds at least amount. Returns ErrStale otherwise; the
// balance can therefore never go negative.
func DebitCreditsCAS(ctx context.Context, db *gorm.DB, userID string, amount, version int64) error {
	res := db.WithContext(ctx).
		Model(&domain.CreditBalance{}).
		Where("user_id = ? AND version = ? AND balance >= ?", userID, version, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// AddCredits atomically adds amount (> 0) to the balance of userID.
func AddCredits(ctx context.Context, db *gorm.DB, userID string, amount int64) error {
	res := db.WithContext(ctx).
		Model(&domain.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"version":    gorm.Expr("version + 1"),
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

// CreateCreditTransaction appends a ledger entry.
func CreateCreditTransaction(ctx context.Context, db *gorm.DB, userID string, typ domain.CreditType, amount int64, jobID *string, reference string) (*domain.CreditTransaction, error) {
	tx := &domain.CreditTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		JobID:     jobID,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, err
	}
	return tx, nil
}

// CountCreditTransactions returns the number of ledger entries of userID.
func CountCreditTransactions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CreditTransaction{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// ListCreditTransactionsPage returns ledger entries of userID, newest first.
func ListCreditTransactionsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SumCreditTransactions returns the signed sum of userID's ledger.
func SumCreditTransactions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	return sum, err
}

// CreateReferral links referredID to referrerID. A user can be referred once;
// a second link violates ux_referrals_referred.
func CreateReferral(ctx context.Context, db *gorm.DB, referrerID, referredID, code string) (*domain.Referral, error) {
	r := &domain.Referral{
		ID:         uuid.NewString(),
		ReferrerID: referrerID,
		ReferredID: referredID,
		Code:       code,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetReferralByReferred returns the referral of referredID, or ErrNotFound.
func GetReferralByReferred(ctx context.Context, db *gorm.DB, referredID string) (*domain.Referral, error) {
	var r domain.Referral
	if err := db.WithContext(ctx).Where("referred_id = ?", referredID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountReferralsBy returns how many users referrerID has referred.
func CountReferralsBy(ctx context.Context, db *gorm.DB, referrerID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Referral{}).Where("referrer_id = ?", referrerID).Count(&n).Error
	return n, err
}

// MarkReferralRewarded sets rewarded_at once. It returns ErrStale when the
// referral was already rewarded.
func MarkReferralRewarded(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Referral{}).
		Where("id = ? AND rewarded_at IS NULL", id).
		Update("rewarded_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}
