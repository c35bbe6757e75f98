package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// CreateReview inserts r. A second review for the same job violates
// ux_reviews_job.
func CreateReview(ctx context.Context, db *gorm.DB, r *domain.Review) error {
	return db.WithContext(ctx).Create(r).Error
}

// GetReviewByJob returns the review of a job, or ErrNotFound.
func GetReviewByJob(ctx context.Context, db *gorm.DB, jobID string) (*domain.Review, error) {
	var r domain.Review
	if err := db.WithContext(ctx).Where("job_id = ?", jobID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ReviewExistsForJob reports whether jobID already has a review.
func ReviewExistsForJob(ctx context.Context, db *gorm.DB, jobID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Review{}).Where("job_id = ?", jobID).Count(&n).Error
	return n > 0, err
}

// ListReviewsGiven returns reviews written by userID, newest first.
func ListReviewsGiven(ctx context.Context, db *gorm.DB, userID string) ([]domain.Review, error) {
	var out []domain.Review
	err := db.WithContext(ctx).
		Where("reviewer_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListReviewsReceived returns reviews about userID, newest first.
func ListReviewsReceived(ctx context.Context, db *gorm.DB, userID string) ([]domain.Review, error) {
	var out []domain.Review
	err := db.WithContext(ctx).
		Where("reviewed_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// CountReviewsReceived returns the number of reviews about userID.
func CountReviewsReceived(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Review{}).Where("reviewed_id = ?", userID).Count(&n).Error
	return n, err
}

// ListReviewsReceivedPage is the paginated form of ListReviewsReceived.
func ListReviewsReceivedPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Review, error) {
	var out []domain.Review
	err := db.WithContext(ctx).
		Where("reviewed_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RatingTotals returns the sum and count of rating_overall over every review
// of a professional. Integers are returned so the caller controls rounding.
func RatingTotals(ctx context.Context, db *gorm.DB, reviewedID string) (sum, count int64, err error) {
	var row struct {
		Total int64
		N     int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Review{}).
		Select("COALESCE(SUM(rating_overall), 0) AS total, COUNT(*) AS n").
		Where("reviewed_id = ?", reviewedID).
		Scan(&row).Error
	return row.Total, row.N, err
}
