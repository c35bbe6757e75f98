package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/utils"
)

// Review listing directions for ByUser.
const (
	ReviewsGiven    = "given"
	ReviewsReceived = "received"
)

// ReviewService records the single review of a finished job and keeps the
// professional's denormalized rating in step with it.
type ReviewService struct {
	DB       *gorm.DB
	Notifier Notifier
}

// Create validates and stores a review, then recomputes the reviewed
// professional's rating_avg and bumps total_jobs, all in one transaction.
//
// Checks run in this order: job exists, reviewer is the job's client, job not
// yet reviewed, job status is reviewable, reviewed is the job's professional,
// ratings are in range.
func (s *ReviewService) Create(ctx context.Context, jobID, reviewerID, reviewedID string, r domain.Ratings, comment string) (*domain.Review, error) {
	ctx, span := otel.Tracer("services/ReviewService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("reviewer.id", reviewerID),
		),
	)
	defer span.End()

	var out *domain.Review
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := repo.GetJob(ctx, tx, jobID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if job.ClientID != reviewerID {
			return ErrReviewForbidden
		}
		exists, err := repo.ReviewExistsForJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if exists {
			return ErrReviewExists
		}
		if !job.Status.Reviewable() {
			return ErrJobNotReviewable
		}
		if job.ProfessionalID == nil || *job.ProfessionalID != reviewedID {
			return ErrReviewedMismatch
		}
		if !r.Valid() {
			return ErrInvalidRating
		}

		rev := &domain.Review{
			ID:                  uuid.NewString(),
			JobID:               jobID,
			ReviewerID:          reviewerID,
			ReviewedID:          reviewedID,
			RatingOverall:       r.Overall,
			RatingQuality:       r.Quality,
			RatingPunctuality:   r.Punctuality,
			RatingCommunication: r.Communication,
			Comment:             strings.TrimSpace(comment),
			CreatedAt:           time.Now().UTC(),
		}
		if err := repo.CreateReview(ctx, tx, rev); err != nil {
			if repo.IsDuplicate(err) {
				return ErrReviewExists
			}
			return err
		}
		if err := recomputeRating(ctx, tx, reviewedID); err != nil {
			return err
		}
		out = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	reviewsCreated.Inc()
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, reviewedID, "review_received", "New review",
			"A client rated your service", &jobID)
	}
	return out, nil
}

// recomputeRating counts one more job for the professional, then stores
// round_half_up(mean(rating_overall), 1). The count comes first so the
// aggregate is read under the professional's row lock.
func recomputeRating(ctx context.Context, tx *gorm.DB, professionalID string) error {
	err := repo.CountProfessionalJob(ctx, tx, professionalID)
	if errors.Is(err, repo.ErrNotFound) {
		if err := repo.CreateProfessional(ctx, tx, professionalID); err != nil {
			return err
		}
		err = repo.CountProfessionalJob(ctx, tx, professionalID)
	}
	if err != nil {
		return err
	}
	sum, n, err := repo.RatingTotals(ctx, tx, professionalID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	avg, _ := RoundedAverage(sum, n).Float64()
	return repo.SetProfessionalRating(ctx, tx, professionalID, avg)
}

// RoundedAverage returns sum/n rounded half-up to one decimal place.
func RoundedAverage(sum, n int64) decimal.Decimal {
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(n)).Round(1)
}

// ByJob returns the review of a job.
func (s *ReviewService) ByJob(ctx context.Context, jobID string) (*domain.Review, error) {
	ctx, span := otel.Tracer("services/ReviewService").Start(ctx, "ByJob",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	r, err := repo.GetReviewByJob(ctx, s.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReviewNotFound
	}
	return r, err
}

// ByUser lists reviews the user wrote (given) or received.
func (s *ReviewService) ByUser(ctx context.Context, userID, direction string) ([]domain.Review, error) {
	ctx, span := otel.Tracer("services/ReviewService").Start(ctx, "ByUser",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("direction", direction),
		),
	)
	defer span.End()

	switch direction {
	case ReviewsGiven:
		return repo.ListReviewsGiven(ctx, s.DB, userID)
	case "", ReviewsReceived:
		return repo.ListReviewsReceived(ctx, s.DB, userID)
	default:
		return nil, badRequest("type must be %q or %q", ReviewsGiven, ReviewsReceived)
	}
}

// ByProfessional pages through the reviews a professional received.
func (s *ReviewService) ByProfessional(ctx context.Context, userID string, skip, take int) ([]domain.Review, utils.PageMeta, error) {
	ctx, span := otel.Tracer("services/ReviewService").Start(ctx, "ByProfessional",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("skip", skip),
			attribute.Int("take", take),
		),
	)
	defer span.End()

	skip, take = utils.Window(skip, take, 10, 100)
	total, err := repo.CountReviewsReceived(ctx, s.DB, userID)
	if err != nil {
		return nil, utils.PageMeta{}, err
	}
	meta := utils.NewPageMeta(total, skip, take)
	if total == 0 {
		return []domain.Review{}, meta, nil
	}
	items, err := repo.ListReviewsReceivedPage(ctx, s.DB, userID, skip, take)
	return items, meta, err
}
