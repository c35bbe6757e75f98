package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
)

// ReferralInfo is what a user sees about their own referral code.
type ReferralInfo struct {
	Code     string `json:"code"`
	Referred int64  `json:"referred"`
}

// ReferralService links new users to the user whose code they redeemed and
// pays both sides once the referred client's first job is completed.
type ReferralService struct {
	DB           *gorm.DB
	BonusCents   int64
	WelcomeCents int64
}

// Info returns the user's code and how many users redeemed it.
func (s *ReferralService) Info(ctx context.Context, userID string) (ReferralInfo, error) {
	ctx, span := otel.Tracer("services/ReferralService").Start(ctx, "Info",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ReferralInfo{}, ErrUserNotFound
	}
	if err != nil {
		return ReferralInfo{}, err
	}
	n, err := repo.CountReferralsBy(ctx, s.DB, userID)
	if err != nil {
		return ReferralInfo{}, err
	}
	return ReferralInfo{Code: u.ReferralCode, Referred: n}, nil
}

// Redeem links userID to the owner of code. A user redeems at most one code
// and never their own.
func (s *ReferralService) Redeem(ctx context.Context, userID, code string) (*domain.Referral, error) {
	ctx, span := otel.Tracer("services/ReferralService").Start(ctx, "Redeem",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var out *domain.Referral
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.redeem(ctx, tx, userID, code)
		return err
	})
	return out, err
}

func (s *ReferralService) redeem(ctx context.Context, tx *gorm.DB, userID, code string) (*domain.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrReferralCodeInvalid
	}
	referrer, err := repo.GetUserByReferralCode(ctx, tx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReferralCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	if referrer.ID == userID {
		return nil, ErrSelfReferral
	}
	if _, err := repo.GetReferralByReferred(ctx, tx, userID); err == nil {
		return nil, ErrAlreadyReferred
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	r, err := repo.CreateReferral(ctx, tx, referrer.ID, userID, code)
	if repo.IsDuplicate(err) {
		return nil, ErrAlreadyReferred
	}
	return r, err
}

// RewardFirstCompletion pays the referral of clientID when jobID is the
// client's first job to reach completion. It runs inside the transition's
// transaction, after the job status was written.
func (s *ReferralService) RewardFirstCompletion(ctx context.Context, tx *gorm.DB, clientID, jobID string) error {
	ref, err := repo.GetReferralByReferred(ctx, tx, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ref.RewardedAt != nil {
		return nil
	}
	n, err := repo.CountClientJobsReached(ctx, tx, clientID, reachedCompletion)
	if err != nil {
		return err
	}
	if n != 1 {
		return nil
	}
	err = repo.MarkReferralRewarded(ctx, tx, ref.ID, time.Now().UTC())
	if errors.Is(err, repo.ErrStale) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.BonusCents > 0 {
		if _, err := grantCredits(ctx, tx, ref.ReferrerID, domain.CreditReferralBonus, s.BonusCents, &jobID, ref.ID); err != nil {
			return err
		}
	}
	if s.WelcomeCents > 0 {
		if _, err := grantCredits(ctx, tx, clientID, domain.CreditReferralWelcome, s.WelcomeCents, &jobID, ref.ID); err != nil {
			return err
		}
	}
	return nil
}
