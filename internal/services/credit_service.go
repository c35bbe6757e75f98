package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/utils"
)

// ApplyResult is the outcome of ApplyToJob.
type ApplyResult struct {
	AmountApplied int64 `json:"amountApplied"`
	NewBalance    int64 `json:"newBalance"`
	JobPayable    int64 `json:"jobPayable"`
}

// CreditService owns the credits ledger. A balance row only changes together
// with the ledger entry explaining it, so balance == Σ amount always holds.
type CreditService struct {
	DB *gorm.DB
	// MaxRetries bounds how often ApplyToJob re-reads after losing a race.
	MaxRetries int
}

func (s *CreditService) retries() int {
	if s.MaxRetries <= 0 {
		return 3
	}
	return s.MaxRetries
}

// Balance returns the user's balance, creating an empty one on first use.
func (s *CreditService) Balance(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	ctx, span := otel.Tracer("services/CreditService").Start(ctx, "Balance",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if err := s.userExists(ctx, userID); err != nil {
		return nil, err
	}
	if err := repo.EnsureCreditBalance(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	return repo.GetCreditBalance(ctx, s.DB, userID)
}

// ApplyToJob spends up to jobAmount of the user's credits on one of the
// user's jobs awaiting payment. The applied amount is
// min(balance, jobAmount, job.payable_amount); zero is a successful no-op.
//
// The debit is a compare-and-swap on the balance version that also requires
// enough balance, and the job is updated with its own CAS, both inside one
// transaction. A lost race re-reads and retries a bounded number of times.
func (s *CreditService) ApplyToJob(ctx context.Context, userID, jobID string, jobAmount int64) (ApplyResult, error) {
	ctx, span := otel.Tracer("services/CreditService").Start(ctx, "ApplyToJob",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("job.id", jobID),
			attribute.Int64("job.amount", jobAmount),
		),
	)
	defer span.End()

	if jobAmount <= 0 {
		return ApplyResult{}, ErrInvalidAmount
	}
	if err := s.userExists(ctx, userID); err != nil {
		return ApplyResult{}, err
	}

	for attempt := 1; attempt <= s.retries(); attempt++ {
		res, err := s.applyOnce(ctx, userID, jobID, jobAmount)
		if errors.Is(err, repo.ErrStale) {
			creditConflicts.Inc()
			log.Debug().Str("user_id", userID).Int("attempt", attempt).Msg("credit apply lost race, retrying")
			continue
		}
		if err != nil {
			return ApplyResult{}, err
		}
		if res.AmountApplied > 0 {
			creditsApplied.Add(float64(res.AmountApplied))
		}
		return res, nil
	}
	return ApplyResult{}, ErrConcurrentUpdate
}

func (s *CreditService) applyOnce(ctx context.Context, userID, jobID string, jobAmount int64) (ApplyResult, error) {
	var res ApplyResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := repo.GetJob(ctx, tx, jobID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if job.ClientID != userID {
			return ErrJobForbidden
		}
		if !job.Status.AcceptsCredits() {
			return ErrJobNotPayable
		}
		if err := repo.EnsureCreditBalance(ctx, tx, userID); err != nil {
			return err
		}
		bal, err := repo.GetCreditBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		x := min(bal.Balance, jobAmount, job.PayableAmount)
		if x <= 0 {
			res = ApplyResult{NewBalance: bal.Balance, JobPayable: job.PayableAmount}
			return nil
		}
		if err := repo.DebitCreditsCAS(ctx, tx, userID, x, bal.Version); err != nil {
			return err
		}
		if _, err := repo.CreateCreditTransaction(ctx, tx, userID, domain.CreditJobApplication, -x, &job.ID, job.Code); err != nil {
			return err
		}
		err = repo.UpdateJobCAS(ctx, tx, job.ID, job.Status, job.Version, map[string]any{
			"payable_amount":  job.PayableAmount - x,
			"credits_applied": job.CreditsApplied + x,
		})
		if err != nil {
			return err
		}
		res = ApplyResult{
			AmountApplied: x,
			NewBalance:    bal.Balance - x,
			JobPayable:    job.PayableAmount - x,
		}
		return nil
	})
	return res, err
}

// Grant credits a user outside the referral flow, e.g. an admin adjustment.
func (s *CreditService) Grant(ctx context.Context, userID string, typ domain.CreditType, amount int64, reference string) (*domain.CreditTransaction, error) {
	ctx, span := otel.Tracer("services/CreditService").Start(ctx, "Grant",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("credit.type", string(typ)),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch typ {
	case domain.CreditAdjustment, domain.CreditReferralBonus, domain.CreditReferralWelcome:
	default:
		return nil, badRequest("credit type %q cannot be granted", typ)
	}
	if err := s.userExists(ctx, userID); err != nil {
		return nil, err
	}
	var out *domain.CreditTransaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = grantCredits(ctx, tx, userID, typ, amount, nil, reference)
		return err
	})
	return out, err
}

// Transactions pages through the user's ledger, newest first.
func (s *CreditService) Transactions(ctx context.Context, userID string, page, pageSize int) ([]domain.CreditTransaction, utils.PageMeta, error) {
	ctx, span := otel.Tracer("services/CreditService").Start(ctx, "Transactions",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize = utils.Window(0, pageSize, 20, 100)
	offset := utils.Offset(page, pageSize)
	total, err := repo.CountCreditTransactions(ctx, s.DB, userID)
	if err != nil {
		return nil, utils.PageMeta{}, err
	}
	meta := utils.NewPageMeta(total, offset, pageSize)
	if total == 0 {
		return []domain.CreditTransaction{}, meta, nil
	}
	items, err := repo.ListCreditTransactionsPage(ctx, s.DB, userID, offset, pageSize)
	return items, meta, err
}

func (s *CreditService) userExists(ctx context.Context, userID string) error {
	_, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// grantCredits adds a positive amount to the balance and appends the ledger
// entry in the caller's transaction.
func grantCredits(ctx context.Context, tx *gorm.DB, userID string, typ domain.CreditType, amount int64, jobID *string, reference string) (*domain.CreditTransaction, error) {
	if err := repo.EnsureCreditBalance(ctx, tx, userID); err != nil {
		return nil, err
	}
	if err := repo.AddCredits(ctx, tx, userID, amount); err != nil {
		return nil, err
	}
	t, err := repo.CreateCreditTransaction(ctx, tx, userID, typ, amount, jobID, reference)
	if err != nil {
		return nil, err
	}
	creditsGranted.WithLabelValues(string(typ)).Add(float64(amount))
	return t, nil
}
