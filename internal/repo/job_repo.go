package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// CreateJob inserts j. A clash on the job code surfaces as a unique violation.
func CreateJob(ctx context.Context, db *gorm.DB, j *domain.Job) error {
	return db.WithContext(ctx).Create(j).Error
}

// GetJob fetches a job by id.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// JobFilter narrows job listings. Empty fields match everything.
type JobFilter struct {
	ClientID       string
	ProfessionalID string
	Status         domain.JobStatus
}

func (f JobFilter) apply(q *gorm.DB) *gorm.DB {
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if f.ProfessionalID != "" {
		q = q.Where("professional_id = ?", f.ProfessionalID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// CountJobs returns the number of jobs matching f.
func CountJobs(ctx context.Context, db *gorm.DB, f JobFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Job{})).Count(&n).Error
	return n, err
}

// ListJobsPage returns jobs matching f, newest first.
func ListJobsPage(ctx context.Context, db *gorm.DB, f JobFilter, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := f.apply(db.WithContext(ctx)).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateJobCAS applies updates to a job only if it is still at the given
// status and version, bumping the version. It returns ErrStale when another
// writer got there first.
func UpdateJobCAS(ctx context.Context, db *gorm.DB, id string, status domain.JobStatus, version int64, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ? AND version = ?", id, status, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// ListGuaranteeExpired returns IN_GUARANTEE jobs whose window closed before now.
func ListGuaranteeExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("status = ? AND guarantee_ends_at IS NOT NULL AND guarantee_ends_at <= ?", domain.StatusInGuarantee, now).
		Order("guarantee_ends_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountClientJobsReached counts jobs of clientID that are in any of statuses.
func CountClientJobsReached(ctx context.Context, db *gorm.DB, clientID string, statuses []domain.JobStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("client_id = ? AND status IN ?", clientID, statuses).
		Count(&n).Error
	return n, err
}

// CreateJobStatusEvent appends an audit row for a transition.
func CreateJobStatusEvent(ctx context.Context, db *gorm.DB, jobID string, from, to domain.JobStatus, actorID string, role domain.Role) error {
	ev := &domain.JobStatusEvent{
		ID:        uuid.NewString(),
		JobID:     jobID,
		From:      from,
		To:        to,
		ActorID:   actorID,
		ActorRole: role,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ListJobStatusEvents returns the transition history of a job, oldest first.
func ListJobStatusEvents(ctx context.Context, db *gorm.DB, jobID string) ([]domain.JobStatusEvent, error) {
	var out []domain.JobStatusEvent
	err := db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CreateQuote inserts a quote in SENT status.
func CreateQuote(ctx context.Context, db *gorm.DB, jobID, professionalID string, amount int64, description string) (*domain.Quote, error) {
	q := &domain.Quote{
		ID:             uuid.NewString(),
		JobID:          jobID,
		ProfessionalID: professionalID,
		Amount:         amount,
		Description:    description,
		Status:         domain.QuoteSent,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(q).Error; err != nil {
		return nil, err
	}
	return q, nil
}

// GetQuote fetches a quote of jobID.
func GetQuote(ctx context.Context, db *gorm.DB, jobID, id string) (*domain.Quote, error) {
	var q domain.Quote
	if err := db.WithContext(ctx).Where("id = ? AND job_id = ?", id, jobID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// LatestSentQuote returns the newest SENT quote of a job.
func LatestSentQuote(ctx context.Context, db *gorm.DB, jobID string) (*domain.Quote, error) {
	var q domain.Quote
	err := db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, domain.QuoteSent).
		Order("created_at DESC, id DESC").
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuotes returns all quotes of a job, oldest first.
func ListQuotes(ctx context.Context, db *gorm.DB, jobID string) ([]domain.Quote, error) {
	var out []domain.Quote
	err := db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// SetQuoteStatus moves one quote to status.
func SetQuoteStatus(ctx context.Context, db *gorm.DB, id string, status domain.QuoteStatus) error {
	return db.WithContext(ctx).Model(&domain.Quote{}).Where("id = ?", id).Update("status", status).Error
}

// RejectOpenQuotes marks every still-SENT quote of a job as REJECTED.
func RejectOpenQuotes(ctx context.Context, db *gorm.DB, jobID string) error {
	return db.WithContext(ctx).
		Model(&domain.Quote{}).
		Where("job_id = ? AND status = ?", jobID, domain.QuoteSent).
		Update("status", domain.QuoteRejected).Error
}
