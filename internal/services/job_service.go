package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/utils"
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   string
	Role domain.Role
}

// SystemActor is used by background work such as the guarantee sweeper.
var SystemActor = Actor{ID: "system", Role: domain.RoleSystem}

var (
	errClientsOnly = newErr(KindForbidden, "only clients can create jobs")
	errProsOnly    = newErr(KindForbidden, "only professionals can send quotes")
	errAdminsOnly  = newErr(KindForbidden, "only admins can assign jobs")
)

// quotable are the statuses in which professionals may still send quotes and
// see a job they are not assigned to.
var quotable = map[domain.JobStatus]bool{
	domain.StatusCreated:      true,
	domain.StatusPendingQuote: true,
	domain.StatusQuoted:       true,
	domain.StatusQuoteSent:    true,
}

var reachedCompletion = []domain.JobStatus{
	domain.StatusCompleted, domain.StatusInGuarantee, domain.StatusClosed,
}

// JobInput is the payload of a new job.
type JobInput struct {
	Title       string
	Description string
	AddressID   *string
}

// TransitionOptions carries the extra data some transitions take.
type TransitionOptions struct {
	// QuoteID picks the quote accepted by QUOTE_ACCEPTED; empty means the
	// latest quote still open.
	QuoteID string
	// ProfessionalID (re)binds the professional on ASSIGNED.
	ProfessionalID string
}

// JobService drives the job lifecycle. Every status change is a
// compare-and-swap on (id, status, version) inside a transaction that also
// writes the audit event and the transition's side effects.
type JobService struct {
	DB              *gorm.DB
	Referrals       *ReferralService
	Notifier        Notifier
	CodePrefix      string
	GuaranteeWindow time.Duration
	Now             func() time.Time
}

func (s *JobService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *JobService) prefix() string {
	if s.CodePrefix == "" {
		return "CS"
	}
	return s.CodePrefix
}

func (s *JobService) window() time.Duration {
	if s.GuaranteeWindow <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.GuaranteeWindow
}

// Create opens a job for a client. Without an explicit address the client's
// default address is used, when there is one.
func (s *JobService) Create(ctx context.Context, actor Actor, in JobInput) (*domain.Job, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", actor.ID)))
	defer span.End()

	if actor.Role != domain.RoleClient {
		return nil, errClientsOnly
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, badRequest("title is required")
	}
	if len([]rune(title)) > 200 {
		return nil, badRequest("title too long")
	}

	addressID := in.AddressID
	if addressID != nil {
		a, err := repo.GetAddress(ctx, s.DB, *addressID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAddressNotFound
		}
		if err != nil {
			return nil, err
		}
		if a.UserID != actor.ID {
			return nil, ErrAddressForbidden
		}
	} else {
		list, err := repo.ListAddresses(ctx, s.DB, actor.ID)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 && list[0].IsDefault {
			addressID = &list[0].ID
		}
	}

	now := s.now()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      domain.StatusCreated,
		ClientID:    actor.ID,
		AddressID:   addressID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	const attempts = 5
	for i := 0; i < attempts; i++ {
		code, err := NewJobCode(s.prefix(), now)
		if err != nil {
			return nil, err
		}
		job.Code = code
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.CreateJob(ctx, tx, job); err != nil {
				return err
			}
			return repo.CreateJobStatusEvent(ctx, tx, job.ID, "", domain.StatusCreated, actor.ID, actor.Role)
		})
		if err == nil {
			return job, nil
		}
		if !repo.IsDuplicate(err) {
			return nil, err
		}
		log.Debug().Str("code", code).Msg("job code collision, regenerating")
	}
	return nil, newErr(KindConflict, "could not allocate a unique job code")
}

// Get returns a job visible to the actor.
func (s *JobService) Get(ctx context.Context, actor Actor, id string) (*domain.Job, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	job, err := s.load(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if !canView(job, actor) {
		return nil, ErrJobForbidden
	}
	return job, nil
}

// List pages through the actor's jobs. Clients see their own jobs and
// professionals the jobs assigned to them; a professional filtering by a
// quotable status sees every job in it. Admins see everything.
func (s *JobService) List(ctx context.Context, actor Actor, status domain.JobStatus, page, pageSize int) ([]domain.Job, utils.PageMeta, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", actor.ID),
			attribute.String("status", string(status)),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	if status != "" && !status.Valid() {
		return nil, utils.PageMeta{}, ErrInvalidStatus
	}
	f := repo.JobFilter{Status: status}
	switch actor.Role {
	case domain.RoleClient:
		f.ClientID = actor.ID
	case domain.RoleProfessional:
		if !quotable[status] {
			f.ProfessionalID = actor.ID
		}
	case domain.RoleAdmin:
	default:
		return nil, utils.PageMeta{}, ErrJobForbidden
	}

	_, pageSize = utils.Window(0, pageSize, 20, 100)
	offset := utils.Offset(page, pageSize)
	total, err := repo.CountJobs(ctx, s.DB, f)
	if err != nil {
		return nil, utils.PageMeta{}, err
	}
	meta := utils.NewPageMeta(total, offset, pageSize)
	if total == 0 {
		return []domain.Job{}, meta, nil
	}
	items, err := repo.ListJobsPage(ctx, s.DB, f, offset, pageSize)
	return items, meta, err
}

// History returns the audit trail of a job, oldest first.
func (s *JobService) History(ctx context.Context, actor Actor, id string) ([]domain.JobStatusEvent, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "History",
		trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return repo.ListJobStatusEvents(ctx, s.DB, id)
}

// Quotes lists the quotes of a job visible to the actor.
func (s *JobService) Quotes(ctx context.Context, actor Actor, id string) ([]domain.Quote, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return repo.ListQuotes(ctx, s.DB, id)
}

// Transition moves a job to status to on behalf of actor. Illegal moves
// return a *TransitionError and leave the job untouched; losing a concurrent
// update returns ErrConcurrentUpdate.
func (s *JobService) Transition(ctx context.Context, actor Actor, jobID string, to domain.JobStatus, opts TransitionOptions) (*domain.Job, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "Transition",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("actor.role", string(actor.Role)),
			attribute.String("to", string(to)),
		),
	)
	defer span.End()

	if !to.Valid() {
		return nil, ErrInvalidStatus
	}
	var (
		out  *domain.Job
		from domain.JobStatus
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		from = job.Status
		if out, err = s.apply(ctx, tx, job, actor, to, opts); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, out, actor, from)
	return out, nil
}

// SubmitQuote records a professional's quote and moves the job to
// QUOTE_SENT unless it is already there.
func (s *JobService) SubmitQuote(ctx context.Context, actor Actor, jobID string, amount int64, description string) (*domain.Quote, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "SubmitQuote",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("user.id", actor.ID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if actor.Role != domain.RoleProfessional {
		return nil, errProsOnly
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var (
		quote *domain.Quote
		moved *domain.Job
		from  domain.JobStatus
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !quotable[job.Status] {
			return &TransitionError{From: job.Status, To: domain.StatusQuoteSent, Role: actor.Role}
		}
		if quote, err = repo.CreateQuote(ctx, tx, jobID, actor.ID, amount, strings.TrimSpace(description)); err != nil {
			return err
		}
		if job.Status == domain.StatusQuoteSent {
			return nil
		}
		from = job.Status
		moved, err = s.apply(ctx, tx, job, actor, domain.StatusQuoteSent, TransitionOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	if moved != nil {
		s.committed(ctx, moved, actor, from)
	} else if s.Notifier != nil {
		job, err := repo.GetJob(ctx, s.DB, jobID)
		if err == nil {
			s.Notifier.Notify(ctx, job.ClientID, "quote_received", "New quote", "A professional sent a quote for "+job.Code, &job.ID)
		}
	}
	return quote, nil
}

// Assign binds a professional to a paid job and moves it to ASSIGNED.
func (s *JobService) Assign(ctx context.Context, actor Actor, jobID, professionalID string) (*domain.Job, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, errAdminsOnly
	}
	return s.Transition(ctx, actor, jobID, domain.StatusAssigned, TransitionOptions{ProfessionalID: professionalID})
}

// SweepGuarantees runs the time-driven part of the lifecycle as the system
// actor: completed jobs enter their guarantee window and jobs whose window
// elapsed are closed. It returns how many jobs moved.
func (s *JobService) SweepGuarantees(ctx context.Context, batch int) (int, error) {
	ctx, span := otel.Tracer("services/JobService").Start(ctx, "SweepGuarantees")
	defer span.End()

	if batch <= 0 {
		batch = 100
	}
	moved := 0
	completed, err := repo.ListJobsPage(ctx, s.DB, repo.JobFilter{Status: domain.StatusCompleted}, 0, batch)
	if err != nil {
		return 0, err
	}
	for _, j := range completed {
		if _, err := s.Transition(ctx, SystemActor, j.ID, domain.StatusInGuarantee, TransitionOptions{}); err != nil {
			log.Warn().Err(err).Str("job_id", j.ID).Msg("guarantee start failed")
			continue
		}
		moved++
	}

	expired, err := repo.ListGuaranteeExpired(ctx, s.DB, s.now(), batch)
	if err != nil {
		return moved, err
	}
	for _, j := range expired {
		if _, err := s.Transition(ctx, SystemActor, j.ID, domain.StatusClosed, TransitionOptions{}); err != nil {
			log.Warn().Err(err).Str("job_id", j.ID).Msg("guarantee close failed")
			continue
		}
		moved++
	}
	return moved, nil
}

// apply performs one checked transition of an already loaded job inside tx.
func (s *JobService) apply(ctx context.Context, tx *gorm.DB, job *domain.Job, actor Actor, to domain.JobStatus, opts TransitionOptions) (*domain.Job, error) {
	parties := domain.PartiesOf(job, actor.ID, actor.Role)
	if actor.Role == domain.RoleClient && parties&domain.PartyClient == 0 {
		return nil, ErrJobForbidden
	}
	if !domain.CanTransition(job.Status, to, parties) {
		return nil, &TransitionError{From: job.Status, To: to, Role: actor.Role}
	}

	now := s.now()
	updates := map[string]any{"status": to}
	var accepted *domain.Quote
	proID := job.ProfessionalID

	switch to {
	case domain.StatusQuoteAccepted:
		q, err := s.pickQuote(ctx, tx, job.ID, opts.QuoteID)
		if err != nil {
			return nil, err
		}
		accepted = q
		proID = &q.ProfessionalID
		updates["amount"] = q.Amount
		updates["payable_amount"] = max(q.Amount-job.CreditsApplied, 0)
		updates["professional_id"] = q.ProfessionalID
	case domain.StatusAssigned:
		if opts.ProfessionalID != "" {
			u, err := repo.GetUser(ctx, tx, opts.ProfessionalID)
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			if err != nil {
				return nil, err
			}
			if u.Role != domain.RoleProfessional {
				return nil, badRequest("user %s is not a professional", u.ID)
			}
			proID = &u.ID
			updates["professional_id"] = u.ID
		}
		if proID == nil {
			return nil, ErrNoProfessional
		}
	case domain.StatusPaid:
		// A declining professional loses the job; the next Assign must
		// name someone.
		if job.Status == domain.StatusAssigned {
			updates["professional_id"] = nil
		}
	case domain.StatusInGuarantee:
		updates["guarantee_ends_at"] = now.Add(s.window())
	case domain.StatusCancelled:
		if job.CreditsApplied > 0 {
			updates["credits_applied"] = 0
			updates["payable_amount"] = job.PayableAmount + job.CreditsApplied
		}
	}

	if err := repo.UpdateJobCAS(ctx, tx, job.ID, job.Status, job.Version, updates); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return nil, ErrConcurrentUpdate
		}
		return nil, err
	}

	switch to {
	case domain.StatusQuoteAccepted:
		if err := repo.SetQuoteStatus(ctx, tx, accepted.ID, domain.QuoteAccepted); err != nil {
			return nil, err
		}
		if err := repo.RejectOpenQuotes(ctx, tx, job.ID); err != nil {
			return nil, err
		}
		if err := bindConversation(ctx, tx, job.ID, job.ClientID, *proID); err != nil {
			return nil, err
		}
	case domain.StatusQuoteRejected:
		if err := repo.RejectOpenQuotes(ctx, tx, job.ID); err != nil {
			return nil, err
		}
	case domain.StatusAssigned:
		if err := bindConversation(ctx, tx, job.ID, job.ClientID, *proID); err != nil {
			return nil, err
		}
	case domain.StatusCancelled:
		if job.CreditsApplied > 0 {
			if _, err := grantCredits(ctx, tx, job.ClientID, domain.CreditAdjustment, job.CreditsApplied, &job.ID, job.Code); err != nil {
				return nil, err
			}
		}
	case domain.StatusCompleted:
		if s.Referrals != nil {
			if err := s.Referrals.RewardFirstCompletion(ctx, tx, job.ClientID, job.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := repo.CreateJobStatusEvent(ctx, tx, job.ID, job.Status, to, actor.ID, actor.Role); err != nil {
		return nil, err
	}
	return repo.GetJob(ctx, tx, job.ID)
}

func (s *JobService) pickQuote(ctx context.Context, tx *gorm.DB, jobID, quoteID string) (*domain.Quote, error) {
	var (
		q   *domain.Quote
		err error
	)
	if quoteID != "" {
		q, err = repo.GetQuote(ctx, tx, jobID, quoteID)
	} else {
		q, err = repo.LatestSentQuote(ctx, tx, jobID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if q.Status != domain.QuoteSent {
		return nil, badRequest("quote is %s", strings.ToLower(string(q.Status)))
	}
	return q, nil
}

// committed runs the after-commit effects of a transition.
func (s *JobService) committed(ctx context.Context, job *domain.Job, actor Actor, from domain.JobStatus) {
	jobTransitions.WithLabelValues(string(job.Status), string(actor.Role)).Inc()
	log.Info().
		Str("job_id", job.ID).
		Str("from", string(from)).
		Str("to", string(job.Status)).
		Str("actor_role", string(actor.Role)).
		Msg("job transition")
	if s.Notifier == nil {
		return
	}
	body := job.Code + " is now " + string(job.Status)
	for _, uid := range recipients(job, actor.ID) {
		s.Notifier.Notify(ctx, uid, "job_status", "Job updated", body, &job.ID)
	}
}

// recipients are the job's parties other than the actor.
func recipients(job *domain.Job, actorID string) []string {
	out := make([]string, 0, 2)
	if job.ClientID != actorID {
		out = append(out, job.ClientID)
	}
	if job.ProfessionalID != nil && *job.ProfessionalID != actorID {
		out = append(out, *job.ProfessionalID)
	}
	return out
}

func (s *JobService) load(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	job, err := repo.GetJob(ctx, db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func canView(job *domain.Job, actor Actor) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleProfessional:
		return job.IsParticipant(actor.ID) || quotable[job.Status]
	default:
		return job.ClientID == actor.ID
	}
}

// bindConversation makes sure the job's conversation exists and points at
// professionalID.
func bindConversation(ctx context.Context, tx *gorm.DB, jobID, clientID, professionalID string) error {
	c, err := repo.GetConversationByJob(ctx, tx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		_, err = repo.CreateConversation(ctx, tx, jobID, clientID, professionalID)
		return err
	}
	if err != nil {
		return err
	}
	if c.ProfessionalID == professionalID {
		return nil
	}
	return repo.SetConversationProfessional(ctx, tx, jobID, professionalID)
}
