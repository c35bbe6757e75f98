package domain

import "time"

// Job is one service request flowing through the status state machine.
//
// Amount is the agreed price in cents, copied from the accepted quote.
// PayableAmount is what is still owed after credits; CreditsApplied is the
// running total of credits debited against the job. Version is bumped on every
// write and used as the compare-and-swap guard for status changes and credit
// application.
type Job struct {
	ID              string     `json:"id"                         gorm:"type:char(36);primaryKey"`
	Code            string     `json:"code"                       gorm:"type:varchar(32);not null;uniqueIndex:ux_jobs_code"`
	Title           string     `json:"title"                      gorm:"type:varchar(200);not null"`
	Description     string     `json:"description"                gorm:"type:text"`
	Status          JobStatus  `json:"status"                     gorm:"type:varchar(32);not null;index:idx_jobs_status"`
	ClientID        string     `json:"client_id"                  gorm:"type:char(36);not null;index:idx_jobs_client"`
	ProfessionalID  *string    `json:"professional_id,omitempty"  gorm:"type:char(36);index:idx_jobs_professional"`
	AddressID       *string    `json:"address_id,omitempty"       gorm:"type:char(36)"`
	Amount          int64      `json:"amount"                     gorm:"not null;default:0"`
	PayableAmount   int64      `json:"payable_amount"             gorm:"not null;default:0"`
	CreditsApplied  int64      `json:"credits_applied"            gorm:"not null;default:0"`
	GuaranteeEndsAt *time.Time `json:"guarantee_ends_at,omitempty" gorm:"index:idx_jobs_guarantee"`
	Version         int64      `json:"version"                    gorm:"not null;default:0"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// IsParticipant reports whether userID is the job's client or its assigned
// professional.
func (j *Job) IsParticipant(userID string) bool {
	if j.ClientID == userID {
		return true
	}
	return j.ProfessionalID != nil && *j.ProfessionalID == userID
}

// QuoteStatus is the lifecycle of a professional's quote.
type QuoteStatus string

const (
	QuoteSent     QuoteStatus = "SENT"
	QuoteAccepted QuoteStatus = "ACCEPTED"
	QuoteRejected QuoteStatus = "REJECTED"
)

// Quote is a professional's proposed price for a job.
type Quote struct {
	ID             string      `json:"id"              gorm:"type:char(36);primaryKey"`
	JobID          string      `json:"job_id"          gorm:"type:char(36);not null;index:idx_job_quotes,priority:1"`
	ProfessionalID string      `json:"professional_id" gorm:"type:char(36);not null"`
	Amount         int64       `json:"amount"          gorm:"not null"`
	Description    string      `json:"description"     gorm:"type:text"`
	Status         QuoteStatus `json:"status"          gorm:"type:varchar(16);not null"`
	CreatedAt      time.Time   `json:"created_at"      gorm:"index:idx_job_quotes,priority:2"`

	Job Job `json:"-" gorm:"foreignKey:JobID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Quote.
func (Quote) TableName() string { return "quotes" }

// JobStatusEvent is the append-only audit row written with every transition.
type JobStatusEvent struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	JobID     string    `json:"job_id"     gorm:"type:char(36);not null;index:idx_job_events,priority:1"`
	From      JobStatus `json:"from"       gorm:"column:from_status;type:varchar(32);not null"`
	To        JobStatus `json:"to"         gorm:"column:to_status;type:varchar(32);not null"`
	ActorID   string    `json:"actor_id"   gorm:"type:varchar(36);not null"`
	ActorRole Role      `json:"actor_role" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_job_events,priority:2"`
}

// TableName returns the database table name for JobStatusEvent.
func (JobStatusEvent) TableName() string { return "job_status_events" }
