package domain

import "time"

// CreditType tags a ledger entry.
type CreditType string

const (
	CreditReferralBonus   CreditType = "REFERRAL_BONUS"
	CreditReferralWelcome CreditType = "REFERRAL_WELCOME"
	CreditJobApplication  CreditType = "JOB_APPLICATION"
	CreditAdjustment      CreditType = "ADJUSTMENT"
)

// CreditBalance is the per-user running balance in cents. It always equals
// the signed sum of the user's CreditTransaction rows and is never negative.
type CreditBalance struct {
	UserID    string    `json:"user_id"    gorm:"type:char(36);primaryKey"`
	Balance   int64     `json:"balance"    gorm:"not null;default:0;check:balance >= 0"`
	Version   int64     `json:"-"          gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CreditBalance.
func (CreditBalance) TableName() string { return "credit_balances" }

// CreditTransaction is an append-only ledger entry. Amount is signed:
// earnings are positive, applications to jobs negative.
type CreditTransaction struct {
	ID        string     `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID    string     `json:"user_id"          gorm:"type:char(36);not null;index:idx_credit_tx_user,priority:1"`
	Type      CreditType `json:"type"             gorm:"type:varchar(32);not null"`
	Amount    int64      `json:"amount"           gorm:"not null"`
	JobID     *string    `json:"job_id,omitempty" gorm:"type:char(36);index"`
	Reference string     `json:"reference"        gorm:"type:varchar(255)"`
	CreatedAt time.Time  `json:"created_at"       gorm:"index:idx_credit_tx_user,priority:2"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Referral links a referred user to the user whose code they redeemed.
// RewardedAt is set once, when the referral credits are granted.
type Referral struct {
	ID         string     `json:"id"                    gorm:"type:char(36);primaryKey"`
	ReferrerID string     `json:"referrer_id"           gorm:"type:char(36);not null;index"`
	ReferredID string     `json:"referred_id"           gorm:"type:char(36);not null;uniqueIndex:ux_referrals_referred"`
	Code       string     `json:"code"                  gorm:"type:varchar(16);not null"`
	RewardedAt *time.Time `json:"rewarded_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the database table name for Referral.
func (Referral) TableName() string { return "referrals" }
