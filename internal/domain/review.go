package domain

import "time"

// Review is the single, immutable review a client leaves for a job. The
// unique index on job_id is the storage-level guard for one review per job.
type Review struct {
	ID                  string    `json:"id"                             gorm:"type:char(36);primaryKey"`
	JobID               string    `json:"job_id"                         gorm:"type:char(36);not null;uniqueIndex:ux_reviews_job"`
	ReviewerID          string    `json:"reviewer_id"                    gorm:"type:char(36);not null;index:idx_reviews_reviewer"`
	ReviewedID          string    `json:"reviewed_id"                    gorm:"type:char(36);not null;index:idx_reviews_reviewed,priority:1"`
	RatingOverall       int       `json:"rating_overall"                 gorm:"not null;check:rating_overall BETWEEN 1 AND 5"`
	RatingQuality       *int      `json:"rating_quality,omitempty"`
	RatingPunctuality   *int      `json:"rating_punctuality,omitempty"`
	RatingCommunication *int      `json:"rating_communication,omitempty"`
	Comment             string    `json:"comment"                        gorm:"type:text"`
	CreatedAt           time.Time `json:"created_at"                     gorm:"index:idx_reviews_reviewed,priority:2"`

	Job Job `json:"-" gorm:"foreignKey:JobID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Review.
func (Review) TableName() string { return "reviews" }

// Ratings groups the overall score and the optional sub-scores of a review.
type Ratings struct {
	Overall       int  `json:"overall"`
	Quality       *int `json:"quality,omitempty"`
	Punctuality   *int `json:"punctuality,omitempty"`
	Communication *int `json:"communication,omitempty"`
}

// Valid reports whether every present score lies in 1..5.
func (r Ratings) Valid() bool {
	if r.Overall < 1 || r.Overall > 5 {
		return false
	}
	for _, sub := range []*int{r.Quality, r.Punctuality, r.Communication} {
		if sub != nil && (*sub < 1 || *sub > 5) {
			return false
		}
	}
	return true
}
