package history

import (
	"time"
)

// ApplicationWorkHistory mirrors one application's journey for reporting and
// downstream scoring. Derived, never authoritative.
type ApplicationWorkHistory struct {
	ID            string     `gorm:"column:id;primaryKey"`
	ApplicationID string     `gorm:"column:application_id;uniqueIndex;not null"`
	GigID         string     `gorm:"column:gig_id;index;not null"`
	ApplicantID   string     `gorm:"column:applicant_id;index"`
	ApplicantType string     `gorm:"column:applicant_type"`
	Status        string     `gorm:"column:status"`
	AppliedAt     *time.Time `gorm:"column:applied_at"`
	AcceptedAt    *time.Time `gorm:"column:accepted_at"`
	SubmittedAt   *time.Time `gorm:"column:submitted_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	RevisionCount int        `gorm:"column:revision_count;default:0"`
	PaymentStatus string     `gorm:"column:payment_status"`
	Rating        *int       `gorm:"column:rating"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (ApplicationWorkHistory) TableName() string { return "application_work_histories" }

// CampaignHistory aggregates a gig's engagement totals.
type CampaignHistory struct {
	ID                   string    `gorm:"column:id;primaryKey"`
	GigID                string    `gorm:"column:gig_id;uniqueIndex;not null"`
	OwnerID              string    `gorm:"column:owner_id;index"`
	TotalApplications    int       `gorm:"column:total_applications;default:0"`
	AcceptedApplications int       `gorm:"column:accepted_applications;default:0"`
	TotalSubmissions     int       `gorm:"column:total_submissions;default:0"`
	CompletedEngagements int       `gorm:"column:completed_engagements;default:0"`
	LastStatus           string    `gorm:"column:last_status"`
	AssignedToID         *string   `gorm:"column:assigned_to_id"`
	UpdatedAt            time.Time `gorm:"column:updated_at"`
}

func (CampaignHistory) TableName() string { return "campaign_histories" }

const (
	PaymentStatusNone    = "none"
	PaymentStatusPending = "pending"
)
