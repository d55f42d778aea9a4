package engagement

import (
	"time"

	"gorm.io/datatypes"
)

type GigStatus string

const (
	GigStatusDraft      GigStatus = "DRAFT"
	GigStatusOpen       GigStatus = "OPEN"
	GigStatusAssigned   GigStatus = "ASSIGNED"
	GigStatusInProgress GigStatus = "IN_PROGRESS"
	GigStatusSubmitted  GigStatus = "SUBMITTED"
	GigStatusCompleted  GigStatus = "COMPLETED"
	GigStatusCancelled  GigStatus = "CANCELLED"
	GigStatusExpired    GigStatus = "EXPIRED"
	GigStatusPaused     GigStatus = "PAUSED"
	GigStatusInReview   GigStatus = "IN_REVIEW"
)

type GigType string

const (
	GigTypeProduct GigType = "PRODUCT"
	GigTypeVisit   GigType = "VISIT"
	GigTypeRemote  GigType = "REMOTE"
)

// AssigneeType is the kind of worker a gig is assigned to.
type AssigneeType string

const (
	AssigneeUser AssigneeType = "user"
	AssigneeClan AssigneeType = "clan"
)

// ApplicantType discriminates the two entry paths into the lifecycle: worker
// initiated (user/clan) and owner initiated (owner = invitation).
type ApplicantType string

const (
	ApplicantUser  ApplicantType = "user"
	ApplicantClan  ApplicantType = "clan"
	ApplicantOwner ApplicantType = "owner"
)

type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "PENDING"
	ApplicationStatusApproved  ApplicationStatus = "APPROVED"
	ApplicationStatusRejected  ApplicationStatus = "REJECTED"
	ApplicationStatusWithdrawn ApplicationStatus = "WITHDRAWN"
	ApplicationStatusSubmitted ApplicationStatus = "SUBMITTED"
	ApplicationStatusClosed    ApplicationStatus = "CLOSED"
)

type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "PENDING"
	SubmissionStatusApproved SubmissionStatus = "APPROVED"
	SubmissionStatusRejected SubmissionStatus = "REJECTED"
	SubmissionStatusRevision SubmissionStatus = "REVISION"
)

type DeliverableType string

const (
	DeliverableSocialPost DeliverableType = "social_post"
	DeliverableImage      DeliverableType = "image"
	DeliverableVideo      DeliverableType = "video"
	DeliverableFile       DeliverableType = "file"
	DeliverableOther      DeliverableType = "other"
)

// PlaceholderUpiID marks an invitation whose payment destination is still
// unknown; the real id arrives when the invitee accepts.
const PlaceholderUpiID = "pending@upi"

type Gig struct {
	ID             string        `gorm:"column:id;primaryKey"`
	Code           string        `gorm:"column:code;index"`
	Slug           string        `gorm:"column:slug"`
	OwnerID        string        `gorm:"column:owner_id;index;not null"`
	Title          string        `gorm:"column:title;not null"`
	Description    string        `gorm:"column:description"`
	Category       string        `gorm:"column:category"`
	Type           GigType       `gorm:"column:type;type:varchar(20);not null"`
	Status         GigStatus     `gorm:"column:status;type:varchar(20);not null;default:'DRAFT'"`
	BudgetMin      int64         `gorm:"column:budget_min"`
	BudgetMax      int64         `gorm:"column:budget_max"`
	Deadline       *time.Time    `gorm:"column:deadline"`
	Visible        bool          `gorm:"column:visible;default:true"`
	AssignedToID   *string       `gorm:"column:assigned_to_id"`
	AssignedToType *AssigneeType `gorm:"column:assigned_to_type;type:varchar(10)"`
	PostedByName   string        `gorm:"column:posted_by_name"`
	PostedByAvatar string        `gorm:"column:posted_by_avatar"`
	CreatedAt      time.Time     `gorm:"column:created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at"`
}

func (Gig) TableName() string { return "gigs" }

// Assigned reports whether the gig is in a state that requires assignee
// fields to be set.
func (g *Gig) Assigned() bool {
	switch g.Status {
	case GigStatusAssigned, GigStatusInProgress, GigStatusSubmitted, GigStatusCompleted:
		return true
	default:
		return false
	}
}

// Application is a bid on a gig. Active is part of the store-level uniqueness
// constraint: it holds true while the application is live and NULL once it is
// withdrawn/rejected, so one actor can never hold two live applications on
// the same gig but may re-apply after a terminal outcome.
type Application struct {
	ID              string            `gorm:"column:id;primaryKey"`
	GigID           string            `gorm:"column:gig_id;index;not null;uniqueIndex:idx_live_application"`
	ApplicantID     string            `gorm:"column:applicant_id;not null;uniqueIndex:idx_live_application"`
	ApplicantType   ApplicantType     `gorm:"column:applicant_type;type:varchar(10);not null;uniqueIndex:idx_live_application"`
	TargetType      AssigneeType      `gorm:"column:target_type;type:varchar(10);not null"`
	Active          *bool             `gorm:"column:active;uniqueIndex:idx_live_application"`
	Status          ApplicationStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	Quote           int64             `gorm:"column:quote"`
	CoverLetter     string            `gorm:"column:cover_letter"`
	DeliveryAddress string            `gorm:"column:delivery_address"`
	UpiID           string            `gorm:"column:upi_id"`
	TeamPlan        datatypes.JSON    `gorm:"column:team_plan"`
	MilestonePlan   datatypes.JSON    `gorm:"column:milestone_plan"`
	PayoutSplit     datatypes.JSON    `gorm:"column:payout_split"`
	RevisionCount   int               `gorm:"column:revision_count;default:0"`
	RespondedAt     *time.Time        `gorm:"column:responded_at"`
	CreatedAt       time.Time         `gorm:"column:created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at"`
}

func (Application) TableName() string { return "applications" }

// OwnerInitiated reports whether this application entered via the invitation
// path.
func (a *Application) OwnerInitiated() bool {
	return a.ApplicantType == ApplicantOwner
}

// Live mirrors the Active column for in-memory rows.
func (a *Application) Live() bool {
	return a.Active != nil && *a.Active
}

type Deliverable struct {
	Type    DeliverableType `json:"type"`
	Content string          `json:"content,omitempty"`
	URL     string          `json:"url,omitempty"`
	FileID  string          `json:"file_id,omitempty"`
}

// Submission is delivered work against one application. Active carries the
// "at most one PENDING/APPROVED submission per application" constraint the
// same way Application.Active does.
type Submission struct {
	ID            string           `gorm:"column:id;primaryKey"`
	Code          string           `gorm:"column:code"`
	ApplicationID string           `gorm:"column:application_id;index;not null;uniqueIndex:idx_live_submission"`
	GigID         string           `gorm:"column:gig_id;index;not null"`
	Active        *bool            `gorm:"column:active;uniqueIndex:idx_live_submission"`
	Title         string           `gorm:"column:title;not null"`
	Description   string           `gorm:"column:description"`
	Deliverables  datatypes.JSON   `gorm:"column:deliverables"`
	Status        SubmissionStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	Rating        *int             `gorm:"column:rating"`
	Feedback      string           `gorm:"column:feedback"`
	ReviewedAt    *time.Time       `gorm:"column:reviewed_at"`
	CreatedAt     time.Time        `gorm:"column:created_at"`
	UpdatedAt     time.Time        `gorm:"column:updated_at"`
}

func (Submission) TableName() string { return "submissions" }

func active() *bool {
	v := true
	return &v
}
