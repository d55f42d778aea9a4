package engagement

import "time"

// Inbound payloads. Schema validation happens at the transport layer; the
// validate tags here are the service's own last line of defense so a direct
// caller cannot slip a malformed payload past the lifecycle rules.

type CreateGigRequest struct {
	OwnerID     string     `json:"owner_id" validate:"required"`
	Title       string     `json:"title" validate:"required,min=3,max=200"`
	Description string     `json:"description" validate:"max=10000"`
	Category    string     `json:"category"`
	Type        GigType    `json:"type" validate:"required,oneof=PRODUCT VISIT REMOTE"`
	BudgetMin   int64      `json:"budget_min" validate:"gte=0"`
	BudgetMax   int64      `json:"budget_max" validate:"gte=0,gtefield=BudgetMin"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Visible     *bool      `json:"visible,omitempty"`
	Publish     bool       `json:"publish"`
}

type UpdateGigStatusRequest struct {
	GigID   string    `json:"gig_id" validate:"required"`
	ActorID string    `json:"actor_id" validate:"required"`
	Status  GigStatus `json:"status" validate:"required"`
}

// TeamMemberInput is one externally-sourced member reference on a clan
// application. Exactly one of user_id/username/email should identify the
// member; the resolver normalizes whichever was given.
type TeamMemberInput struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

type PayoutShareInput struct {
	UserID   string  `json:"user_id,omitempty"`
	Username string  `json:"username,omitempty"`
	Percent  float64 `json:"percent" validate:"gt=0,lte=100"`
}

type MilestonePlanInput struct {
	Title        string     `json:"title" validate:"required"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Amount       int64      `json:"amount" validate:"gte=0"`
	Deliverables []string   `json:"deliverables,omitempty"`
}

type ApplyToGigRequest struct {
	GigID           string        `json:"gig_id" validate:"required"`
	ApplicantID     string        `json:"applicant_id" validate:"required"`
	ApplicantType   ApplicantType `json:"applicant_type" validate:"required,oneof=user clan"`
	Quote           int64         `json:"quote" validate:"gte=0"`
	CoverLetter     string        `json:"cover_letter" validate:"max=5000"`
	DeliveryAddress string        `json:"delivery_address,omitempty"`
	UpiID           string        `json:"upi_id" validate:"required"`

	// Clan-only fields.
	TeamPlan      []TeamMemberInput    `json:"team_plan,omitempty" validate:"dive"`
	MilestonePlan []MilestonePlanInput `json:"milestone_plan,omitempty" validate:"dive"`
	PayoutSplit   []PayoutShareInput   `json:"payout_split,omitempty" validate:"dive"`
}

type AssignGigRequest struct {
	GigID       string       `json:"gig_id" validate:"required"`
	OwnerID     string       `json:"owner_id" validate:"required"`
	InviteeID   string       `json:"invitee_id" validate:"required"`
	InviteeType AssigneeType `json:"invitee_type" validate:"required,oneof=user clan"`
	Quote       int64        `json:"quote" validate:"gte=0"`
	Message     string       `json:"message" validate:"max=5000"`

	// Clan-only fields. The owner lays out the work plan up front so
	// acceptance can materialize it the same way approval does.
	TeamPlan      []TeamMemberInput    `json:"team_plan,omitempty" validate:"dive"`
	MilestonePlan []MilestonePlanInput `json:"milestone_plan,omitempty" validate:"dive"`
	PayoutSplit   []PayoutShareInput   `json:"payout_split,omitempty" validate:"dive"`
}

type AcceptInvitationRequest struct {
	ApplicationID string `json:"application_id" validate:"required"`
	InviteeID     string `json:"invitee_id" validate:"required"`
	UpiID         string `json:"upi_id" validate:"required"`
}

type RejectInvitationRequest struct {
	ApplicationID string `json:"application_id" validate:"required"`
	InviteeID     string `json:"invitee_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=2000"`
}

type DeliverableInput struct {
	Type    DeliverableType `json:"type" validate:"required,oneof=social_post image video file other"`
	Content string          `json:"content,omitempty"`
	URL     string          `json:"url,omitempty" validate:"omitempty,url"`
	FileID  string          `json:"file_id,omitempty"`
}

type SubmitWorkRequest struct {
	GigID        string             `json:"gig_id" validate:"required"`
	WorkerID     string             `json:"worker_id" validate:"required"`
	Title        string             `json:"title" validate:"required,max=200"`
	Description  string             `json:"description" validate:"max=10000"`
	Deliverables []DeliverableInput `json:"deliverables" validate:"required,min=1,dive"`
}

type ReviewSubmissionRequest struct {
	SubmissionID string         `json:"submission_id" validate:"required"`
	OwnerID      string         `json:"owner_id" validate:"required"`
	Decision     ReviewDecision `json:"decision" validate:"required"`
	Rating       *int           `json:"rating,omitempty" validate:"omitempty,gte=1,lte=5"`
	Feedback     string         `json:"feedback" validate:"max=5000"`
}

type ListApplicationsRequest struct {
	GigID   string `json:"gig_id" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
	Cursor  string `json:"cursor,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
