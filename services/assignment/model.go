package assignment

import (
	"time"

	"gorm.io/datatypes"
)

type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "PENDING"
	MilestoneStatusInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneStatusSubmitted  MilestoneStatus = "SUBMITTED"
	MilestoneStatusApproved   MilestoneStatus = "APPROVED"
)

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusReview     TaskStatus = "REVIEW"
	TaskStatusDone       TaskStatus = "DONE"
	TaskStatusBlocked    TaskStatus = "BLOCKED"
)

// Assignment is the materialized record of an accepted clan engagement. The
// plan columns are snapshots taken at acceptance time; later edits to the
// application never change in-flight obligations.
type Assignment struct {
	ID            string         `gorm:"column:id;primaryKey"`
	ApplicationID string         `gorm:"column:application_id;uniqueIndex;not null"`
	GigID         string         `gorm:"column:gig_id;index;not null"`
	ClanID        string         `gorm:"column:clan_id;index;not null"`
	TeamPlan      datatypes.JSON `gorm:"column:team_plan"`
	MilestonePlan datatypes.JSON `gorm:"column:milestone_plan"`
	PayoutSplit   datatypes.JSON `gorm:"column:payout_split"`
	AcceptedAt    time.Time      `gorm:"column:accepted_at"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (Assignment) TableName() string { return "assignments" }

type Milestone struct {
	ID           string          `gorm:"column:id;primaryKey"`
	AssignmentID string          `gorm:"column:assignment_id;index;not null"`
	GigID        string          `gorm:"column:gig_id;index;not null"`
	Title        string          `gorm:"column:title;not null"`
	DueDate      *time.Time      `gorm:"column:due_date"`
	Amount       int64           `gorm:"column:amount"`
	Deliverables datatypes.JSON  `gorm:"column:deliverables"`
	Status       MilestoneStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	ApprovedAt   *time.Time      `gorm:"column:approved_at"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (Milestone) TableName() string { return "milestones" }

type Task struct {
	ID             string     `gorm:"column:id;primaryKey"`
	AssignmentID   string     `gorm:"column:assignment_id;index;not null"`
	MilestoneID    *string    `gorm:"column:milestone_id;index"`
	AssigneeID     string     `gorm:"column:assignee_id;index"`
	Title          string     `gorm:"column:title;not null"`
	Description    string     `gorm:"column:description"`
	Status         TaskStatus `gorm:"column:status;type:varchar(20);not null;default:'TODO'"`
	EstimatedHours float64    `gorm:"column:estimated_hours"`
	ActualHours    float64    `gorm:"column:actual_hours"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (Task) TableName() string { return "tasks" }

// MilestonePlanItem is one planned payment checkpoint inside an
// application's milestone plan.
type MilestonePlanItem struct {
	Title        string     `json:"title"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Amount       int64      `json:"amount"`
	Deliverables []string   `json:"deliverables,omitempty"`
}

// PayoutShare is one member's slice of the payout split. UserID is canonical
// by the time a split is snapshotted into an assignment.
type PayoutShare struct {
	UserID  string  `json:"user_id"`
	Percent float64 `json:"percent"`
}

var milestoneTransitions = map[MilestoneStatus]map[MilestoneStatus]bool{
	MilestoneStatusPending: {
		MilestoneStatusInProgress: true,
	},
	MilestoneStatusInProgress: {
		MilestoneStatusSubmitted: true,
	},
	MilestoneStatusSubmitted: {
		MilestoneStatusApproved: true,
		// pushing back re-opens the checkpoint
		MilestoneStatusInProgress: true,
	},
	MilestoneStatusApproved: {},
}

func CanTransitionMilestone(from, to MilestoneStatus) bool {
	next, ok := milestoneTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusTodo: {
		TaskStatusInProgress: true,
	},
	TaskStatusInProgress: {
		TaskStatusReview: true,
	},
	TaskStatusReview: {
		TaskStatusDone:       true,
		TaskStatusInProgress: true,
	},
	TaskStatusDone:    {},
	TaskStatusBlocked: {},
}

// CanTransitionTask answers task movement; BLOCKED is reachable from any
// non-terminal state and can resume to IN_PROGRESS.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == TaskStatusDone {
		return false
	}
	if to == TaskStatusBlocked {
		return true
	}
	if from == TaskStatusBlocked {
		return to == TaskStatusInProgress || to == TaskStatusTodo
	}
	next, ok := taskTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
