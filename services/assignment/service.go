package assignment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/errutil"
	"gigworks-controlplane/pkg/eventbus"
	"gigworks-controlplane/pkg/repository"
	"gigworks-controlplane/pkg/task"
	engagementtask "gigworks-controlplane/services/engagement/task"
)

// gigRef is the narrow read of the gigs table this package needs for its
// precondition gate. The engagement service owns the full model.
type gigRef struct {
	ID             string  `gorm:"column:id"`
	OwnerID        string  `gorm:"column:owner_id"`
	Title          string  `gorm:"column:title"`
	Status         string  `gorm:"column:status"`
	AssignedToType *string `gorm:"column:assigned_to_type"`
}

func (gigRef) TableName() string { return "gigs" }

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	emitter *eventbus.Emitter
	asynq   task.Enqueuer

	assignments repository.Repository[Assignment]
	milestones  repository.Repository[Milestone]
	tasks       repository.Repository[Task]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Emitter *eventbus.Emitter
	Asynq   task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		emitter:     p.Emitter,
		asynq:       p.Asynq,
		assignments: repository.ProvideStore[Assignment](p.DB),
		milestones:  repository.ProvideStore[Milestone](p.DB),
		tasks:       repository.ProvideStore[Task](p.DB),
	}
}

// MaterializeParams carries the snapshot taken from an approved clan
// application.
type MaterializeParams struct {
	ApplicationID string
	GigID         string
	ClanID        string
	TeamPlan      datatypes.JSON
	MilestonePlan datatypes.JSON
	PayoutSplit   datatypes.JSON
	AcceptedAt    time.Time
}

// Materialize creates the Assignment snapshot plus one PENDING milestone per
// planned item, inside the caller's transaction. The caller owns the commit
// and any post-commit event emission.
func (s *Service) Materialize(ctx context.Context, tx *gorm.DB, p MaterializeParams) (*Assignment, []*Milestone, error) {
	var items []MilestonePlanItem
	if len(p.MilestonePlan) > 0 {
		if err := json.Unmarshal(p.MilestonePlan, &items); err != nil {
			return nil, nil, errutil.UnprocessableEntity("milestone plan is not decodable", errutil.WithErr(err))
		}
	}

	now := time.Now().UTC()
	asg := &Assignment{
		ID:            s.node.Generate().String(),
		ApplicationID: p.ApplicationID,
		GigID:         p.GigID,
		ClanID:        p.ClanID,
		TeamPlan:      p.TeamPlan,
		MilestonePlan: p.MilestonePlan,
		PayoutSplit:   p.PayoutSplit,
		AcceptedAt:    p.AcceptedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.assignments.WithTrx(tx).Create(ctx, asg); err != nil {
		return nil, nil, err
	}

	rows := make([]*Milestone, 0, len(items))
	for _, item := range items {
		deliverables, _ := json.Marshal(item.Deliverables)
		rows = append(rows, &Milestone{
			ID:           s.node.Generate().String(),
			AssignmentID: asg.ID,
			GigID:        p.GigID,
			Title:        item.Title,
			DueDate:      item.DueDate,
			Amount:       item.Amount,
			Deliverables: deliverables,
			Status:       MilestoneStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.milestones.WithTrx(tx).BatchCreate(ctx, rows); err != nil {
		return nil, nil, err
	}

	return asg, rows, nil
}

func (s *Service) GetByApplication(ctx context.Context, applicationID string) (*Assignment, error) {
	asg, err := s.assignments.FindOne(ctx, &Assignment{ApplicationID: applicationID})
	if err != nil {
		return nil, err
	}
	if asg == nil {
		return nil, errutil.NotFound("assignment not found")
	}
	return asg, nil
}

// gate verifies the milestone/task preconditions: the gig must be ASSIGNED to
// a clan and an Assignment snapshot must exist.
func (s *Service) gate(ctx context.Context, gigID string) (*gigRef, *Assignment, error) {
	var gig gigRef
	if err := s.db.WithContext(ctx).Where("id = ?", gigID).First(&gig).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, errutil.NotFound("gig not found")
		}
		return nil, nil, err
	}

	if gig.Status != "ASSIGNED" {
		return nil, nil, errutil.UnprocessableEntity("gig is not in an assigned state")
	}
	if gig.AssignedToType == nil || *gig.AssignedToType != "clan" {
		return nil, nil, errutil.UnprocessableEntity("milestones and tasks require a clan engagement")
	}

	asg, err := s.assignments.FindOne(ctx, &Assignment{GigID: gigID})
	if err != nil {
		return nil, nil, err
	}
	if asg == nil {
		return nil, nil, errutil.UnprocessableEntity("no assignment materialized for this gig")
	}

	return &gig, asg, nil
}

type CreateMilestoneRequest struct {
	GigID        string
	ActorID      string
	Title        string
	DueDate      *time.Time
	Amount       int64
	Deliverables []string
}

func (s *Service) CreateMilestone(ctx context.Context, req CreateMilestoneRequest) (*Milestone, error) {
	if req.Title == "" {
		return nil, errutil.ValidationFailed("milestone title is required")
	}

	gig, asg, err := s.gate(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != req.ActorID {
		return nil, errutil.Forbidden("only the gig owner may add milestones")
	}

	deliverables, _ := json.Marshal(req.Deliverables)
	now := time.Now().UTC()
	row := &Milestone{
		ID:           s.node.Generate().String(),
		AssignmentID: asg.ID,
		GigID:        req.GigID,
		Title:        req.Title,
		DueDate:      req.DueDate,
		Amount:       req.Amount,
		Deliverables: deliverables,
		Status:       MilestoneStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.milestones.Create(ctx, row); err != nil {
		return nil, err
	}

	s.emit(ctx, "gig_milestone_created", req.GigID, map[string]interface{}{
		"gig_id":       req.GigID,
		"milestone_id": row.ID,
		"title":        row.Title,
		"amount":       row.Amount,
	})

	return row, nil
}

type UpdateMilestoneRequest struct {
	MilestoneID string
	ActorID     string
	Status      MilestoneStatus
}

func (s *Service) UpdateMilestoneStatus(ctx context.Context, req UpdateMilestoneRequest) (*Milestone, error) {
	ms, err := s.milestones.FindOne(ctx, &Milestone{ID: req.MilestoneID})
	if err != nil {
		return nil, err
	}
	if ms == nil {
		return nil, errutil.NotFound("milestone not found")
	}

	if !CanTransitionMilestone(ms.Status, req.Status) {
		return nil, errutil.UnprocessableEntity("milestone cannot move from " + string(ms.Status) + " to " + string(req.Status))
	}

	asg, err := s.assignments.FindOne(ctx, &Assignment{ID: ms.AssignmentID})
	if err != nil {
		return nil, err
	}
	if asg == nil {
		return nil, errutil.Internal("milestone has no assignment")
	}

	updates := map[string]interface{}{
		"status":     req.Status,
		"updated_at": time.Now().UTC(),
	}

	if req.Status == MilestoneStatusApproved {
		var gig gigRef
		if err := s.db.WithContext(ctx).Where("id = ?", ms.GigID).First(&gig).Error; err != nil {
			return nil, err
		}
		if gig.OwnerID != req.ActorID {
			return nil, errutil.Forbidden("only the gig owner may approve a milestone")
		}
		approvedAt := time.Now().UTC()
		updates["approved_at"] = approvedAt
	}

	if err := s.milestones.Update(ctx, ms.ID, updates); err != nil {
		return nil, err
	}

	ms, err = s.milestones.FindOne(ctx, &Milestone{ID: req.MilestoneID})
	if err != nil {
		return nil, err
	}

	if req.Status == MilestoneStatusApproved {
		s.releasePayout(ctx, asg, ms)
	}

	return ms, nil
}

// releasePayout emits the payout-release event carrying the payout split
// snapshotted into the assignment at acceptance time, then fans out the
// clan-wide notification. Both are best-effort: the milestone is already
// approved.
func (s *Service) releasePayout(ctx context.Context, asg *Assignment, ms *Milestone) {
	var split []PayoutShare
	if len(asg.PayoutSplit) > 0 {
		if err := json.Unmarshal(asg.PayoutSplit, &split); err != nil {
			zap.L().Error("payout split snapshot is not decodable",
				zap.String("assignment_id", asg.ID), zap.Error(err))
		}
	}

	s.emit(ctx, "gig_milestone_approved", ms.GigID, map[string]interface{}{
		"gig_id":        ms.GigID,
		"assignment_id": asg.ID,
		"milestone_id":  ms.ID,
		"amount":        ms.Amount,
		"payout_split":  split,
	})

	fanout, err := engagementtask.NewClanFanoutTask(engagementtask.ClanFanoutPayload{
		GigID:         ms.GigID,
		ApplicationID: asg.ApplicationID,
		ClanID:        asg.ClanID,
		EventType:     "gig_milestone_approved",
	})
	if err != nil {
		zap.L().Error("failed to build clan fanout task", zap.Error(err))
		return
	}
	if s.asynq != nil {
		if _, err := s.asynq.Enqueue(fanout); err != nil {
			zap.L().Warn("failed to enqueue clan fanout", zap.String("milestone_id", ms.ID), zap.Error(err))
		}
	}
}

type CreateTaskRequest struct {
	GigID          string
	ActorID        string
	MilestoneID    *string
	AssigneeID     string
	Title          string
	Description    string
	EstimatedHours float64
}

func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	if req.Title == "" {
		return nil, errutil.ValidationFailed("task title is required")
	}

	_, asg, err := s.gate(ctx, req.GigID)
	if err != nil {
		return nil, err
	}

	if req.MilestoneID != nil {
		ms, err := s.milestones.FindOne(ctx, &Milestone{ID: *req.MilestoneID})
		if err != nil {
			return nil, err
		}
		if ms == nil || ms.AssignmentID != asg.ID {
			return nil, errutil.UnprocessableEntity("milestone does not belong to this assignment")
		}
	}

	now := time.Now().UTC()
	row := &Task{
		ID:             s.node.Generate().String(),
		AssignmentID:   asg.ID,
		MilestoneID:    req.MilestoneID,
		AssigneeID:     req.AssigneeID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         TaskStatusTodo,
		EstimatedHours: req.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.tasks.Create(ctx, row); err != nil {
		return nil, err
	}

	return row, nil
}

type UpdateTaskRequest struct {
	TaskID      string
	ActorID     string
	Status      TaskStatus
	ActualHours *float64
}

func (s *Service) UpdateTaskStatus(ctx context.Context, req UpdateTaskRequest) (*Task, error) {
	row, err := s.tasks.FindOne(ctx, &Task{ID: req.TaskID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("task not found")
	}

	if !CanTransitionTask(row.Status, req.Status) {
		return nil, errutil.UnprocessableEntity("task cannot move from " + string(row.Status) + " to " + string(req.Status))
	}

	updates := map[string]interface{}{
		"status":     req.Status,
		"updated_at": time.Now().UTC(),
	}
	if req.ActualHours != nil {
		updates["actual_hours"] = *req.ActualHours
	}

	if err := s.tasks.Update(ctx, row.ID, updates); err != nil {
		return nil, err
	}

	return s.tasks.FindOne(ctx, &Task{ID: req.TaskID})
}

func (s *Service) emit(ctx context.Context, eventType, gigID string, payload map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, eventType, gigID, payload); err != nil {
		zap.L().Warn("event emission failed after state change",
			zap.String("event_type", eventType),
			zap.String("gig_id", gigID),
			zap.Error(err),
		)
	}
}
