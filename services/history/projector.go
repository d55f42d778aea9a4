package history

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Projector maintains the two analytic mirrors. Every method is a pure
// upsert keyed by applicationID or gigID: no read-before-write decisions,
// counts accumulate via increments, status fields are last-writer-wins.
// Callers invoke it post-commit; a lost update here never corrupts primary
// state.
type Projector struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ProjectorParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewProjector(p ProjectorParams) *Projector {
	return &Projector{db: p.DB, node: p.Node}
}

// WorkSeed identifies the application a work-history row mirrors.
type WorkSeed struct {
	ApplicationID string
	GigID         string
	ApplicantID   string
	ApplicantType string
}

func (p *Projector) seedRow(seed WorkSeed, status string) *ApplicationWorkHistory {
	return &ApplicationWorkHistory{
		ID:            p.node.Generate().String(),
		ApplicationID: seed.ApplicationID,
		GigID:         seed.GigID,
		ApplicantID:   seed.ApplicantID,
		ApplicantType: seed.ApplicantType,
		Status:        status,
		PaymentStatus: PaymentStatusNone,
		UpdatedAt:     time.Now().UTC(),
	}
}

func (p *Projector) upsertWork(ctx context.Context, row *ApplicationWorkHistory, assignments map[string]interface{}) error {
	assignments["updated_at"] = time.Now().UTC()
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "application_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
}

func (p *Projector) upsertCampaign(ctx context.Context, row *CampaignHistory, assignments map[string]interface{}) error {
	assignments["updated_at"] = time.Now().UTC()
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gig_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
}

// RecordApplied registers a fresh application in both mirrors.
func (p *Projector) RecordApplied(ctx context.Context, seed WorkSeed, gigOwnerID string) error {
	now := time.Now().UTC()

	row := p.seedRow(seed, "PENDING")
	row.AppliedAt = &now
	if err := p.upsertWork(ctx, row, map[string]interface{}{
		"status":     "PENDING",
		"applied_at": now,
	}); err != nil {
		return err
	}

	campaign := &CampaignHistory{
		ID:                p.node.Generate().String(),
		GigID:             seed.GigID,
		OwnerID:           gigOwnerID,
		TotalApplications: 1,
		LastStatus:        "PENDING",
		UpdatedAt:         now,
	}
	return p.upsertCampaign(ctx, campaign, map[string]interface{}{
		"total_applications": gorm.Expr("total_applications + 1"),
		"last_status":        "PENDING",
	})
}

// RecordAccepted marks the engagement accepted with payment pending.
func (p *Projector) RecordAccepted(ctx context.Context, seed WorkSeed, gigOwnerID string, acceptedAt time.Time) error {
	row := p.seedRow(seed, "APPROVED")
	row.AcceptedAt = &acceptedAt
	row.PaymentStatus = PaymentStatusPending
	if err := p.upsertWork(ctx, row, map[string]interface{}{
		"status":         "APPROVED",
		"accepted_at":    acceptedAt,
		"payment_status": PaymentStatusPending,
	}); err != nil {
		return err
	}

	campaign := &CampaignHistory{
		ID:                   p.node.Generate().String(),
		GigID:                seed.GigID,
		OwnerID:              gigOwnerID,
		AcceptedApplications: 1,
		LastStatus:           "ASSIGNED",
		AssignedToID:         &seed.ApplicantID,
		UpdatedAt:            time.Now().UTC(),
	}
	return p.upsertCampaign(ctx, campaign, map[string]interface{}{
		"accepted_applications": gorm.Expr("accepted_applications + 1"),
		"last_status":           "ASSIGNED",
		"assigned_to_id":        seed.ApplicantID,
	})
}

// RecordSubmitted mirrors a work submission.
func (p *Projector) RecordSubmitted(ctx context.Context, seed WorkSeed, gigOwnerID string) error {
	now := time.Now().UTC()

	row := p.seedRow(seed, "SUBMITTED")
	row.SubmittedAt = &now
	if err := p.upsertWork(ctx, row, map[string]interface{}{
		"status":       "SUBMITTED",
		"submitted_at": now,
	}); err != nil {
		return err
	}

	campaign := &CampaignHistory{
		ID:               p.node.Generate().String(),
		GigID:            seed.GigID,
		OwnerID:          gigOwnerID,
		TotalSubmissions: 1,
		LastStatus:       "SUBMITTED",
		UpdatedAt:        now,
	}
	return p.upsertCampaign(ctx, campaign, map[string]interface{}{
		"total_submissions": gorm.Expr("total_submissions + 1"),
		"last_status":       "SUBMITTED",
	})
}

// RecordCompleted marks the engagement delivered and accepted, payment
// pending for the payout pipeline.
func (p *Projector) RecordCompleted(ctx context.Context, seed WorkSeed, gigOwnerID string, rating *int) error {
	now := time.Now().UTC()

	row := p.seedRow(seed, "CLOSED")
	row.CompletedAt = &now
	row.Rating = rating
	row.PaymentStatus = PaymentStatusPending
	assignments := map[string]interface{}{
		"status":         "CLOSED",
		"completed_at":   now,
		"payment_status": PaymentStatusPending,
	}
	if rating != nil {
		assignments["rating"] = *rating
	}
	if err := p.upsertWork(ctx, row, assignments); err != nil {
		return err
	}

	campaign := &CampaignHistory{
		ID:                   p.node.Generate().String(),
		GigID:                seed.GigID,
		OwnerID:              gigOwnerID,
		CompletedEngagements: 1,
		LastStatus:           "COMPLETED",
		UpdatedAt:            now,
	}
	return p.upsertCampaign(ctx, campaign, map[string]interface{}{
		"completed_engagements": gorm.Expr("completed_engagements + 1"),
		"last_status":           "COMPLETED",
	})
}

// RecordRevision bumps the mirror's revision counter and reopens the status.
func (p *Projector) RecordRevision(ctx context.Context, seed WorkSeed) error {
	row := p.seedRow(seed, "APPROVED")
	row.RevisionCount = 1
	return p.upsertWork(ctx, row, map[string]interface{}{
		"status":         "APPROVED",
		"revision_count": gorm.Expr("revision_count + 1"),
	})
}

// RecordStatus mirrors a bare status change (rejection, withdrawal).
func (p *Projector) RecordStatus(ctx context.Context, seed WorkSeed, status string) error {
	row := p.seedRow(seed, status)
	return p.upsertWork(ctx, row, map[string]interface{}{
		"status": status,
	})
}

// RecordCampaignStatus mirrors an administrative gig status change that has
// no application attached (publish, pause, cancel, expire).
func (p *Projector) RecordCampaignStatus(ctx context.Context, gigID, ownerID, status string) error {
	campaign := &CampaignHistory{
		ID:         p.node.Generate().String(),
		GigID:      gigID,
		OwnerID:    ownerID,
		LastStatus: status,
		UpdatedAt:  time.Now().UTC(),
	}
	return p.upsertCampaign(ctx, campaign, map[string]interface{}{
		"last_status": status,
	})
}
