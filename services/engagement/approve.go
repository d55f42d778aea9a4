package engagement

import (
	"context"
	"time"

	"gorm.io/gorm"

	"gigworks-controlplane/pkg/db/option"
	"gigworks-controlplane/pkg/errutil"
	"gigworks-controlplane/services/assignment"
	"gigworks-controlplane/services/history"
)

// ApproveApplication accepts a worker-initiated application. The application
// flips to APPROVED, the gig to ASSIGNED, and for clan applications carrying
// a milestone plan the assignment snapshot materializes, all in one
// transaction. Invitations are accepted by the invitee, never approved by the
// owner.
func (s *Service) ApproveApplication(ctx context.Context, applicationID, ownerID string) (*Application, error) {
	app, err := s.applications.FindOne(ctx, &Application{ID: applicationID})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errutil.NotFound("application not found")
	}
	if app.OwnerInitiated() {
		return nil, errutil.UnprocessableEntity("invitations are accepted by the invitee, not approved by the owner")
	}
	if app.Status != ApplicationStatusPending {
		return nil, errutil.UnprocessableEntity("only a pending application can be approved")
	}

	gig, err := s.GetGig(ctx, app.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != ownerID {
		return nil, errutil.Forbidden("only the gig owner may approve applications")
	}
	if gig.Status != GigStatusAssigned && !CanTransitionGig(gig.Status, GigStatusAssigned) {
		return nil, errutil.UnprocessableEntity("gig cannot be assigned from " + string(gig.Status))
	}

	acceptedAt := time.Now().UTC()
	var milestoneIDs []string

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.applications.WithTrx(tx).FindOne(ctx, &Application{ID: app.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != ApplicationStatusPending || !locked.Live() {
			return errutil.UnprocessableEntity("only a pending application can be approved")
		}

		// the gig read outside the transaction may be stale; the locked
		// row decides whether the slot is still free
		lockedGig, err := s.gigs.WithTrx(tx).FindOne(ctx, &Gig{ID: gig.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if lockedGig == nil {
			return errutil.NotFound("gig not found")
		}
		if lockedGig.Status != GigStatusAssigned && !CanTransitionGig(lockedGig.Status, GigStatusAssigned) {
			return errutil.UnprocessableEntity("gig cannot be assigned from " + string(lockedGig.Status))
		}

		if err := s.applications.WithTrx(tx).Update(ctx, app.ID, map[string]interface{}{
			"status":       ApplicationStatusApproved,
			"responded_at": acceptedAt,
			"updated_at":   acceptedAt,
		}); err != nil {
			return err
		}

		gigUpdates := map[string]interface{}{
			"status":     GigStatusAssigned,
			"updated_at": acceptedAt,
		}
		// the first approval claims the assignee slot; later concurrent
		// approvals on an already-assigned gig keep the original assignee
		if lockedGig.AssignedToID == nil {
			gigUpdates["assigned_to_id"] = app.ApplicantID
			gigUpdates["assigned_to_type"] = app.TargetType
		}
		if err := s.gigs.WithTrx(tx).Update(ctx, gig.ID, gigUpdates); err != nil {
			return err
		}

		if app.ApplicantType == ApplicantClan && len(app.MilestonePlan) > 0 {
			_, milestones, err := s.assignments.Materialize(ctx, tx, s.materializeParams(app, gig.ID, acceptedAt))
			if err != nil {
				return err
			}
			for _, ms := range milestones {
				milestoneIDs = append(milestoneIDs, ms.ID)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	app.Status = ApplicationStatusApproved
	app.RespondedAt = &acceptedAt

	s.afterAcceptance(ctx, app, gig, acceptedAt, nil, milestoneIDs)

	s.emit(ctx, EventApplicationAccepted, gig.ID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"owner_id":       gig.OwnerID,
		"application_id": app.ID,
		"applicant_id":   app.ApplicantID,
		"applicant_type": app.ApplicantType,
	})
	s.emit(ctx, EventApplicationApprovedNT, app.ApplicantID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"application_id": app.ID,
		"applicant_id":   app.ApplicantID,
	})

	return app, nil
}

// RejectApplication declines a pending worker application, freeing its
// uniqueness slot so the applicant may apply again later.
func (s *Service) RejectApplication(ctx context.Context, applicationID, ownerID string) (*Application, error) {
	app, err := s.applications.FindOne(ctx, &Application{ID: applicationID})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errutil.NotFound("application not found")
	}
	if app.OwnerInitiated() {
		return nil, errutil.UnprocessableEntity("invitations are declined by the invitee")
	}
	if app.Status != ApplicationStatusPending {
		return nil, errutil.UnprocessableEntity("only a pending application can be rejected")
	}

	gig, err := s.GetGig(ctx, app.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != ownerID {
		return nil, errutil.Forbidden("only the gig owner may reject applications")
	}

	now := time.Now().UTC()
	if err := s.applications.Update(ctx, app.ID, map[string]interface{}{
		"status":       ApplicationStatusRejected,
		"active":       nil,
		"responded_at": now,
		"updated_at":   now,
	}); err != nil {
		return nil, err
	}
	app.Status = ApplicationStatusRejected
	app.Active = nil
	app.RespondedAt = &now

	s.project(ctx, "record_status", func() error {
		return s.projector.RecordStatus(ctx, history.WorkSeed{
			ApplicationID: app.ID,
			GigID:         gig.ID,
			ApplicantID:   app.ApplicantID,
			ApplicantType: string(app.ApplicantType),
		}, string(ApplicationStatusRejected))
	})

	s.emit(ctx, EventApplicationRejected, app.ApplicantID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"application_id": app.ID,
		"applicant_id":   app.ApplicantID,
	})

	return app, nil
}

// WithdrawApplication lets the applicant pull a still-pending application.
func (s *Service) WithdrawApplication(ctx context.Context, applicationID, actorID string) (*Application, error) {
	app, err := s.applications.FindOne(ctx, &Application{ID: applicationID})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errutil.NotFound("application not found")
	}
	if app.ApplicantID != actorID {
		return nil, errutil.Forbidden("only the applicant may withdraw an application")
	}
	if app.OwnerInitiated() {
		return nil, errutil.UnprocessableEntity("invitations are declined, not withdrawn")
	}
	if app.Status != ApplicationStatusPending {
		return nil, errutil.UnprocessableEntity("only a pending application can be withdrawn")
	}

	now := time.Now().UTC()
	if err := s.applications.Update(ctx, app.ID, map[string]interface{}{
		"status":       ApplicationStatusWithdrawn,
		"active":       nil,
		"responded_at": now,
		"updated_at":   now,
	}); err != nil {
		return nil, err
	}
	app.Status = ApplicationStatusWithdrawn
	app.Active = nil
	app.RespondedAt = &now

	s.project(ctx, "record_status", func() error {
		return s.projector.RecordStatus(ctx, history.WorkSeed{
			ApplicationID: app.ID,
			GigID:         app.GigID,
			ApplicantID:   app.ApplicantID,
			ApplicantType: string(app.ApplicantType),
		}, string(ApplicationStatusWithdrawn))
	})

	s.emit(ctx, EventApplicationWithdrawn, app.GigID, map[string]interface{}{
		"gig_id":         app.GigID,
		"application_id": app.ID,
		"applicant_id":   app.ApplicantID,
	})

	return app, nil
}

func (s *Service) materializeParams(app *Application, gigID string, acceptedAt time.Time) assignment.MaterializeParams {
	return assignment.MaterializeParams{
		ApplicationID: app.ID,
		GigID:         gigID,
		ClanID:        app.ApplicantID,
		TeamPlan:      app.TeamPlan,
		MilestonePlan: app.MilestonePlan,
		PayoutSplit:   app.PayoutSplit,
		AcceptedAt:    acceptedAt,
	}
}
