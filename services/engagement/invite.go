package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/db/option"
	"gigworks-controlplane/pkg/errutil"
	engagementtask "gigworks-controlplane/services/engagement/task"
	"gigworks-controlplane/services/history"
)

// AssignGig is the owner-initiated entry path: the owner invites a worker or
// clan onto the gig. The invitation is stored as an Application with
// applicantType=owner so both paths converge on the same row and the same
// uniqueness slot. A previously terminated Application from the same invitee
// is reused and reset rather than duplicated.
func (s *Service) AssignGig(ctx context.Context, req AssignGigRequest) (*Application, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	gig, err := s.GetGig(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != req.OwnerID {
		return nil, errutil.Forbidden("only the gig owner may send invitations")
	}
	if req.InviteeID == gig.OwnerID {
		return nil, errutil.UnprocessableEntity("the gig owner cannot invite themselves")
	}
	if !gig.Status.AcceptsApplications() {
		return nil, errutil.UnprocessableEntity("gig is not accepting applications")
	}

	// any live application from the invitee, regardless of entry path,
	// blocks a new invitation until the invitee acts on it
	live, err := s.applications.FindOne(ctx, &Application{
		GigID:       req.GigID,
		ApplicantID: req.InviteeID,
		Active:      active(),
	})
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, errutil.Conflict("the invitee already has an active application on this gig")
	}

	// plans supplied up front ride on the invitation row so acceptance can
	// materialize them without another owner round-trip
	var teamPlan, milestonePlan, payoutSplit datatypes.JSON
	if req.InviteeType == AssigneeClan && (len(req.TeamPlan) > 0 || len(req.MilestonePlan) > 0 || len(req.PayoutSplit) > 0) {
		teamPlan, payoutSplit, err = s.resolveClanPlans(ctx, req.InviteeID, req.TeamPlan, req.PayoutSplit)
		if err != nil {
			return nil, err
		}
		if len(req.MilestonePlan) > 0 {
			milestonePlan, _ = json.Marshal(req.MilestonePlan)
		}
	}

	now := time.Now().UTC()

	// reuse the most recent terminated row instead of creating a duplicate
	prior, err := s.applications.FindOne(ctx, &Application{
		GigID:       req.GigID,
		ApplicantID: req.InviteeID,
	}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "id",
		OrderBy: "desc",
		Allow:   map[string]bool{"id": true},
	}))
	if err != nil {
		return nil, err
	}

	var app *Application
	if prior != nil {
		if err := s.applications.Update(ctx, prior.ID, map[string]interface{}{
			"applicant_type": ApplicantOwner,
			"target_type":    req.InviteeType,
			"active":         true,
			"status":         ApplicationStatusPending,
			"quote":          req.Quote,
			"cover_letter":   req.Message,
			"upi_id":         PlaceholderUpiID,
			"team_plan":      teamPlan,
			"milestone_plan": milestonePlan,
			"payout_split":   payoutSplit,
			"responded_at":   nil,
			"revision_count": 0,
			"updated_at":     now,
		}); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, errutil.Conflict("the invitee already has an active application on this gig")
			}
			return nil, err
		}
		app, err = s.applications.FindOne(ctx, &Application{ID: prior.ID})
		if err != nil {
			return nil, err
		}
	} else {
		app = &Application{
			ID:            s.node.Generate().String(),
			GigID:         req.GigID,
			ApplicantID:   req.InviteeID,
			ApplicantType: ApplicantOwner,
			TargetType:    req.InviteeType,
			Active:        active(),
			Status:        ApplicationStatusPending,
			Quote:         req.Quote,
			CoverLetter:   req.Message,
			UpiID:         PlaceholderUpiID,
			TeamPlan:      teamPlan,
			MilestonePlan: milestonePlan,
			PayoutSplit:   payoutSplit,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.applications.Create(ctx, app); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, errutil.Conflict("the invitee already has an active application on this gig")
			}
			return nil, err
		}
	}

	s.project(ctx, "record_applied", func() error {
		return s.projector.RecordApplied(ctx, history.WorkSeed{
			ApplicationID: app.ID,
			GigID:         gig.ID,
			ApplicantID:   app.ApplicantID,
			ApplicantType: string(app.ApplicantType),
		}, gig.OwnerID)
	})

	s.emit(ctx, EventInvitationSent, gig.ID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"owner_id":       gig.OwnerID,
		"application_id": app.ID,
		"invitee_id":     req.InviteeID,
		"invitee_type":   req.InviteeType,
		"quote":          req.Quote,
	})
	s.emit(ctx, EventInvitationSent, req.InviteeID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"application_id": app.ID,
		"invitee_id":     req.InviteeID,
		"message":        req.Message,
	})

	return app, nil
}

// AcceptInvitation converts a pending invitation into a full engagement: the
// invitee supplies a real payment id, the application is approved, the gig is
// assigned, all sibling PENDING applications are rejected, and for clan
// invitations the assignment snapshot is materialized. All of that commits in
// one transaction.
func (s *Service) AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) (*Application, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	app, gig, err := s.loadInvitation(ctx, req.ApplicationID, req.InviteeID)
	if err != nil {
		return nil, err
	}
	if gig.Status != GigStatusAssigned && !CanTransitionGig(gig.Status, GigStatusAssigned) {
		return nil, errutil.UnprocessableEntity("gig cannot be assigned from " + string(gig.Status))
	}

	acceptedAt := time.Now().UTC()
	var siblings []*Application
	var milestoneIDs []string

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.applications.WithTrx(tx).FindOne(ctx, &Application{ID: app.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != ApplicationStatusPending || !locked.Live() {
			return errutil.UnprocessableEntity("invitation is no longer pending")
		}

		// the pre-check above ran outside the lock; the locked row decides
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
		if lockedGig.AssignedToID != nil && *lockedGig.AssignedToID != app.ApplicantID {
			return errutil.Conflict("the gig has already been assigned")
		}

		if err := s.applications.WithTrx(tx).Update(ctx, app.ID, map[string]interface{}{
			"status":       ApplicationStatusApproved,
			"upi_id":       req.UpiID,
			"responded_at": acceptedAt,
			"updated_at":   acceptedAt,
		}); err != nil {
			return err
		}

		if err := s.gigs.WithTrx(tx).Update(ctx, gig.ID, map[string]interface{}{
			"status":           GigStatusAssigned,
			"assigned_to_id":   app.ApplicantID,
			"assigned_to_type": app.TargetType,
			"updated_at":       acceptedAt,
		}); err != nil {
			return err
		}

		siblings, err = s.rejectSiblings(ctx, tx, gig.ID, app.ID, acceptedAt)
		if err != nil {
			return err
		}

		if app.TargetType == AssigneeClan && len(app.MilestonePlan) > 0 {
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
	app.UpiID = req.UpiID
	app.RespondedAt = &acceptedAt

	s.afterAcceptance(ctx, app, gig, acceptedAt, siblings, milestoneIDs)

	s.emit(ctx, EventInvitationAccepted, gig.ID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"owner_id":       gig.OwnerID,
		"application_id": app.ID,
		"invitee_id":     app.ApplicantID,
		"invitee_type":   app.TargetType,
	})

	return app, nil
}

// RejectInvitation lets the invitee decline a pending invitation.
func (s *Service) RejectInvitation(ctx context.Context, req RejectInvitationRequest) (*Application, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	app, gig, err := s.loadInvitation(ctx, req.ApplicationID, req.InviteeID)
	if err != nil {
		return nil, err
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

	s.emit(ctx, EventInvitationRejected, gig.ID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"owner_id":       gig.OwnerID,
		"application_id": app.ID,
		"invitee_id":     app.ApplicantID,
		"reason":         req.Reason,
	})

	return app, nil
}

// loadInvitation fetches a pending invitation and verifies the caller is the
// invitee.
func (s *Service) loadInvitation(ctx context.Context, applicationID, inviteeID string) (*Application, *Gig, error) {
	app, err := s.applications.FindOne(ctx, &Application{ID: applicationID})
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, nil, errutil.NotFound("invitation not found")
	}
	if !app.OwnerInitiated() {
		return nil, nil, errutil.UnprocessableEntity("application is not an invitation")
	}
	if app.ApplicantID != inviteeID {
		return nil, nil, errutil.Forbidden("only the invitee may act on this invitation")
	}
	if app.Status != ApplicationStatusPending || !app.Live() {
		return nil, nil, errutil.UnprocessableEntity("invitation is no longer pending")
	}

	gig, err := s.GetGig(ctx, app.GigID)
	if err != nil {
		return nil, nil, err
	}
	return app, gig, nil
}

// rejectSiblings terminates every other PENDING application on the gig
// inside the caller's transaction and returns the affected rows for
// post-commit projection.
func (s *Service) rejectSiblings(ctx context.Context, tx *gorm.DB, gigID, keepID string, at time.Time) ([]*Application, error) {
	var siblings []*Application
	if err := tx.WithContext(ctx).
		Where("gig_id = ? AND id <> ? AND status = ?", gigID, keepID, ApplicationStatusPending).
		Find(&siblings).Error; err != nil {
		return nil, err
	}
	if len(siblings) == 0 {
		return nil, nil
	}

	if err := tx.WithContext(ctx).Model(&Application{}).
		Where("gig_id = ? AND id <> ? AND status = ?", gigID, keepID, ApplicationStatusPending).
		Updates(map[string]interface{}{
			"status":       ApplicationStatusRejected,
			"active":       nil,
			"responded_at": at,
			"updated_at":   at,
		}).Error; err != nil {
		return nil, err
	}
	return siblings, nil
}

// afterAcceptance runs the post-commit side effects shared by invitation
// acceptance and application approval: history projection, sibling rejection
// events, milestone events and clan fan-out.
func (s *Service) afterAcceptance(ctx context.Context, app *Application, gig *Gig, acceptedAt time.Time, siblings []*Application, milestoneIDs []string) {
	s.project(ctx, "record_accepted", func() error {
		return s.projector.RecordAccepted(ctx, history.WorkSeed{
			ApplicationID: app.ID,
			GigID:         gig.ID,
			ApplicantID:   app.ApplicantID,
			ApplicantType: string(app.ApplicantType),
		}, gig.OwnerID, acceptedAt)
	})

	for _, sib := range siblings {
		s.project(ctx, "record_status", func() error {
			return s.projector.RecordStatus(ctx, history.WorkSeed{
				ApplicationID: sib.ID,
				GigID:         gig.ID,
				ApplicantID:   sib.ApplicantID,
				ApplicantType: string(sib.ApplicantType),
			}, string(ApplicationStatusRejected))
		})
		s.emit(ctx, EventApplicationRejected, sib.ApplicantID, map[string]interface{}{
			"gig_id":         gig.ID,
			"gig_title":      gig.Title,
			"application_id": sib.ID,
			"applicant_id":   sib.ApplicantID,
		})
	}

	for _, msID := range milestoneIDs {
		s.emit(ctx, EventMilestoneCreated, gig.ID, map[string]interface{}{
			"gig_id":         gig.ID,
			"application_id": app.ID,
			"milestone_id":   msID,
		})
	}

	if app.TargetType == AssigneeClan {
		s.enqueueClanFanout(app, gig)
	}
}

func (s *Service) enqueueClanFanout(app *Application, gig *Gig) {
	fanout, err := engagementtask.NewClanFanoutTask(engagementtask.ClanFanoutPayload{
		GigID:         gig.ID,
		GigTitle:      gig.Title,
		ApplicationID: app.ID,
		ClanID:        app.ApplicantID,
		EventType:     "clan_gig_approved",
	})
	if err != nil {
		zap.L().Error("failed to build clan fanout task", zap.Error(err))
		return
	}
	if _, err := s.asynq.Enqueue(fanout); err != nil {
		zap.L().Warn("failed to enqueue clan fanout",
			zap.String("gig_id", gig.ID),
			zap.String("clan_id", app.ApplicantID),
			zap.Error(err),
		)
	}
}
