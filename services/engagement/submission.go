package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/db/option"
	"gigworks-controlplane/pkg/errutil"
	"gigworks-controlplane/pkg/logger"
	"gigworks-controlplane/services/history"
)

// SubmitWork files delivered work against an approved application. At most
// one live submission may exist per application; the idx_live_submission
// constraint backs the pre-check for the concurrent case.
func (s *Service) SubmitWork(ctx context.Context, req SubmitWorkRequest) (*Submission, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}
	if err := validateDeliverables(req.Deliverables); err != nil {
		return nil, err
	}

	gig, err := s.GetGig(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if gig.Deadline != nil && time.Now().UTC().After(*gig.Deadline) {
		return nil, errutil.UnprocessableEntity("the gig deadline has passed")
	}

	app, err := s.applications.FindOne(ctx, &Application{
		GigID:       req.GigID,
		ApplicantID: req.WorkerID,
		Status:      ApplicationStatusApproved,
		Active:      active(),
	})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errutil.UnprocessableEntity("no approved application for this worker on this gig")
	}

	existing, err := s.submissions.FindOne(ctx, &Submission{
		ApplicationID: app.ID,
		Active:        active(),
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("a submission is already awaiting review")
	}

	code, cerr := s.seq.NextSubmissionCode(ctx, gig.Code)
	if cerr != nil {
		logger.For(ctx).Warn("submission code generation failed, continuing without", zap.Error(cerr))
	}

	deliverables := make([]Deliverable, len(req.Deliverables))
	for i, d := range req.Deliverables {
		deliverables[i] = Deliverable{Type: d.Type, Content: d.Content, URL: d.URL, FileID: d.FileID}
	}
	deliverablesJSON, _ := json.Marshal(deliverables)

	now := time.Now().UTC()
	sub := &Submission{
		ID:            s.node.Generate().String(),
		Code:          code,
		ApplicationID: app.ID,
		GigID:         gig.ID,
		Active:        active(),
		Title:         req.Title,
		Description:   req.Description,
		Deliverables:  deliverablesJSON,
		Status:        SubmissionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.submissions.WithTrx(tx).Create(ctx, sub); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("a submission is already awaiting review")
			}
			return err
		}

		if err := s.applications.WithTrx(tx).Update(ctx, app.ID, map[string]interface{}{
			"status":     ApplicationStatusSubmitted,
			"updated_at": now,
		}); err != nil {
			return err
		}

		// the gig mirrors the assignee's progress, not every applicant's
		if gig.AssignedToID != nil && *gig.AssignedToID == app.ApplicantID && CanTransitionGig(gig.Status, GigStatusSubmitted) {
			if err := s.gigs.WithTrx(tx).Update(ctx, gig.ID, map[string]interface{}{
				"status":     GigStatusSubmitted,
				"updated_at": now,
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.project(ctx, "record_submitted", func() error {
		return s.projector.RecordSubmitted(ctx, history.WorkSeed{
			ApplicationID: app.ID,
			GigID:         gig.ID,
			ApplicantID:   app.ApplicantID,
			ApplicantType: string(app.ApplicantType),
		}, gig.OwnerID)
	})

	// three independent publishes: one failing must not block the others
	s.emit(ctx, EventWorkSubmitted, gig.ID, map[string]interface{}{
		"gig_id":         gig.ID,
		"owner_id":       gig.OwnerID,
		"application_id": app.ID,
		"submission_id":  sub.ID,
		"title":          sub.Title,
	})
	s.emit(ctx, EventWorkSubmittedNT, gig.ID, map[string]interface{}{
		"gig_id":            gig.ID,
		"gig_title":         gig.Title,
		"owner_id":          gig.OwnerID,
		"application_id":    app.ID,
		"submission_id":     sub.ID,
		"submission_title":  sub.Title,
		"worker_id":         app.ApplicantID,
		"deliverable_count": len(deliverables),
	})
	s.emit(ctx, EventWorkSubmitConfirmed, app.ApplicantID, map[string]interface{}{
		"gig_id":        gig.ID,
		"gig_title":     gig.Title,
		"submission_id": sub.ID,
		"worker_id":     app.ApplicantID,
	})

	return sub, nil
}

// ReviewSubmission records the owner's verdict. APPROVED closes the
// engagement and completes the gig; REVISION and REJECTED reopen the
// application for resubmission, REVISION additionally counting against the
// worker's revision tally.
func (s *Service) ReviewSubmission(ctx context.Context, req ReviewSubmissionRequest) (*Submission, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}
	if !req.Decision.Valid() {
		return nil, errutil.ValidationFailed("unknown review decision")
	}
	if req.Decision == ReviewApproved && req.Rating == nil {
		return nil, errutil.ValidationFailed("approval requires a rating")
	}
	if req.Decision != ReviewApproved && req.Rating != nil {
		return nil, errutil.ValidationFailed("a rating accompanies approval only")
	}

	sub, err := s.submissions.FindOne(ctx, &Submission{ID: req.SubmissionID})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found")
	}
	if sub.Status != SubmissionStatusPending {
		return nil, errutil.UnprocessableEntity("submission has already been reviewed")
	}

	app, err := s.applications.FindOne(ctx, &Application{ID: sub.ApplicationID})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errutil.Internal("submission has no application")
	}

	gig, err := s.GetGig(ctx, sub.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != req.OwnerID {
		return nil, errutil.Forbidden("only the gig owner may review submissions")
	}

	now := time.Now().UTC()
	nextSubStatus := req.Decision.SubmissionStatus()
	nextAppStatus := req.Decision.ApplicationStatus()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.submissions.WithTrx(tx).FindOne(ctx, &Submission{ID: sub.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != SubmissionStatusPending {
			return errutil.UnprocessableEntity("submission has already been reviewed")
		}

		subUpdates := map[string]interface{}{
			"status":      nextSubStatus,
			"feedback":    req.Feedback,
			"reviewed_at": now,
			"updated_at":  now,
		}
		if req.Rating != nil {
			subUpdates["rating"] = *req.Rating
		}
		// rejection and revision free the live-submission slot so the
		// worker can resubmit
		if req.Decision != ReviewApproved {
			subUpdates["active"] = nil
		}
		if err := s.submissions.WithTrx(tx).Update(ctx, sub.ID, subUpdates); err != nil {
			return err
		}

		appUpdates := map[string]interface{}{
			"status":     nextAppStatus,
			"updated_at": now,
		}
		if nextAppStatus == ApplicationStatusClosed {
			appUpdates["active"] = nil
		}
		if req.Decision == ReviewRevision {
			appUpdates["revision_count"] = gorm.Expr("revision_count + 1")
		}
		if err := s.applications.WithTrx(tx).Update(ctx, app.ID, appUpdates); err != nil {
			return err
		}

		if gig.AssignedToID != nil && *gig.AssignedToID == app.ApplicantID {
			var nextGig GigStatus
			if req.Decision == ReviewApproved {
				nextGig = GigStatusCompleted
			} else {
				nextGig = GigStatusInProgress
			}
			if CanTransitionGig(gig.Status, nextGig) {
				if err := s.gigs.WithTrx(tx).Update(ctx, gig.ID, map[string]interface{}{
					"status":     nextGig,
					"updated_at": now,
				}); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sub.Status = nextSubStatus
	sub.Rating = req.Rating
	sub.Feedback = req.Feedback
	sub.ReviewedAt = &now

	seed := history.WorkSeed{
		ApplicationID: app.ID,
		GigID:         gig.ID,
		ApplicantID:   app.ApplicantID,
		ApplicantType: string(app.ApplicantType),
	}

	switch req.Decision {
	case ReviewApproved:
		s.project(ctx, "record_completed", func() error {
			return s.projector.RecordCompleted(ctx, seed, gig.OwnerID, req.Rating)
		})
		s.emit(ctx, EventGigDelivered, gig.ID, map[string]interface{}{
			"gig_id":         gig.ID,
			"owner_id":       gig.OwnerID,
			"application_id": app.ID,
			"submission_id":  sub.ID,
			"worker_id":      app.ApplicantID,
		})
		if req.Rating != nil {
			s.emit(ctx, EventGigRated, gig.ID, map[string]interface{}{
				"gig_id":    gig.ID,
				"worker_id": app.ApplicantID,
				"rating":    *req.Rating,
			})
		}
		s.emit(ctx, EventGigCompleted, gig.ID, map[string]interface{}{
			"gig_id":         gig.ID,
			"owner_id":       gig.OwnerID,
			"application_id": app.ID,
			"worker_id":      app.ApplicantID,
		})
	case ReviewRevision:
		s.project(ctx, "record_revision", func() error {
			return s.projector.RecordRevision(ctx, seed)
		})
	default:
		s.project(ctx, "record_status", func() error {
			return s.projector.RecordStatus(ctx, seed, string(ApplicationStatusApproved))
		})
	}

	s.emit(ctx, EventSubmissionReviewed, app.ApplicantID, map[string]interface{}{
		"gig_id":        gig.ID,
		"gig_title":     gig.Title,
		"submission_id": sub.ID,
		"worker_id":     app.ApplicantID,
		"decision":      req.Decision,
		"message":       reviewMessage(req.Decision, gig.Title),
	})

	return sub, nil
}

// validateDeliverables enforces that every deliverable carries at least one
// of content, url or file. An empty deliverable is an error, never silently
// dropped.
func validateDeliverables(in []DeliverableInput) error {
	var details []errutil.Detail
	for i, d := range in {
		if d.Content == "" && d.URL == "" && d.FileID == "" {
			details = append(details, errutil.Detail{
				Field:   fmt.Sprintf("deliverables[%d]", i),
				Message: "requires at least one of content, url or file",
			})
		}
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("empty deliverables", errutil.WithDetails(details...))
	}
	return nil
}

func reviewMessage(d ReviewDecision, gigTitle string) string {
	switch d {
	case ReviewApproved:
		return fmt.Sprintf("Your work on %q was approved.", gigTitle)
	case ReviewRevision:
		return fmt.Sprintf("Your work on %q needs another revision.", gigTitle)
	default:
		return fmt.Sprintf("Your work on %q was not accepted. You may resubmit.", gigTitle)
	}
}
