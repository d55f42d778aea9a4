package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/errutil"
)

func ratingOf(n int) *int { return &n }

func setupApprovedEngagement(t *testing.T, env *testEnv) (*Gig, *Application) {
	t.Helper()
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)
	app := applyAsUser(t, env, gig.ID, "user-1")
	_, err := env.svc.ApproveApplication(context.Background(), app.ID, "owner-1")
	require.NoError(t, err)
	return gig, app
}

func submitDraft(t *testing.T, env *testEnv, gigID, workerID string) *Submission {
	t.Helper()
	sub, err := env.svc.SubmitWork(context.Background(), SubmitWorkRequest{
		GigID:    gigID,
		WorkerID: workerID,
		Title:    "Draft v1",
		Deliverables: []DeliverableInput{
			{Type: DeliverableSocialPost, URL: "https://example.com/post/1"},
		},
	})
	require.NoError(t, err)
	return sub
}

func TestSubmitWorkHappyPath(t *testing.T) {
	env := newTestEnv(t)
	gig, app := setupApprovedEngagement(t, env)

	sub := submitDraft(t, env, gig.ID, "user-1")
	require.Equal(t, SubmissionStatusPending, sub.Status)
	require.Equal(t, "GIG-20260901-0001-S01", sub.Code)

	var fresh Application
	require.NoError(t, env.db.Where("id = ?", app.ID).First(&fresh).Error)
	require.Equal(t, ApplicationStatusSubmitted, fresh.Status)

	updatedGig, err := env.svc.GetGig(context.Background(), gig.ID)
	require.NoError(t, err)
	require.Equal(t, GigStatusSubmitted, updatedGig.Status)

	work := env.workHistory(t, app.ID)
	require.Equal(t, "SUBMITTED", work.Status)
	require.NotNil(t, work.SubmittedAt)

	require.True(t, env.publisher.published(EventWorkSubmitted))
	require.True(t, env.publisher.published(EventWorkSubmittedNT))
	require.True(t, env.publisher.published(EventWorkSubmitConfirmed))
}

func TestSubmitWorkRequiresApprovedApplication(t *testing.T) {
	env := newTestEnv(t)
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)
	applyAsUser(t, env, gig.ID, "user-1")

	_, err := env.svc.SubmitWork(context.Background(), SubmitWorkRequest{
		GigID:    gig.ID,
		WorkerID: "user-1",
		Title:    "Draft v1",
		Deliverables: []DeliverableInput{
			{Type: DeliverableImage, FileID: "file-1"},
		},
	})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestSubmitWorkRejectsEmptyDeliverable(t *testing.T) {
	env := newTestEnv(t)
	gig, _ := setupApprovedEngagement(t, env)

	_, err := env.svc.SubmitWork(context.Background(), SubmitWorkRequest{
		GigID:    gig.ID,
		WorkerID: "user-1",
		Title:    "Draft v1",
		Deliverables: []DeliverableInput{
			{Type: DeliverableSocialPost, URL: "https://example.com/post/1"},
			{Type: DeliverableOther},
		},
	})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestSubmitWorkRespectsDeadline(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().UTC().Add(-time.Hour)
	gig, err := env.svc.CreateGig(context.Background(), CreateGigRequest{
		OwnerID:  "owner-1",
		Title:    "Yesterday's campaign",
		Type:     GigTypeRemote,
		Deadline: &past,
		Publish:  true,
	})
	require.NoError(t, err)
	app := applyAsUser(t, env, gig.ID, "user-1")
	_, err = env.svc.ApproveApplication(context.Background(), app.ID, "owner-1")
	require.NoError(t, err)

	_, err = env.svc.SubmitWork(context.Background(), SubmitWorkRequest{
		GigID:    gig.ID,
		WorkerID: "user-1",
		Title:    "Too late",
		Deliverables: []DeliverableInput{
			{Type: DeliverableFile, FileID: "file-1"},
		},
	})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestSubmitWorkSingleLiveSubmission(t *testing.T) {
	env := newTestEnv(t)
	gig, _ := setupApprovedEngagement(t, env)
	submitDraft(t, env, gig.ID, "user-1")

	_, err := env.svc.SubmitWork(context.Background(), SubmitWorkRequest{
		GigID:    gig.ID,
		WorkerID: "user-1",
		Title:    "Draft v1 again",
		Deliverables: []DeliverableInput{
			{Type: DeliverableSocialPost, Content: "copy text"},
		},
	})
	requireStatus(t, err, errutil.StatusConflict)
}

func TestReviewSubmissionApprove(t *testing.T) {
	env := newTestEnv(t)
	gig, app := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	reviewed, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewApproved,
		Rating:       ratingOf(5),
		Feedback:     "Great work",
	})
	require.NoError(t, err)
	require.Equal(t, SubmissionStatusApproved, reviewed.Status)

	var freshApp Application
	require.NoError(t, env.db.Where("id = ?", app.ID).First(&freshApp).Error)
	require.Equal(t, ApplicationStatusClosed, freshApp.Status)
	require.Nil(t, freshApp.Active)

	freshGig, err := env.svc.GetGig(context.Background(), gig.ID)
	require.NoError(t, err)
	require.Equal(t, GigStatusCompleted, freshGig.Status)

	work := env.workHistory(t, app.ID)
	require.Equal(t, "CLOSED", work.Status)
	require.NotNil(t, work.CompletedAt)
	require.Equal(t, "pending", work.PaymentStatus)
	require.NotNil(t, work.Rating)
	require.Equal(t, 5, *work.Rating)

	campaign := env.campaignHistory(t, gig.ID)
	require.Equal(t, 1, campaign.CompletedEngagements)

	require.True(t, env.publisher.published(EventGigDelivered))
	require.True(t, env.publisher.published(EventGigRated))
	require.True(t, env.publisher.published(EventGigCompleted))
	require.True(t, env.publisher.published(EventSubmissionReviewed))
}

func TestReviewSubmissionApproveRequiresRating(t *testing.T) {
	env := newTestEnv(t)
	gig, _ := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	_, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewApproved,
	})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestReviewSubmissionRevisionAllowsResubmit(t *testing.T) {
	env := newTestEnv(t)
	gig, app := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	reviewed, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewRevision,
		Feedback:     "Tighten the intro",
	})
	require.NoError(t, err)
	require.Equal(t, SubmissionStatusRevision, reviewed.Status)

	var freshApp Application
	require.NoError(t, env.db.Where("id = ?", app.ID).First(&freshApp).Error)
	require.Equal(t, ApplicationStatusApproved, freshApp.Status)
	require.Equal(t, 1, freshApp.RevisionCount)

	work := env.workHistory(t, app.ID)
	require.Equal(t, 1, work.RevisionCount)

	// the live-submission slot is free again
	second := submitDraft(t, env, gig.ID, "user-1")
	require.NotEqual(t, sub.ID, second.ID)
}

func TestReviewSubmissionRejectNoRevisionCount(t *testing.T) {
	env := newTestEnv(t)
	gig, app := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	reviewed, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewRejected,
	})
	require.NoError(t, err)
	require.Equal(t, SubmissionStatusRejected, reviewed.Status)

	var freshApp Application
	require.NoError(t, env.db.Where("id = ?", app.ID).First(&freshApp).Error)
	require.Equal(t, ApplicationStatusApproved, freshApp.Status)
	require.Zero(t, freshApp.RevisionCount)
}

func TestReviewSubmissionOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	gig, _ := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	_, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "user-1",
		Decision:     ReviewApproved,
		Rating:       ratingOf(4),
	})
	requireStatus(t, err, errutil.StatusForbidden)
}

func TestReviewSubmissionOnlyPending(t *testing.T) {
	env := newTestEnv(t)
	gig, _ := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	_, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewRejected,
	})
	require.NoError(t, err)

	_, err = env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewApproved,
		Rating:       ratingOf(3),
	})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestSubmitWorkConcurrentDuplicateHitsConstraint(t *testing.T) {
	env := newTestEnv(t)
	gig, app := setupApprovedEngagement(t, env)

	// a second draft for the same application slips in between the
	// liveness pre-check and the insert; the unique index catches it
	var raced bool
	err := env.db.Callback().Create().Before("gorm:create").Register("competing_submission", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*Submission); !ok {
			return
		}
		if raced {
			return
		}
		raced = true
		now := time.Now().UTC()
		dup := &Submission{
			ID:            "competing-sub",
			ApplicationID: app.ID,
			GigID:         gig.ID,
			Active:        active(),
			Title:         "Draft v1",
			Status:        SubmissionStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Create(dup).Error)
	})
	require.NoError(t, err)

	_, err = env.svc.SubmitWork(context.Background(), SubmitWorkRequest{
		GigID:    gig.ID,
		WorkerID: "user-1",
		Title:    "Draft v1",
		Deliverables: []DeliverableInput{
			{Type: DeliverableSocialPost, URL: "https://example.com/post/1"},
		},
	})
	require.True(t, raced)
	requireStatus(t, err, errutil.StatusConflict)

	// both inserts rode the same transaction, so neither row survives
	var count int64
	require.NoError(t, env.db.Model(&Submission{}).Where("gig_id = ?", gig.ID).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestReviewSubmissionRejectsRatingOutsideApproval(t *testing.T) {
	env := newTestEnv(t)
	gig, _ := setupApprovedEngagement(t, env)
	sub := submitDraft(t, env, gig.ID, "user-1")

	_, err := env.svc.ReviewSubmission(context.Background(), ReviewSubmissionRequest{
		SubmissionID: sub.ID,
		OwnerID:      "owner-1",
		Decision:     ReviewRevision,
		Feedback:     "Tighten the intro",
		Rating:       ratingOf(2),
	})
	requireStatus(t, err, errutil.StatusValidationFailed)

	var fresh Submission
	require.NoError(t, env.db.Where("id = ?", sub.ID).First(&fresh).Error)
	require.Equal(t, SubmissionStatusPending, fresh.Status)
	require.Nil(t, fresh.Rating)
}
