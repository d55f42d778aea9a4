package engagement

import (
	"context"

	"go.uber.org/zap"

	"gigworks-controlplane/pkg/logger"
)

// Event types published by lifecycle operations. Route names are stable
// contract with the scoring and notification consumers; dotted names are
// reputation-facing, underscored names are notification-facing.
const (
	EventGigCreated            = "gig_created"
	EventNewApplication        = "new_application_received"
	EventApplicationConfirmed  = "application_confirmed"
	EventApplicationAccepted   = "application_accepted"
	EventApplicationApprovedNT = "application_approved_notification"
	EventApplicationRejected   = "application_rejected"
	EventApplicationWithdrawn  = "application_withdrawn"
	EventInvitationSent        = "gig_invitation_sent"
	EventInvitationAccepted    = "gig_invitation_accepted"
	EventInvitationRejected    = "gig_invitation_rejected"
	EventWorkSubmitted         = "work_submitted"
	EventWorkSubmittedNT       = "work_submitted_notification"
	EventWorkSubmitConfirmed   = "work_submission_confirmed"
	EventSubmissionReviewed    = "submission_reviewed"
	EventGigCompleted          = "gig.completed"
	EventGigDelivered          = "gig.delivered"
	EventGigRated              = "gig.rated"
	EventMilestoneCreated      = "gig_milestone_created"
)

// emit publishes one lifecycle event after the primary transaction has
// committed. Failures are logged and swallowed: notification is best-effort,
// the committed transition is not reversed.
func (s *Service) emit(ctx context.Context, eventType, key string, payload map[string]interface{}) {
	if err := s.emitter.Emit(ctx, eventType, key, payload); err != nil {
		logger.For(ctx).Warn("event emission failed after state change",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// project runs one history-mirror update after commit. Same policy as emit:
// the mirrors are eventually consistent projections, never authoritative.
func (s *Service) project(ctx context.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		logger.For(ctx).Warn("history projection failed",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
