package engagement

// The transition tables below are the single source of truth for lifecycle
// movement. Both entry paths (worker application, owner invitation) and every
// operation route through these; no caller compares status strings directly.

var gigTransitions = map[GigStatus]map[GigStatus]bool{
	GigStatusDraft: {
		GigStatusOpen: true,
	},
	GigStatusOpen: {
		GigStatusAssigned: true,
		GigStatusPaused:   true,
		GigStatusInReview: true,
	},
	GigStatusPaused: {
		GigStatusOpen: true,
	},
	GigStatusInReview: {
		GigStatusOpen: true,
	},
	GigStatusAssigned: {
		GigStatusInProgress: true,
		GigStatusSubmitted:  true,
	},
	GigStatusInProgress: {
		GigStatusSubmitted: true,
	},
	GigStatusSubmitted: {
		GigStatusCompleted: true,
		// revision/rejection of the submission sends the work back
		GigStatusInProgress: true,
	},
	GigStatusCompleted: {},
	GigStatusCancelled: {},
	GigStatusExpired:   {},
}

// Terminal reports whether no further transition can leave this status.
func (s GigStatus) Terminal() bool {
	switch s {
	case GigStatusCompleted, GigStatusCancelled, GigStatusExpired:
		return true
	default:
		return false
	}
}

// CanTransitionGig answers whether from→to is a legal gig movement.
// CANCELLED and EXPIRED are reachable from any non-terminal state.
func CanTransitionGig(from, to GigStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == GigStatusCancelled || to == GigStatusExpired {
		return true
	}
	next, ok := gigTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// AcceptsApplications reports whether new applications/invitations may be
// filed against a gig in this status. ASSIGNED is deliberately included:
// the marketplace allows multiple concurrent approved applicants per gig.
func (s GigStatus) AcceptsApplications() bool {
	return s == GigStatusOpen || s == GigStatusAssigned
}

var applicationTransitions = map[ApplicationStatus]map[ApplicationStatus]bool{
	ApplicationStatusPending: {
		ApplicationStatusApproved:  true,
		ApplicationStatusRejected:  true,
		ApplicationStatusWithdrawn: true,
	},
	ApplicationStatusApproved: {
		ApplicationStatusSubmitted: true,
	},
	ApplicationStatusSubmitted: {
		ApplicationStatusClosed: true,
		// revision or rejection of the submission reopens the engagement
		ApplicationStatusApproved: true,
	},
	ApplicationStatusRejected:  {},
	ApplicationStatusWithdrawn: {},
	ApplicationStatusClosed:    {},
}

func (s ApplicationStatus) Terminal() bool {
	switch s {
	case ApplicationStatusRejected, ApplicationStatusWithdrawn, ApplicationStatusClosed:
		return true
	default:
		return false
	}
}

// LiveStatus reports whether an application in this status still occupies
// the per-actor uniqueness slot on its gig.
func (s ApplicationStatus) LiveStatus() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusApproved, ApplicationStatusSubmitted:
		return true
	default:
		return false
	}
}

func CanTransitionApplication(from, to ApplicationStatus) bool {
	next, ok := applicationTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// ReviewDecision is the owner's verdict on a pending submission.
type ReviewDecision string

const (
	ReviewApproved ReviewDecision = "APPROVED"
	ReviewRejected ReviewDecision = "REJECTED"
	ReviewRevision ReviewDecision = "REVISION"
)

func (d ReviewDecision) Valid() bool {
	switch d {
	case ReviewApproved, ReviewRejected, ReviewRevision:
		return true
	default:
		return false
	}
}

// SubmissionStatusFor maps a review decision onto the submission's next
// status.
func (d ReviewDecision) SubmissionStatus() SubmissionStatus {
	switch d {
	case ReviewApproved:
		return SubmissionStatusApproved
	case ReviewRejected:
		return SubmissionStatusRejected
	default:
		return SubmissionStatusRevision
	}
}

// ApplicationStatusFor maps a review decision onto the application's next
// status: approval closes the engagement, anything else reopens it for
// resubmission.
func (d ReviewDecision) ApplicationStatus() ApplicationStatus {
	if d == ReviewApproved {
		return ApplicationStatusClosed
	}
	return ApplicationStatusApproved
}
