package engagement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionGig(t *testing.T) {
	cases := []struct {
		from, to GigStatus
		want     bool
	}{
		{GigStatusDraft, GigStatusOpen, true},
		{GigStatusDraft, GigStatusCompleted, false},
		{GigStatusOpen, GigStatusAssigned, true},
		{GigStatusOpen, GigStatusPaused, true},
		{GigStatusPaused, GigStatusOpen, true},
		{GigStatusAssigned, GigStatusInProgress, true},
		{GigStatusAssigned, GigStatusSubmitted, true},
		{GigStatusInProgress, GigStatusSubmitted, true},
		{GigStatusSubmitted, GigStatusCompleted, true},
		{GigStatusSubmitted, GigStatusInProgress, true},
		{GigStatusSubmitted, GigStatusOpen, false},
		{GigStatusCompleted, GigStatusOpen, false},
		// cancellation and expiry are reachable from any live state
		{GigStatusDraft, GigStatusCancelled, true},
		{GigStatusInProgress, GigStatusExpired, true},
		{GigStatusCompleted, GigStatusCancelled, false},
		{GigStatusCancelled, GigStatusExpired, false},
	}

	for _, tc := range cases {
		got := CanTransitionGig(tc.from, tc.to)
		require.Equalf(t, tc.want, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestGigStatusTerminal(t *testing.T) {
	require.True(t, GigStatusCompleted.Terminal())
	require.True(t, GigStatusCancelled.Terminal())
	require.True(t, GigStatusExpired.Terminal())
	require.False(t, GigStatusOpen.Terminal())
	require.False(t, GigStatusSubmitted.Terminal())
}

func TestGigStatusAcceptsApplications(t *testing.T) {
	require.True(t, GigStatusOpen.AcceptsApplications())
	require.True(t, GigStatusAssigned.AcceptsApplications())
	require.False(t, GigStatusDraft.AcceptsApplications())
	require.False(t, GigStatusCompleted.AcceptsApplications())
}

func TestCanTransitionApplication(t *testing.T) {
	cases := []struct {
		from, to ApplicationStatus
		want     bool
	}{
		{ApplicationStatusPending, ApplicationStatusApproved, true},
		{ApplicationStatusPending, ApplicationStatusRejected, true},
		{ApplicationStatusPending, ApplicationStatusWithdrawn, true},
		{ApplicationStatusPending, ApplicationStatusSubmitted, false},
		{ApplicationStatusApproved, ApplicationStatusSubmitted, true},
		{ApplicationStatusSubmitted, ApplicationStatusClosed, true},
		{ApplicationStatusSubmitted, ApplicationStatusApproved, true},
		{ApplicationStatusRejected, ApplicationStatusPending, false},
		{ApplicationStatusClosed, ApplicationStatusApproved, false},
	}

	for _, tc := range cases {
		got := CanTransitionApplication(tc.from, tc.to)
		require.Equalf(t, tc.want, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestApplicationStatusLiveStatus(t *testing.T) {
	require.True(t, ApplicationStatusPending.LiveStatus())
	require.True(t, ApplicationStatusApproved.LiveStatus())
	require.True(t, ApplicationStatusSubmitted.LiveStatus())
	require.False(t, ApplicationStatusRejected.LiveStatus())
	require.False(t, ApplicationStatusWithdrawn.LiveStatus())
	require.False(t, ApplicationStatusClosed.LiveStatus())
}

func TestReviewDecisionMapping(t *testing.T) {
	require.Equal(t, SubmissionStatusApproved, ReviewApproved.SubmissionStatus())
	require.Equal(t, SubmissionStatusRejected, ReviewRejected.SubmissionStatus())
	require.Equal(t, SubmissionStatusRevision, ReviewRevision.SubmissionStatus())

	require.Equal(t, ApplicationStatusClosed, ReviewApproved.ApplicationStatus())
	require.Equal(t, ApplicationStatusApproved, ReviewRejected.ApplicationStatus())
	require.Equal(t, ApplicationStatusApproved, ReviewRevision.ApplicationStatus())

	require.True(t, ReviewApproved.Valid())
	require.False(t, ReviewDecision("MAYBE").Valid())
}
