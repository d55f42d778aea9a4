package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/errutil"
	"gigworks-controlplane/services/history"
)

// ApplyToGig files a worker-initiated application. Clan applicants get their
// team and payout references resolved to canonical user ids before anything
// is persisted; resolution is all-or-nothing. The live-application uniqueness
// is enforced twice: a friendly pre-check here and the idx_live_application
// constraint for the race window between two concurrent calls.
func (s *Service) ApplyToGig(ctx context.Context, req ApplyToGigRequest) (*Application, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	gig, err := s.GetGig(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID == req.ApplicantID {
		return nil, errutil.UnprocessableEntity("the gig owner cannot apply to their own gig")
	}
	if !gig.Status.AcceptsApplications() {
		return nil, errutil.UnprocessableEntity("gig is not accepting applications")
	}
	if gig.Type == GigTypeProduct && req.DeliveryAddress == "" {
		return nil, errutil.ValidationFailed("product gigs require a delivery address")
	}

	existing, err := s.findLiveApplication(ctx, nil, req.GigID, req.ApplicantID, req.ApplicantType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("an active application for this gig already exists")
	}

	var teamPlan, milestonePlan, payoutSplit datatypes.JSON
	if req.ApplicantType == ApplicantClan {
		teamPlan, payoutSplit, err = s.resolveClanPlans(ctx, req.ApplicantID, req.TeamPlan, req.PayoutSplit)
		if err != nil {
			return nil, err
		}
		if len(req.MilestonePlan) > 0 {
			milestonePlan, _ = json.Marshal(req.MilestonePlan)
		}
	}

	now := time.Now().UTC()
	app := &Application{
		ID:              s.node.Generate().String(),
		GigID:           req.GigID,
		ApplicantID:     req.ApplicantID,
		ApplicantType:   req.ApplicantType,
		TargetType:      AssigneeType(req.ApplicantType),
		Active:          active(),
		Status:          ApplicationStatusPending,
		Quote:           req.Quote,
		CoverLetter:     req.CoverLetter,
		DeliveryAddress: req.DeliveryAddress,
		UpiID:           req.UpiID,
		TeamPlan:        teamPlan,
		MilestonePlan:   milestonePlan,
		PayoutSplit:     payoutSplit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.applications.Create(ctx, app); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("an active application for this gig already exists")
		}
		return nil, err
	}

	s.project(ctx, "record_applied", func() error {
		return s.projector.RecordApplied(ctx, history.WorkSeed{
			ApplicationID: app.ID,
			GigID:         gig.ID,
			ApplicantID:   app.ApplicantID,
			ApplicantType: string(app.ApplicantType),
		}, gig.OwnerID)
	})

	s.emit(ctx, EventNewApplication, gig.ID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"owner_id":       gig.OwnerID,
		"application_id": app.ID,
		"applicant_id":   app.ApplicantID,
		"applicant_type": app.ApplicantType,
		"quote":          app.Quote,
	})
	s.emit(ctx, EventApplicationConfirmed, app.ApplicantID, map[string]interface{}{
		"gig_id":         gig.ID,
		"gig_title":      gig.Title,
		"application_id": app.ID,
		"applicant_id":   app.ApplicantID,
	})

	return app, nil
}

// resolveClanPlans resolves the team and payout member references in one
// batched call per plan and returns the canonicalized snapshots. Both entry
// paths use it: the clan supplies the plans on apply, the owner on invite.
func (s *Service) resolveClanPlans(ctx context.Context, clanID string, teamPlan []TeamMemberInput, payoutSplit []PayoutShareInput) (datatypes.JSON, datatypes.JSON, error) {
	if len(teamPlan) == 0 {
		return nil, nil, errutil.ValidationFailed("clan engagements require a team plan")
	}

	refs := make([]client.MemberRef, 0, len(teamPlan))
	for _, m := range teamPlan {
		refs = append(refs, client.MemberRef{UserID: m.UserID, Username: m.Username, Email: m.Email})
	}
	resolved, err := s.resolver.ResolveTeam(ctx, clanID, refs)
	if err != nil {
		return nil, nil, err
	}

	team := make([]TeamMemberInput, len(teamPlan))
	for i, m := range teamPlan {
		team[i] = TeamMemberInput{
			UserID:   resolved[i].UserID,
			Username: resolved[i].Username,
			Role:     m.Role,
		}
	}

	var split []PayoutShareInput
	if len(payoutSplit) > 0 {
		var total float64
		refs = refs[:0]
		for _, sh := range payoutSplit {
			total += sh.Percent
			refs = append(refs, client.MemberRef{UserID: sh.UserID, Username: sh.Username})
		}
		if total > 100 {
			return nil, nil, errutil.ValidationFailed("payout split exceeds 100 percent")
		}
		resolvedSplit, err := s.resolver.ResolveTeam(ctx, clanID, refs)
		if err != nil {
			return nil, nil, err
		}
		split = make([]PayoutShareInput, len(payoutSplit))
		for i, sh := range payoutSplit {
			split[i] = PayoutShareInput{
				UserID:  resolvedSplit[i].UserID,
				Percent: sh.Percent,
			}
		}
	}

	teamJSON, _ := json.Marshal(team)
	var splitJSON datatypes.JSON
	if split != nil {
		splitJSON, _ = json.Marshal(split)
	}
	return teamJSON, splitJSON, nil
}
