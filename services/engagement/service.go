package engagement

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/db/option"
	"gigworks-controlplane/pkg/db/pagination"
	"gigworks-controlplane/pkg/errutil"
	"gigworks-controlplane/pkg/eventbus"
	"gigworks-controlplane/pkg/logger"
	"gigworks-controlplane/pkg/repository"
	"gigworks-controlplane/pkg/sequence"
	"gigworks-controlplane/pkg/task"
	"gigworks-controlplane/services/assignment"
	"gigworks-controlplane/services/history"
	"gigworks-controlplane/services/identity"
)

// Service orchestrates the gig lifecycle: both entry paths (worker
// application, owner invitation), approval, submission and review. Every
// multi-row mutation runs inside one transaction; events and history mirrors
// are written after commit.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	validate *validator.Validate
	emitter  *eventbus.Emitter

	projector   *history.Projector
	resolver    *identity.Resolver
	assignments *assignment.Service
	profiles    client.ProfileAPI
	asynq       task.Enqueuer

	gigs         repository.Repository[Gig]
	applications repository.Repository[Application]
	submissions  repository.Repository[Submission]
}

type ServiceParams struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Seq         sequence.Generator
	Emitter     *eventbus.Emitter
	Projector   *history.Projector
	Resolver    *identity.Resolver
	Assignments *assignment.Service
	Profiles    client.ProfileAPI
	Asynq       task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		seq:          p.Seq,
		validate:     validator.New(),
		emitter:      p.Emitter,
		projector:    p.Projector,
		resolver:     p.Resolver,
		assignments:  p.Assignments,
		profiles:     p.Profiles,
		asynq:        p.Asynq,
		gigs:         repository.ProvideStore[Gig](p.DB),
		applications: repository.ProvideStore[Application](p.DB),
		submissions:  repository.ProvideStore[Submission](p.DB),
	}
}

func (s *Service) validatePayload(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		var details []errutil.Detail
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details = append(details, errutil.Detail{
					Field:   fe.Field(),
					Message: fe.Tag(),
				})
			}
		}
		return errutil.ValidationFailed("invalid payload", errutil.WithDetails(details...), errutil.WithErr(err))
	}
	return nil
}

func (s *Service) CreateGig(ctx context.Context, req CreateGigRequest) (*Gig, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	code, err := s.seq.NextGigCode(ctx)
	if err != nil {
		// the code is a display convenience, not an identity
		logger.For(ctx).Warn("gig code generation failed, continuing without", zap.Error(err))
	}

	status := GigStatusDraft
	if req.Publish {
		status = GigStatusOpen
	}

	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	now := time.Now().UTC()
	gig := &Gig{
		ID:          s.node.Generate().String(),
		Code:        code,
		Slug:        slug.Make(req.Title),
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Status:      status,
		BudgetMin:   req.BudgetMin,
		BudgetMax:   req.BudgetMax,
		Deadline:    req.Deadline,
		Visible:     visible,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// attribution is best-effort: a profile-service outage must not block
	// gig creation
	if profile, perr := s.profiles.GetProfile(ctx, req.OwnerID); perr == nil && profile != nil {
		gig.PostedByName = profile.DisplayName()
		gig.PostedByAvatar = profile.Avatar
	} else if perr != nil {
		logger.For(ctx).Warn("owner profile lookup failed", zap.String("owner_id", req.OwnerID), zap.Error(perr))
	}

	if err := s.gigs.Create(ctx, gig); err != nil {
		return nil, err
	}

	s.emit(ctx, EventGigCreated, gig.ID, map[string]interface{}{
		"gig_id":   gig.ID,
		"code":     gig.Code,
		"owner_id": gig.OwnerID,
		"title":    gig.Title,
		"type":     gig.Type,
		"status":   gig.Status,
	})

	return gig, nil
}

func (s *Service) GetGig(ctx context.Context, gigID string) (*Gig, error) {
	gig, err := s.gigs.FindOne(ctx, &Gig{ID: gigID})
	if err != nil {
		return nil, err
	}
	if gig == nil {
		return nil, errutil.NotFound("gig not found")
	}
	return gig, nil
}

// UpdateGigStatus moves a gig along the administrative edges of its state
// machine (publish, pause, cancel, expire). ASSIGNED is not reachable here:
// assignment only happens through application approval or invitation
// acceptance so the assignee fields can never be left behind.
func (s *Service) UpdateGigStatus(ctx context.Context, req UpdateGigStatusRequest) (*Gig, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	gig, err := s.GetGig(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != req.ActorID {
		return nil, errutil.Forbidden("only the gig owner may change its status")
	}
	if req.Status == GigStatusAssigned {
		return nil, errutil.UnprocessableEntity("a gig becomes assigned through approval or invitation acceptance")
	}
	if !CanTransitionGig(gig.Status, req.Status) {
		return nil, errutil.UnprocessableEntity("gig cannot move from " + string(gig.Status) + " to " + string(req.Status))
	}

	if err := s.gigs.Update(ctx, gig.ID, map[string]interface{}{
		"status":     req.Status,
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	gig.Status = req.Status

	s.project(ctx, "record_status", func() error {
		return s.projector.RecordCampaignStatus(ctx, gig.ID, gig.OwnerID, string(req.Status))
	})

	return gig, nil
}

type ApplicationPage struct {
	Applications []*Application       `json:"applications"`
	PageInfo     *pagination.PageInfo `json:"page_info"`
}

// ListApplications returns a cursor page of applications on a gig, owner
// only, newest first.
func (s *Service) ListApplications(ctx context.Context, req ListApplicationsRequest) (*ApplicationPage, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	gig, err := s.GetGig(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if gig.OwnerID != req.ActorID {
		return nil, errutil.Forbidden("only the gig owner may list applications")
	}

	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 20
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "desc",
			Allow:   map[string]bool{"id": true},
		}),
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: limit}),
	}
	if req.Cursor != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.LT,
			Value:    req.Cursor,
		}))
	}

	rows, err := s.applications.Find(ctx, &Application{GigID: req.GigID}, opts...)
	if err != nil {
		return nil, err
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(a *Application) string {
		return a.ID
	})

	return &ApplicationPage{Applications: rows, PageInfo: pageInfo}, nil
}

// findLiveApplication fetches the live application a worker holds on a gig,
// nil when none exists.
func (s *Service) findLiveApplication(ctx context.Context, tx *gorm.DB, gigID, applicantID string, applicantType ApplicantType, opts ...option.QueryOption) (*Application, error) {
	return s.applications.WithTrx(tx).FindOne(ctx, &Application{
		GigID:         gigID,
		ApplicantID:   applicantID,
		ApplicantType: applicantType,
		Active:        active(),
	}, opts...)
}
