package engagement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/errutil"
	"gigworks-controlplane/pkg/eventbus"
	"gigworks-controlplane/services/assignment"
	"gigworks-controlplane/services/history"
	"gigworks-controlplane/services/identity"
	"gigworks-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	topics []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) published(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, topic := range p.topics {
		if strings.HasSuffix(topic, "."+eventType) && !strings.HasSuffix(topic, "."+eventbus.CatchAllRoute) {
			return true
		}
	}
	return false
}

type fakeClanAPI struct {
	resolveFn func(ctx context.Context, clanID string, refs []client.MemberRef) ([]client.ResolvedMember, error)
	rosterFn  func(ctx context.Context, clanID string) ([]client.RosterMember, error)
}

func (c *fakeClanAPI) ResolveMembers(ctx context.Context, clanID string, refs []client.MemberRef) ([]client.ResolvedMember, error) {
	if c.resolveFn != nil {
		return c.resolveFn(ctx, clanID, refs)
	}
	out := make([]client.ResolvedMember, len(refs))
	for i, ref := range refs {
		id := ref.UserID
		if id == "" {
			id = fmt.Sprintf("resolved-%d", i)
		}
		out[i] = client.ResolvedMember{UserID: id, Username: ref.Username, IsMember: true, Matched: true}
	}
	return out, nil
}

func (c *fakeClanAPI) Roster(ctx context.Context, clanID string) ([]client.RosterMember, error) {
	if c.rosterFn != nil {
		return c.rosterFn(ctx, clanID)
	}
	return nil, nil
}

type fakeProfileAPI struct {
	profile *client.Profile
	err     error
}

func (p *fakeProfileAPI) GetProfile(ctx context.Context, userID string) (*client.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.profile != nil {
		return p.profile, nil
	}
	return &client.Profile{ID: userID, Username: "tester"}, nil
}

type fakeSequence struct{}

func (fakeSequence) NextGigCode(ctx context.Context) (string, error) {
	return "GIG-20260901-0001", nil
}

func (fakeSequence) NextSubmissionCode(ctx context.Context, gigCode string) (string, error) {
	return gigCode + "-S01", nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (e *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (e *fakeEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

type testEnv struct {
	svc       *Service
	db        *gorm.DB
	publisher *fakePublisher
	clan      *fakeClanAPI
	enqueuer  *fakeEnqueuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Gig{}, &Application{}, &Submission{},
		&assignment.Assignment{}, &assignment.Milestone{}, &assignment.Task{},
		&history.ApplicationWorkHistory{}, &history.CampaignHistory{},
	)

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	cfg := &config.Config{AppName: "engagement-test"}
	cfg.ClanService.Timeout = 2 * time.Second

	publisher := &fakePublisher{}
	clan := &fakeClanAPI{}
	enqueuer := &fakeEnqueuer{}
	emitter := eventbus.NewEmitter(publisher, cfg)

	asg := assignment.NewService(assignment.ServiceParams{
		DB:      db,
		Node:    node,
		Emitter: emitter,
		Asynq:   enqueuer,
	})

	svc := NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Seq:         fakeSequence{},
		Emitter:     emitter,
		Projector:   history.NewProjector(history.ProjectorParams{DB: db, Node: node}),
		Resolver:    identity.NewResolver(identity.ResolverParams{Clan: clan, Config: cfg}),
		Assignments: asg,
		Profiles:    &fakeProfileAPI{},
		Asynq:       enqueuer,
	})

	return &testEnv{svc: svc, db: db, publisher: publisher, clan: clan, enqueuer: enqueuer}
}

func (e *testEnv) createOpenGig(t *testing.T, ownerID string, gigType GigType) *Gig {
	t.Helper()
	gig, err := e.svc.CreateGig(context.Background(), CreateGigRequest{
		OwnerID: ownerID,
		Title:   "Launch campaign for new sneaker line",
		Type:    gigType,
		Publish: true,
	})
	require.NoError(t, err)
	require.Equal(t, GigStatusOpen, gig.Status)
	return gig
}

func (e *testEnv) workHistory(t *testing.T, applicationID string) *history.ApplicationWorkHistory {
	t.Helper()
	var row history.ApplicationWorkHistory
	err := e.db.Where("application_id = ?", applicationID).First(&row).Error
	require.NoError(t, err)
	return &row
}

func (e *testEnv) campaignHistory(t *testing.T, gigID string) *history.CampaignHistory {
	t.Helper()
	var row history.CampaignHistory
	err := e.db.Where("gig_id = ?", gigID).First(&row).Error
	require.NoError(t, err)
	return &row
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, errutil.StatusOf(err))
}

func TestNewService(t *testing.T) {
	env := newTestEnv(t)
	require.NotNil(t, env.svc.gigs)
	require.NotNil(t, env.svc.applications)
	require.NotNil(t, env.svc.submissions)
}

func TestCreateGigDraftByDefault(t *testing.T) {
	env := newTestEnv(t)

	gig, err := env.svc.CreateGig(context.Background(), CreateGigRequest{
		OwnerID: "owner-1",
		Title:   "Write product copy",
		Type:    GigTypeRemote,
	})
	require.NoError(t, err)
	require.Equal(t, GigStatusDraft, gig.Status)
	require.Equal(t, "GIG-20260901-0001", gig.Code)
	require.Equal(t, "write-product-copy", gig.Slug)
	require.Equal(t, "tester", gig.PostedByName)
	require.True(t, env.publisher.published(EventGigCreated))
}

func TestCreateGigRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateGig(context.Background(), CreateGigRequest{
		OwnerID: "owner-1",
		Title:   "x",
		Type:    GigType("BOGUS"),
	})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestUpdateGigStatusOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)

	_, err := env.svc.UpdateGigStatus(context.Background(), UpdateGigStatusRequest{
		GigID:   gig.ID,
		ActorID: "intruder",
		Status:  GigStatusPaused,
	})
	requireStatus(t, err, errutil.StatusForbidden)
}

func TestUpdateGigStatusRejectsDirectAssignment(t *testing.T) {
	env := newTestEnv(t)
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)

	_, err := env.svc.UpdateGigStatus(context.Background(), UpdateGigStatusRequest{
		GigID:   gig.ID,
		ActorID: "owner-1",
		Status:  GigStatusAssigned,
	})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestUpdateGigStatusPauseAndCancel(t *testing.T) {
	env := newTestEnv(t)
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)

	paused, err := env.svc.UpdateGigStatus(context.Background(), UpdateGigStatusRequest{
		GigID:   gig.ID,
		ActorID: "owner-1",
		Status:  GigStatusPaused,
	})
	require.NoError(t, err)
	require.Equal(t, GigStatusPaused, paused.Status)

	cancelled, err := env.svc.UpdateGigStatus(context.Background(), UpdateGigStatusRequest{
		GigID:   gig.ID,
		ActorID: "owner-1",
		Status:  GigStatusCancelled,
	})
	require.NoError(t, err)
	require.Equal(t, GigStatusCancelled, cancelled.Status)

	_, err = env.svc.UpdateGigStatus(context.Background(), UpdateGigStatusRequest{
		GigID:   gig.ID,
		ActorID: "owner-1",
		Status:  GigStatusOpen,
	})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestListApplicationsPaginates(t *testing.T) {
	env := newTestEnv(t)
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)

	for i := 0; i < 3; i++ {
		_, err := env.svc.ApplyToGig(context.Background(), ApplyToGigRequest{
			GigID:         gig.ID,
			ApplicantID:   fmt.Sprintf("user-%d", i),
			ApplicantType: ApplicantUser,
			UpiID:         "worker@upi",
		})
		require.NoError(t, err)
	}

	page, err := env.svc.ListApplications(context.Background(), ListApplicationsRequest{
		GigID:   gig.ID,
		ActorID: "owner-1",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, page.Applications, 2)
	require.True(t, page.PageInfo.HasMore)

	next, err := env.svc.ListApplications(context.Background(), ListApplicationsRequest{
		GigID:   gig.ID,
		ActorID: "owner-1",
		Limit:   2,
		Cursor:  page.PageInfo.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, next.Applications, 1)
	require.False(t, next.PageInfo.HasMore)
}

func TestListApplicationsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	gig := env.createOpenGig(t, "owner-1", GigTypeRemote)

	_, err := env.svc.ListApplications(context.Background(), ListApplicationsRequest{
		GigID:   gig.ID,
		ActorID: "someone-else",
	})
	requireStatus(t, err, errutil.StatusForbidden)
}
