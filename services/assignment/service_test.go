package assignment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/eventbus"
	"gigworks-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	values [][]byte
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (e *recordingEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	publisher *recordingPublisher
	enqueuer  *recordingEnqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &gigRef{}, &Assignment{}, &Milestone{}, &Task{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	enqueuer := &recordingEnqueuer{}
	cfg := &config.Config{AppName: "assignment-test"}

	svc := NewService(ServiceParams{
		DB:      db,
		Node:    node,
		Emitter: eventbus.NewEmitter(publisher, cfg),
		Asynq:   enqueuer,
	})
	return &fixture{svc: svc, db: db, publisher: publisher, enqueuer: enqueuer}
}

func (f *fixture) seedClanGig(t *testing.T, gigID, ownerID string) {
	t.Helper()
	clan := "clan"
	require.NoError(t, f.db.Create(&gigRef{
		ID:             gigID,
		OwnerID:        ownerID,
		Title:          "Clan campaign",
		Status:         "ASSIGNED",
		AssignedToType: &clan,
	}).Error)
}

func (f *fixture) materialize(t *testing.T, gigID string) (*Assignment, []*Milestone) {
	t.Helper()
	plan, err := json.Marshal([]MilestonePlanItem{
		{Title: "Concepts", Amount: 200},
		{Title: "Delivery", Amount: 800},
	})
	require.NoError(t, err)
	split, err := json.Marshal([]PayoutShare{
		{UserID: "user-a", Percent: 60},
		{UserID: "user-b", Percent: 40},
	})
	require.NoError(t, err)

	var asg *Assignment
	var milestones []*Milestone
	txErr := f.db.Transaction(func(tx *gorm.DB) error {
		asg, milestones, err = f.svc.Materialize(context.Background(), tx, MaterializeParams{
			ApplicationID: "app-1",
			GigID:         gigID,
			ClanID:        "clan-1",
			MilestonePlan: plan,
			PayoutSplit:   split,
			AcceptedAt:    time.Now().UTC(),
		})
		return err
	})
	require.NoError(t, txErr)
	return asg, milestones
}

func TestMaterializeCreatesMilestonesPerPlanItem(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")

	asg, milestones := f.materialize(t, "gig-1")
	require.NotNil(t, asg)
	require.Len(t, milestones, 2)

	var count int64
	require.NoError(t, f.db.Model(&Milestone{}).Where("assignment_id = ?", asg.ID).Count(&count).Error)
	require.EqualValues(t, 2, count)
	for _, ms := range milestones {
		require.Equal(t, MilestoneStatusPending, ms.Status)
		require.Equal(t, "gig-1", ms.GigID)
	}
}

func TestMaterializeOnePerApplication(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")
	f.materialize(t, "gig-1")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := f.svc.Materialize(context.Background(), tx, MaterializeParams{
			ApplicationID: "app-1",
			GigID:         "gig-1",
			ClanID:        "clan-1",
			AcceptedAt:    time.Now().UTC(),
		})
		return err
	})
	require.Error(t, err)
}

func TestCreateMilestoneOwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")
	f.materialize(t, "gig-1")

	_, err := f.svc.CreateMilestone(context.Background(), CreateMilestoneRequest{
		GigID:   "gig-1",
		ActorID: "stranger",
		Title:   "Extra milestone",
	})
	require.Error(t, err)

	ms, err := f.svc.CreateMilestone(context.Background(), CreateMilestoneRequest{
		GigID:   "gig-1",
		ActorID: "owner-1",
		Title:   "Extra milestone",
		Amount:  100,
	})
	require.NoError(t, err)
	require.Equal(t, MilestoneStatusPending, ms.Status)
}

func TestCreateMilestoneRequiresClanGig(t *testing.T) {
	f := newFixture(t)
	user := "user"
	require.NoError(t, f.db.Create(&gigRef{
		ID:             "gig-2",
		OwnerID:        "owner-1",
		Status:         "ASSIGNED",
		AssignedToType: &user,
	}).Error)

	_, err := f.svc.CreateMilestone(context.Background(), CreateMilestoneRequest{
		GigID:   "gig-2",
		ActorID: "owner-1",
		Title:   "Milestone",
	})
	require.Error(t, err)
}

func TestMilestoneApprovalReleasesPayout(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")
	_, milestones := f.materialize(t, "gig-1")
	ms := milestones[0]

	_, err := f.svc.UpdateMilestoneStatus(context.Background(), UpdateMilestoneRequest{
		MilestoneID: ms.ID, ActorID: "worker", Status: MilestoneStatusInProgress,
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateMilestoneStatus(context.Background(), UpdateMilestoneRequest{
		MilestoneID: ms.ID, ActorID: "worker", Status: MilestoneStatusSubmitted,
	})
	require.NoError(t, err)

	// approval is owner-gated
	_, err = f.svc.UpdateMilestoneStatus(context.Background(), UpdateMilestoneRequest{
		MilestoneID: ms.ID, ActorID: "worker", Status: MilestoneStatusApproved,
	})
	require.Error(t, err)

	approved, err := f.svc.UpdateMilestoneStatus(context.Background(), UpdateMilestoneRequest{
		MilestoneID: ms.ID, ActorID: "owner-1", Status: MilestoneStatusApproved,
	})
	require.NoError(t, err)
	require.Equal(t, MilestoneStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	// the payout event carries the snapshotted split
	var sawPayout bool
	for i, topic := range f.publisher.topics {
		if topic == "gig.events.gig_milestone_approved" {
			sawPayout = true
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal(f.publisher.values[i], &payload))
			require.Len(t, payload["payout_split"], 2)
		}
	}
	require.True(t, sawPayout)
	require.Len(t, f.enqueuer.tasks, 1)
}

func TestMilestoneSkipsIllegalTransition(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")
	_, milestones := f.materialize(t, "gig-1")

	_, err := f.svc.UpdateMilestoneStatus(context.Background(), UpdateMilestoneRequest{
		MilestoneID: milestones[0].ID,
		ActorID:     "owner-1",
		Status:      MilestoneStatusApproved,
	})
	require.Error(t, err)
}

func TestCreateTaskValidatesMilestoneOwnership(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")
	_, milestones := f.materialize(t, "gig-1")

	bogus := "not-a-milestone"
	_, err := f.svc.CreateTask(context.Background(), CreateTaskRequest{
		GigID:       "gig-1",
		ActorID:     "owner-1",
		MilestoneID: &bogus,
		Title:       "Draft captions",
	})
	require.Error(t, err)

	task, err := f.svc.CreateTask(context.Background(), CreateTaskRequest{
		GigID:       "gig-1",
		ActorID:     "owner-1",
		MilestoneID: &milestones[0].ID,
		AssigneeID:  "user-a",
		Title:       "Draft captions",
	})
	require.NoError(t, err)
	require.Equal(t, TaskStatusTodo, task.Status)
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedClanGig(t, "gig-1", "owner-1")
	f.materialize(t, "gig-1")

	task, err := f.svc.CreateTask(context.Background(), CreateTaskRequest{
		GigID:      "gig-1",
		ActorID:    "owner-1",
		AssigneeID: "user-a",
		Title:      "Edit video",
	})
	require.NoError(t, err)

	for _, next := range []TaskStatus{TaskStatusInProgress, TaskStatusReview, TaskStatusDone} {
		hours := 2.5
		task, err = f.svc.UpdateTaskStatus(context.Background(), UpdateTaskRequest{
			TaskID:      task.ID,
			ActorID:     "user-a",
			Status:      next,
			ActualHours: &hours,
		})
		require.NoError(t, err)
		require.Equal(t, next, task.Status)
	}

	_, err = f.svc.UpdateTaskStatus(context.Background(), UpdateTaskRequest{
		TaskID:  task.ID,
		ActorID: "user-a",
		Status:  TaskStatusBlocked,
	})
	require.Error(t, err)
}

func TestCanTransitionTaskBlockedFromAnyLiveState(t *testing.T) {
	require.True(t, CanTransitionTask(TaskStatusTodo, TaskStatusBlocked))
	require.True(t, CanTransitionTask(TaskStatusInProgress, TaskStatusBlocked))
	require.True(t, CanTransitionTask(TaskStatusReview, TaskStatusBlocked))
	require.False(t, CanTransitionTask(TaskStatusDone, TaskStatusBlocked))
	require.True(t, CanTransitionTask(TaskStatusBlocked, TaskStatusInProgress))
}
