package task

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	pkgtask "gigworks-controlplane/pkg/task"
)

// TypeClanFanout resolves a clan roster and notifies every member about a
// lifecycle event. Enqueued post-commit so a fan-out failure can never roll
// back the transition that triggered it.
const TypeClanFanout = "engagement:clan_fanout"

type ClanFanoutPayload struct {
	GigID         string `json:"gig_id"`
	GigTitle      string `json:"gig_title,omitempty"`
	ApplicationID string `json:"application_id"`
	ClanID        string `json:"clan_id"`
	EventType     string `json:"event_type"`
}

func NewClanFanoutTask(p ClanFanoutPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeClanFanout, payload,
		asynq.Queue(pkgtask.QueueNotifications),
		asynq.MaxRetry(5)), nil
}
