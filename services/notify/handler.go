package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/eventbus"
	engagementtask "gigworks-controlplane/services/engagement/task"
)

// Handler runs on the worker binary and fans a clan-wide lifecycle event out
// to every roster member. It executes after the triggering transaction has
// long committed, so every failure here is a notification failure: retried
// by the queue, never affecting primary state.
type Handler struct {
	clan    client.ClanAPI
	emitter *eventbus.Emitter
	timeout time.Duration
}

type HandlerParams struct {
	fx.In

	Clan    client.ClanAPI
	Emitter *eventbus.Emitter
	Config  *config.Config
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		clan:    p.Clan,
		emitter: p.Emitter,
		timeout: p.Config.ClanService.Timeout,
	}
}

func RegisterHandlers(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(engagementtask.TypeClanFanout, h.HandleClanFanout)
}

func (h *Handler) HandleClanFanout(ctx context.Context, t *asynq.Task) error {
	var p engagementtask.ClanFanoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// a malformed payload never becomes valid; skip the retries
		return fmt.Errorf("decode clan fanout payload: %v: %w", err, asynq.SkipRetry)
	}

	rosterCtx, cancel := context.WithTimeout(ctx, h.timeout)
	members, err := h.clan.Roster(rosterCtx, p.ClanID)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch roster for clan %s: %w", p.ClanID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, member := range members {
		g.Go(func() error {
			return h.emitter.Emit(gctx, p.EventType, member.UserID, map[string]interface{}{
				"gig_id":         p.GigID,
				"gig_title":      p.GigTitle,
				"application_id": p.ApplicationID,
				"clan_id":        p.ClanID,
				"user_id":        member.UserID,
				"role":           member.Role,
			})
		})
	}
	if err := g.Wait(); err != nil {
		// let the queue retry the whole fan-out; consumers dedupe on
		// event id and key
		return fmt.Errorf("fan out %s to clan %s: %w", p.EventType, p.ClanID, err)
	}

	if err := h.emitter.Emit(ctx, p.EventType, p.ClanID, map[string]interface{}{
		"gig_id":         p.GigID,
		"gig_title":      p.GigTitle,
		"application_id": p.ApplicationID,
		"clan_id":        p.ClanID,
		"member_count":   len(members),
		"aggregate":      true,
	}); err != nil {
		zap.L().Warn("aggregate clan event emission failed",
			zap.String("clan_id", p.ClanID),
			zap.String("event_type", p.EventType),
			zap.Error(err),
		)
	}

	zap.L().Info("clan fanout delivered",
		zap.String("clan_id", p.ClanID),
		zap.String("event_type", p.EventType),
		zap.Int("member_count", len(members)),
	)
	return nil
}
