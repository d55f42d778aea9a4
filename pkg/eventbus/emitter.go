package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gigworks-controlplane/pkg/config"

	"go.uber.org/zap"
)

const (
	// CatchAllRoute receives a copy of every event so broad subscribers do not
	// have to track the per-type topic list.
	CatchAllRoute = "all"

	maxSeenEvents = 10_000
)

// Emitter wraps the Publisher with the canonical event envelope:
// payload fields plus event_type, timestamp, event_id and producer. Every
// event goes out twice, once on its type-specific route and once on the
// catch-all route. Duplicate event ids are suppressed for the lifetime of the
// process; the suppression set is bounded and cleared when full.
type Emitter struct {
	publisher Publisher
	producer  string
	prefix    string

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewEmitter(publisher Publisher, cfg *config.Config) *Emitter {
	prefix := cfg.Kafka.TopicPrefix
	if prefix == "" {
		prefix = "gig.events"
	}
	return &Emitter{
		publisher: publisher,
		producer:  cfg.AppName,
		prefix:    prefix,
		seen:      make(map[string]struct{}),
	}
}

// Emit publishes one enveloped event. The key is used for partition affinity
// (callers pass the gig id so per-gig ordering holds). Both publishes are
// attempted even if the first fails; the joined error is returned for the
// caller to log.
func (e *Emitter) Emit(ctx context.Context, eventType string, key string, payload map[string]interface{}) error {
	eventID := newEventID()
	if !e.markSeen(eventID) {
		return nil
	}

	envelope := make(map[string]interface{}, len(payload)+4)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["event_type"] = eventType
	envelope["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	envelope["event_id"] = eventID
	envelope["producer"] = e.producer

	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	typeErr := e.publisher.Publish(ctx, e.prefix+"."+eventType, key, value)
	allErr := e.publisher.Publish(ctx, e.prefix+"."+CatchAllRoute, key, value)

	if typeErr != nil || allErr != nil {
		zap.L().Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("event_id", eventID),
			zap.NamedError("type_route", typeErr),
			zap.NamedError("catch_all_route", allErr),
		)
	}

	return errors.Join(typeErr, allErr)
}

func (e *Emitter) markSeen(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.seen[eventID]; dup {
		return false
	}
	if len(e.seen) >= maxSeenEvents {
		e.seen = make(map[string]struct{})
	}
	e.seen[eventID] = struct{}{}
	return true
}

// newEventID is time-ordered with a random suffix so two emissions in the
// same nanosecond still get distinct ids.
func newEventID() string {
	return fmt.Sprintf("%d-%04d", time.Now().UnixNano(), rand.Intn(10_000))
}
