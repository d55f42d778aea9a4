package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues the human-facing codes stamped on lifecycle entities.
type Generator interface {
	NextGigCode(ctx context.Context) (string, error)
	NextSubmissionCode(ctx context.Context, gigCode string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextGigCode(ctx context.Context) (string, error) {
	day := time.Now().UTC().Format("20060102")
	seq, err := g.nextDaily(ctx, "seq:gig:"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("GIG-%s-%04d", day, seq), nil
}

func (g *RedisGenerator) NextSubmissionCode(ctx context.Context, gigCode string) (string, error) {
	seq, err := g.rdb.Incr(ctx, "seq:submission:"+gigCode).Result()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-S%02d", gigCode, seq), nil
}

func (g *RedisGenerator) nextDaily(ctx context.Context, key string) (int64, error) {
	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if seq == 1 {
		// first issuance of the day owns the expiry
		g.rdb.Expire(ctx, key, 48*time.Hour)
	}
	return seq, nil
}
