package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gigworks-controlplane/pkg/config"
)

// Module serves the liveness/readiness probes. The lifecycle engine exposes
// no other HTTP surface; the request/validation layer lives in a separate
// deployment, so the probe server stays on net/http.
var Module = fx.Module("health",
	fx.Provide(New),
	fx.Invoke(Run),
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Status struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps,omitempty"`
}

type Service struct {
	db    *gorm.DB
	redis *redis.Client
}

type Params struct {
	fx.In

	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func New(p Params) *Service {
	return &Service{db: p.DB, redis: p.Redis}
}

func (s *Service) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Status{Status: "ok"})
}

func (s *Service) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := Status{Status: "ok"}
	code := http.StatusOK

	if s.db != nil {
		dep := Dependency{Name: "database", Status: "ok"}
		if sqlDB, err := s.db.DB(); err != nil {
			dep.Status, dep.Message = "down", err.Error()
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dep.Status, dep.Message = "down", err.Error()
		}
		if dep.Status != "ok" {
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		out.Deps = append(out.Deps, dep)
	}

	if s.redis != nil {
		dep := Dependency{Name: "redis", Status: "ok"}
		if err := s.redis.Ping(ctx).Err(); err != nil {
			dep.Status, dep.Message = "down", err.Error()
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		out.Deps = append(out.Deps, dep)
	}

	writeJSON(w, code, out)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run starts the probe server on the configured address.
func Run(lc fx.Lifecycle, cfg *config.Config, svc *Service) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", svc.Liveness)
	mux.HandleFunc("/readyz", svc.Readiness)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("health server stopped", zap.Error(err))
				}
			}()
			zap.L().Info("health server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
