package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vetclinic/visit-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Visits  *scheduling.VisitService
	Slots   *scheduling.SlotService
	Gate    *scheduling.IdempotencyGate
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/visits", createVisitHandler(cfg.Visits, cfg.Gate))
	r.Get("/visits", searchVisitsHandler(cfg.Visits))
	r.Get("/visits/{id}", getVisitHandler(cfg.Visits))
	r.Post("/visits/{id}/reschedule", rescheduleVisitHandler(cfg.Visits))
	r.Post("/visits/{id}/cancel", cancelVisitHandler(cfg.Visits))
	r.Post("/visits/{id}/complete", completeVisitHandler(cfg.Visits))

	r.Get("/vets/{id}/slots", listVetSlotsHandler(cfg.Slots))

	return r
}
