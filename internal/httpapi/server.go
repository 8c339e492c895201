package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// Scheduler is the control surface of the per-target schedules.
type Scheduler interface {
	Init(ctx context.Context, id domain.TargetID, intervalSeconds int) error
	UpdateCheckInterval(ctx context.Context, id domain.TargetID, intervalSeconds int) error
	Pause(ctx context.Context, id domain.TargetID) error
	Resume(ctx context.Context, id domain.TargetID) error
	Delete(ctx context.Context, id domain.TargetID) error
	ExecuteCheck(ctx context.Context, id domain.TargetID) error
	State(ctx context.Context, id domain.TargetID) (*domain.ScheduleState, error)
}

type Server struct {
	Logger          *zap.Logger
	Targets         repo.TargetStore
	Results         repo.ResultStore
	Schedules       Scheduler
	Alerts          notify.Dispatcher
	DefaultInterval int
}

func NewServer(l *zap.Logger, ts repo.TargetStore, rs repo.ResultStore, sched Scheduler, alerts notify.Dispatcher, defaultInterval int) *Server {
	if defaultInterval <= 0 {
		defaultInterval = 60
	}
	return &Server{Logger: l, Targets: ts, Results: rs, Schedules: sched, Alerts: alerts, DefaultInterval: defaultInterval}
}

// Router mounts reads behind any API key and writes behind an admin key, each
// with its own per-IP rate limit. Empty origins allow every origin.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/targets", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/", s.handleListTargets)
			r.Get("/{id}", s.handleGetTarget)
			r.Get("/{id}/checks", s.handleListChecks)
			r.Get("/{id}/schedule", s.handleSchedule)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/", s.handleAddTarget)
			r.Patch("/{id}", s.handlePatchTarget)
			r.Delete("/{id}", s.handleDeleteTarget)
			r.Post("/{id}/pause", s.handlePause)
			r.Post("/{id}/resume", s.handleResume)
			r.Post("/{id}/init", s.handleInit)
			r.Post("/{id}/execute-check", s.handleExecuteCheck)
			r.Post("/{id}/test-alert", s.handleTestAlert)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func targetID(r *http.Request) domain.TargetID {
	return domain.TargetID(chi.URLParam(r, "id"))
}
