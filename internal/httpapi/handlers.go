package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/scheduler"
)

const (
	defaultChecksLimit = 50
	maxChecksLimit     = 1000
)

type addPayload struct {
	URL                  string `json:"url"`
	Name                 string `json:"name"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
	ExpectedStatusCode   *int   `json:"expected_status_code"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.URL == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if !isValidHTTPURL(p.URL) {
		writeError(w, http.StatusBadRequest, "url must be http(s) with a host")
		return
	}
	if p.CheckIntervalSeconds == 0 {
		p.CheckIntervalSeconds = s.DefaultInterval
	}
	if p.CheckIntervalSeconds < 0 {
		writeError(w, http.StatusBadRequest, "check_interval_seconds must be positive")
		return
	}
	if !validExpectedStatus(p.ExpectedStatusCode) {
		writeError(w, http.StatusBadRequest, "expected_status_code must be 100-599")
		return
	}

	t := &domain.Target{
		Name:                 strings.TrimSpace(p.Name),
		URL:                  normalizeHTTPURL(p.URL),
		CheckIntervalSeconds: p.CheckIntervalSeconds,
		IsRunning:            true,
		ExpectedStatusCode:   p.ExpectedStatusCode,
	}
	if t.Name == "" {
		t.Name = t.DisplayName()
	}
	if err := s.Targets.Add(r.Context(), t); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			writeError(w, http.StatusConflict, "target already exists")
			return
		}
		s.Logger.Warn("add_target_failed", zap.String("url", t.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not add")
		return
	}

	if err := s.Schedules.Init(r.Context(), t.ID, t.CheckIntervalSeconds); err != nil {
		s.Logger.Warn("schedule_init_failed", zap.String("target_id", string(t.ID)), zap.Error(err))
		writeJSON(w, http.StatusCreated, map[string]any{"target": t, "schedule_error": err.Error()})
		return
	}

	s.Logger.Info("added_target",
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.Int("interval_s", t.CheckIntervalSeconds),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"target": t})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Targets.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	limit := defaultChecksLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxChecksLimit)
	}
	if _, ok := s.loadTarget(w, r); !ok {
		return
	}
	recs, err := s.Results.ListCheckRecords(r.Context(), targetID(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if recs == nil {
		recs = []domain.CheckRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	st, err := s.Schedules.State(r.Context(), targetID(r))
	if errors.Is(err, scheduler.ErrNotInitialized) {
		writeError(w, http.StatusNotFound, "not scheduled")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePatchTarget(w http.ResponseWriter, r *http.Request) {
	var p domain.TargetPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil || p.Empty() {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if p.URL != nil {
		if !isValidHTTPURL(*p.URL) {
			writeError(w, http.StatusBadRequest, "url must be http(s) with a host")
			return
		}
		norm := normalizeHTTPURL(*p.URL)
		p.URL = &norm
	}
	if p.CheckIntervalSeconds != nil && *p.CheckIntervalSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "check_interval_seconds must be positive")
		return
	}
	if !validExpectedStatus(p.ExpectedStatusCode) {
		writeError(w, http.StatusBadRequest, "expected_status_code must be 100-599")
		return
	}
	if p.ActiveAlert != nil && *p.ActiveAlert {
		writeError(w, http.StatusBadRequest, "active_alert can only be acknowledged (false)")
		return
	}

	id := targetID(r)
	t, err := s.Targets.Patch(r.Context(), id, p)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
		return
	case errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, "url already registered")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not update")
		return
	}
	if p.ActiveAlert != nil {
		s.Logger.Info("alert_acknowledged", zap.String("target_id", string(id)))
	}

	if p.CheckIntervalSeconds != nil {
		err := s.Schedules.UpdateCheckInterval(r.Context(), id, t.CheckIntervalSeconds)
		if errors.Is(err, scheduler.ErrNotInitialized) && t.IsRunning {
			err = s.Schedules.Init(r.Context(), id, t.CheckIntervalSeconds)
		}
		if err != nil && !errors.Is(err, scheduler.ErrNotInitialized) {
			s.Logger.Warn("schedule_update_failed", zap.String("target_id", string(id)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "target updated, schedule not: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := targetID(r)
	if err := s.Schedules.Delete(r.Context(), id); err != nil {
		s.Logger.Warn("schedule_delete_failed", zap.String("target_id", string(id)), zap.Error(err))
	}
	if err := s.Targets.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete")
		return
	}
	s.Logger.Info("deleted_target", zap.String("target_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	err := s.Schedules.Pause(r.Context(), t.ID)
	if errors.Is(err, scheduler.ErrNotInitialized) {
		// nothing armed; just record the intent
		err = s.Targets.UpdateTargetRunState(r.Context(), t.ID, false)
	}
	s.respondControl(w, r, "paused", err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	err := s.Schedules.Resume(r.Context(), t.ID)
	if errors.Is(err, scheduler.ErrNotInitialized) {
		err = s.Schedules.Init(r.Context(), t.ID, t.CheckIntervalSeconds)
	}
	s.respondControl(w, r, "resumed", err)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	s.respondControl(w, r, "initialized", s.Schedules.Init(r.Context(), t.ID, t.CheckIntervalSeconds))
}

func (s *Server) handleExecuteCheck(w http.ResponseWriter, r *http.Request) {
	err := s.Schedules.ExecuteCheck(r.Context(), targetID(r))
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if s.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, notify.ErrNotConfigured.Error())
		return
	}
	id, err := s.Alerts.SendDownAlert(r.Context(), notify.DownAlert{
		TargetName: t.DisplayName(),
		URL:        t.URL,
		Error:      "test alert",
	})
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.Logger.Warn("test_alert_failed", zap.String("target_id", string(t.ID)), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"request_id": id})
	}
}

func (s *Server) loadTarget(w http.ResponseWriter, r *http.Request) (*domain.Target, bool) {
	t, err := s.Targets.GetTarget(r.Context(), targetID(r))
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "target not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup error")
		return nil, false
	}
	return t, true
}

func (s *Server) respondControl(w http.ResponseWriter, r *http.Request, status string, err error) {
	id := targetID(r)
	if err != nil {
		s.Logger.Warn("schedule_control_failed", zap.String("target_id", string(id)), zap.String("op", status), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Logger.Info("schedule_"+status, zap.String("target_id", string(id)))
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
