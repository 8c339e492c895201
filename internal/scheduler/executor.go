package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// Executor runs one probe for a target, records it and feeds the alerter.
type Executor struct {
	Logger   *zap.Logger
	Registry repo.Registry
	Checker  probe.Checker
	Alerter  *Alerter
	Tasks    *TaskGroup
	// Timeout bounds a single probe. Zero leaves it unbounded.
	Timeout time.Duration
}

func NewExecutor(
	logger *zap.Logger,
	registry repo.Registry,
	checker probe.Checker,
	alerter *Alerter,
	tasks *TaskGroup,
	timeout time.Duration,
) *Executor {
	if timeout < 0 {
		timeout = 0
	}
	return &Executor{
		Logger:   logger,
		Registry: registry,
		Checker:  checker,
		Alerter:  alerter,
		Tasks:    tasks,
		Timeout:  timeout,
	}
}

// Dispatch runs Execute in the background and returns immediately.
func (x *Executor) Dispatch(id domain.TargetID) {
	x.Tasks.Go("probe", func(ctx context.Context) {
		if _, err := x.Execute(ctx, id); err != nil {
			x.Logger.Warn("probe_failed", zap.String("target_id", string(id)), zap.Error(err))
		}
	})
}

// Execute probes the target once. Only a missing target is returned as an error;
// persistence problems are logged.
func (x *Executor) Execute(ctx context.Context, id domain.TargetID) (*domain.CheckRecord, error) {
	t, err := x.Registry.GetTarget(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", id, err)
	}

	pctx := ctx
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	out := x.Checker.Check(pctx, probe.Request{URL: t.URL, ExpectedStatus: t.ExpectedStatusCode})

	rec := &domain.CheckRecord{
		TargetID:       id,
		Timestamp:      time.Now().UTC(),
		ResponseTimeMS: int64(math.Round(out.LatencyMS)),
		IsUp:           out.Success,
		Reason:         out.Message,
	}
	if out.StatusCode != 0 {
		status := out.StatusCode
		rec.HTTPStatus = &status
	}
	if err := x.Registry.InsertCheckRecord(ctx, rec); err != nil {
		x.Logger.Warn("probe_record_failed",
			zap.String("target_id", string(id)),
			zap.String("url", t.URL),
			zap.Error(err),
		)
	}
	x.Logger.Debug("probe_completed",
		zap.String("target_id", string(id)),
		zap.String("url", t.URL),
		zap.Int("status", out.StatusCode),
		zap.Bool("up", out.Success),
		zap.Int64("response_time_ms", rec.ResponseTimeMS),
		zap.String("reason", out.Message),
	)

	// failure state may have moved while the probe was in flight
	latest, err := x.Registry.GetTarget(ctx, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		x.Logger.Info("probe_target_deleted", zap.String("target_id", string(id)))
		return rec, nil
	case err != nil:
		x.Logger.Warn("probe_target_reload_failed", zap.String("target_id", string(id)), zap.Error(err))
		latest = t
	}
	if x.Alerter != nil {
		x.Alerter.Handle(ctx, *latest, *rec)
	}
	return rec, nil
}
