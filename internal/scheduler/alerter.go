package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// AlertThreshold is the consecutive-failure count that opens an alert.
const AlertThreshold = 2

type FailureDecision struct {
	ConsecutiveFailures int
	ActiveAlert         bool
	SendAlert           bool
}

// EvaluateFailure derives the next failure state. A success resets the count but
// never clears an open alert.
func EvaluateFailure(t domain.Target, isUp bool) FailureDecision {
	if isUp {
		return FailureDecision{ConsecutiveFailures: 0, ActiveAlert: t.ActiveAlert}
	}
	d := FailureDecision{ConsecutiveFailures: t.ConsecutiveFailures + 1, ActiveAlert: t.ActiveAlert}
	if d.ConsecutiveFailures >= AlertThreshold && !t.ActiveAlert {
		d.SendAlert = true
		d.ActiveAlert = true
	}
	return d
}

type Alerter struct {
	log        *zap.Logger
	store      repo.FailureStateStore
	dispatcher notify.Dispatcher
}

func NewAlerter(logger *zap.Logger, store repo.FailureStateStore, dispatcher notify.Dispatcher) *Alerter {
	return &Alerter{log: logger, store: store, dispatcher: dispatcher}
}

// Handle applies one probe outcome to t. Dispatch and write failures are logged only.
func (a *Alerter) Handle(ctx context.Context, t domain.Target, rec domain.CheckRecord) FailureDecision {
	d := EvaluateFailure(t, rec.IsUp)
	log := a.log.With(zap.String("target_id", string(t.ID)), zap.String("url", t.URL))

	if !rec.IsUp {
		log.Info("target_failure", zap.Int("consecutive_failures", d.ConsecutiveFailures))
	}
	if d.SendAlert {
		a.send(ctx, log, t, rec)
	}
	if err := a.store.UpdateTargetFailureState(ctx, t.ID, d.ConsecutiveFailures, d.ActiveAlert); err != nil {
		log.Warn("failure_state_write_failed", zap.Error(err))
	}
	return d
}

func (a *Alerter) send(ctx context.Context, log *zap.Logger, t domain.Target, rec domain.CheckRecord) {
	if a.dispatcher == nil {
		log.Warn("alert_not_configured")
		return
	}
	alert := notify.DownAlert{TargetName: t.DisplayName(), URL: t.URL, Status: rec.HTTPStatus}
	if rec.HTTPStatus == nil {
		alert.Error = rec.Reason
	}
	requestID, err := a.dispatcher.SendDownAlert(ctx, alert)
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		log.Warn("alert_not_configured")
	case err != nil:
		log.Warn("alert_dispatch_failed", zap.Error(err))
	default:
		log.Info("alert_sent", zap.String("request_id", requestID), zap.Int("consecutive_failures", t.ConsecutiveFailures+1))
	}
}
