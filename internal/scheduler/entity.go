package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var (
	ErrNotInitialized  = errors.New("schedule not initialized")
	ErrInvalidInterval = errors.New("check interval must be a positive number of seconds")
	ErrClosed          = errors.New("scheduler closed")

	// errRetired tells the directory to resolve the id again.
	errRetired = errors.New("entity retired")
)

// WakeDelivery is one delivery of an armed wake-up.
type WakeDelivery struct {
	Token      string
	RetryCount int
	IsRetry    bool
}

const mailboxSize = 64

// entity owns the timer of one target. Every field below mailbox is only
// touched from run's goroutine.
type entity struct {
	id      domain.TargetID
	dir     *Directory
	log     *zap.Logger
	mailbox chan func()
	quit    chan struct{}
	stopped chan struct{}

	loaded  bool
	state   *domain.ScheduleState // nil while uninitialized
	timer   Timer
	retired bool // set by delete; read by callers only after stopped is closed
}

func newEntity(id domain.TargetID, dir *Directory) *entity {
	return &entity{
		id:      id,
		dir:     dir,
		log:     dir.log.With(zap.String("target_id", string(id))),
		mailbox: make(chan func(), mailboxSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (e *entity) run() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.mailbox:
			fn()
			if e.retired {
				// queued calls fail with errRetired and go to a fresh entity
				e.dir.forget(e)
				return
			}
		case <-e.quit:
			e.stopTimer()
			return
		}
	}
}

// call runs fn on the entity goroutine and waits for its result.
func (e *entity) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case e.mailbox <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrClosed
	case <-e.stopped:
		return e.stopErr()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		select {
		case err := <-done:
			return err
		default:
			return e.stopErr()
		}
	}
}

// stopErr explains why a stopped entity did not run a call. Only valid after stopped is closed.
func (e *entity) stopErr() error {
	if e.retired {
		return errRetired
	}
	return ErrClosed
}

// post enqueues fn without waiting.
func (e *entity) post(fn func()) {
	select {
	case e.mailbox <- fn:
	case <-e.quit:
	case <-e.stopped:
	}
}

func (e *entity) notInitialized() error {
	return fmt.Errorf("target %s: %w", e.id, ErrNotInitialized)
}

func validInterval(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, seconds)
	}
	return nil
}

// ensureLoaded hydrates the state on first use and restores the timer it describes.
func (e *entity) ensureLoaded(ctx context.Context) error {
	fresh, err := e.load(ctx)
	if err != nil {
		return err
	}
	if fresh && e.state != nil {
		e.restore(ctx)
	}
	return nil
}

// load hydrates the state without touching timers. fresh is true on the first successful load.
func (e *entity) load(ctx context.Context) (fresh bool, err error) {
	if e.loaded {
		return false, nil
	}
	st, err := e.dir.schedules.LoadSchedule(ctx, e.id)
	if errors.Is(err, repo.ErrNotFound) {
		e.loaded = true
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load schedule %s: %w", e.id, err)
	}
	e.loaded = true
	e.state = st
	return true, nil
}

func (e *entity) restore(ctx context.Context) {
	st := e.state
	if st.Paused() {
		return
	}
	now := e.dir.clock.Now()
	switch {
	case st.WakeToken == "" || st.WakeToken == st.LastHandledToken:
		// the fire was handled but its re-arm never persisted
		e.log.Info("schedule_restored_rearm")
		if err := e.arm(ctx, st.Interval()); err != nil {
			e.log.Warn("schedule_persist_failed", zap.Error(err))
		}
	case !st.NextWakeAt.After(now):
		e.log.Info("schedule_restored_due", zap.Time("next_wake_at", *st.NextWakeAt))
		e.wake(ctx, WakeDelivery{Token: st.WakeToken})
	default:
		remaining := st.NextWakeAt.Sub(now)
		e.log.Info("schedule_restored", zap.Duration("remaining", remaining))
		e.timer = e.dir.clock.AfterFunc(remaining, e.fire(st.WakeToken))
	}
}

func (e *entity) fire(token string) func() {
	return func() {
		e.post(func() {
			e.wake(context.Background(), WakeDelivery{Token: token})
		})
	}
}

func (e *entity) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// arm replaces any armed timer with one firing d from now under a fresh token.
func (e *entity) arm(ctx context.Context, d time.Duration) error {
	e.stopTimer()
	token := uuid.NewString()
	at := e.dir.clock.Now().Add(d)
	e.state.NextWakeAt = &at
	e.state.WakeToken = token
	e.timer = e.dir.clock.AfterFunc(d, e.fire(token))
	return e.persist(ctx)
}

func (e *entity) persist(ctx context.Context) error {
	if err := e.dir.schedules.SaveSchedule(ctx, e.state.Clone()); err != nil {
		return fmt.Errorf("persist schedule %s: %w", e.id, err)
	}
	return nil
}

func (e *entity) setRunning(ctx context.Context, running bool) error {
	if err := e.dir.registry.UpdateTargetRunState(ctx, e.id, running); err != nil {
		return fmt.Errorf("update run state %s: %w", e.id, err)
	}
	return nil
}

func (e *entity) init(ctx context.Context, seconds int) error {
	if err := validInterval(seconds); err != nil {
		return err
	}
	// the stored state is overwritten, so it is never loaded or replayed here
	e.loaded = true
	e.stopTimer()
	e.state = &domain.ScheduleState{TargetID: e.id, CheckIntervalSeconds: seconds}

	e.dir.dispatcher.Dispatch(e.id)
	err := e.arm(ctx, e.state.Interval())
	if rerr := e.setRunning(ctx, true); rerr != nil {
		e.log.Warn("entity_init_run_state_failed", zap.Error(rerr))
	}
	e.log.Info("entity_init", zap.Int("interval_s", seconds), zap.Time("next_wake_at", *e.state.NextWakeAt))
	return err
}

func (e *entity) updateInterval(ctx context.Context, seconds int) error {
	if err := validInterval(seconds); err != nil {
		return err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if e.state == nil {
		return e.notInitialized()
	}
	e.state.CheckIntervalSeconds = seconds
	e.log.Info("entity_interval_updated", zap.Int("interval_s", seconds), zap.Bool("paused", e.state.Paused()))
	if e.state.Paused() {
		return e.persist(ctx)
	}
	return e.arm(ctx, e.state.Interval())
}

func (e *entity) pause(ctx context.Context) error {
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if e.state == nil {
		return e.notInitialized()
	}
	e.stopTimer()
	e.state.NextWakeAt = nil
	e.state.WakeToken = ""
	e.log.Info("entity_paused")
	return multierr.Append(e.persist(ctx), e.setRunning(ctx, false))
}

func (e *entity) resume(ctx context.Context) error {
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if e.state == nil {
		return e.notInitialized()
	}
	err := e.arm(ctx, e.state.Interval())
	e.log.Info("entity_resumed", zap.Time("next_wake_at", *e.state.NextWakeAt))
	return multierr.Append(err, e.setRunning(ctx, true))
}

// delete erases the state without replaying it and retires the entity.
func (e *entity) delete(ctx context.Context) error {
	e.stopTimer()
	e.state = nil
	e.loaded = true
	e.retired = true
	e.log.Info("entity_deleted")
	if err := e.dir.schedules.DeleteSchedule(ctx, e.id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", e.id, err)
	}
	return nil
}

// wake handles one delivery. Dropped deliveries have no side effects.
func (e *entity) wake(ctx context.Context, d WakeDelivery) {
	if e.state == nil {
		e.log.Info("wake_uninitialized_dropped", zap.String("token", d.Token))
		return
	}
	switch {
	case d.IsRetry || d.RetryCount > 0:
		e.log.Info("wake_retry_dropped", zap.String("token", d.Token), zap.Int("retry_count", d.RetryCount))
		return
	case e.state.Paused():
		e.log.Info("wake_paused_dropped", zap.String("token", d.Token))
		return
	case d.Token == e.state.LastHandledToken:
		e.log.Info("wake_duplicate_dropped", zap.String("token", d.Token))
		return
	case d.Token != e.state.WakeToken:
		e.log.Info("wake_stale_dropped", zap.String("token", d.Token), zap.String("armed_token", e.state.WakeToken))
		return
	}

	e.state.LastHandledToken = d.Token
	if err := e.persist(ctx); err != nil {
		e.log.Warn("schedule_persist_failed", zap.Error(err))
	}
	e.dir.dispatcher.Dispatch(e.id)
	if err := e.arm(ctx, e.state.Interval()); err != nil {
		e.log.Warn("schedule_persist_failed", zap.Error(err))
	}
	e.log.Debug("wake_handled", zap.String("token", d.Token), zap.Time("next_wake_at", *e.state.NextWakeAt))
}

func (e *entity) onWakeUp(ctx context.Context, d WakeDelivery) error {
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if e.state == nil {
		e.log.Info("wake_uninitialized_dropped", zap.String("token", d.Token))
		return e.notInitialized()
	}
	e.wake(ctx, d)
	return nil
}

func (e *entity) snapshot(ctx context.Context) (*domain.ScheduleState, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, e.notInitialized()
	}
	st := e.state.Clone()
	return &st, nil
}

// reconcile makes the registry's run flag agree with the entity after a restart.
func (e *entity) reconcile(ctx context.Context) error {
	fresh, err := e.load(ctx)
	if err != nil {
		return err
	}
	if e.state == nil {
		e.retired = true
		return nil
	}
	t, err := e.dir.registry.GetTarget(ctx, e.id)
	if errors.Is(err, repo.ErrNotFound) {
		e.log.Info("schedule_orphaned")
		return e.delete(ctx)
	}
	if fresh {
		e.restore(ctx)
	}
	if err != nil {
		return fmt.Errorf("get target %s: %w", e.id, err)
	}
	running := !e.state.Paused()
	if t.IsRunning == running {
		return nil
	}
	e.log.Info("run_state_reconciled", zap.Bool("is_running", running))
	return e.setRunning(ctx, running)
}
