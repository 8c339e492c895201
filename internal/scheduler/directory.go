package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// Dispatcher starts a probe for a target without waiting for it.
type Dispatcher interface {
	Dispatch(id domain.TargetID)
}

// Directory routes every operation for a target to that target's single entity.
type Directory struct {
	log        *zap.Logger
	schedules  repo.ScheduleStore
	registry   repo.Registry
	dispatcher Dispatcher
	clock      Clock

	mu       sync.Mutex
	entities map[domain.TargetID]*entity
	closed   bool
}

// NewDirectory wires a directory. A nil clock means the wall clock.
func NewDirectory(
	logger *zap.Logger,
	schedules repo.ScheduleStore,
	registry repo.Registry,
	dispatcher Dispatcher,
	clock Clock,
) *Directory {
	if clock == nil {
		clock = RealClock()
	}
	return &Directory{
		log:        logger,
		schedules:  schedules,
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clock,
		entities:   make(map[domain.TargetID]*entity),
	}
}

// entity returns the entity for id, starting one if none is running.
func (d *Directory) entity(id domain.TargetID) (*entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	e, ok := d.entities[id]
	if !ok {
		e = newEntity(id, d)
		d.entities[id] = e
		go e.run()
	}
	return e, nil
}

// existing returns the running entity for id, or starts one only when a schedule
// is persisted for it. Unknown ids cost a store read and nothing else.
func (d *Directory) existing(ctx context.Context, id domain.TargetID) (*entity, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := d.entities[id]
	d.mu.Unlock()
	if ok {
		return e, nil
	}
	_, err := d.schedules.LoadSchedule(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotInitialized)
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", id, err)
	}
	return d.entity(id)
}

// forget drops e from the map once it has retired.
func (d *Directory) forget(e *entity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entities[e.id] == e {
		delete(d.entities, e.id)
	}
}

type opFunc func(ctx context.Context, e *entity) error

// do runs fn on the entity of id. fn gets a context that outlives the caller's
// cancellation: once queued, an operation always completes.
func (d *Directory) do(ctx context.Context, id domain.TargetID, create bool, fn opFunc) error {
	opCtx := context.WithoutCancel(ctx)
	for {
		var (
			e   *entity
			err error
		)
		if create {
			e, err = d.entity(id)
		} else {
			e, err = d.existing(ctx, id)
		}
		if err != nil {
			return err
		}
		err = e.call(ctx, func() error { return fn(opCtx, e) })
		if !errors.Is(err, errRetired) {
			return err
		}
		// e was deleted while the call was queued; resolve again
	}
}

// Init overwrites the target's schedule, dispatches a probe now and arms the next one.
func (d *Directory) Init(ctx context.Context, id domain.TargetID, intervalSeconds int) error {
	if err := validInterval(intervalSeconds); err != nil {
		return err
	}
	return d.do(ctx, id, true, func(ctx context.Context, e *entity) error { return e.init(ctx, intervalSeconds) })
}

func (d *Directory) UpdateCheckInterval(ctx context.Context, id domain.TargetID, intervalSeconds int) error {
	if err := validInterval(intervalSeconds); err != nil {
		return err
	}
	return d.do(ctx, id, false, func(ctx context.Context, e *entity) error { return e.updateInterval(ctx, intervalSeconds) })
}

func (d *Directory) Pause(ctx context.Context, id domain.TargetID) error {
	return d.do(ctx, id, false, func(ctx context.Context, e *entity) error { return e.pause(ctx) })
}

func (d *Directory) Resume(ctx context.Context, id domain.TargetID) error {
	return d.do(ctx, id, false, func(ctx context.Context, e *entity) error { return e.resume(ctx) })
}

// Delete erases the schedule and retires the entity. The registry row is left alone.
// Deleting an unscheduled target is a no-op.
func (d *Directory) Delete(ctx context.Context, id domain.TargetID) error {
	err := d.do(ctx, id, false, func(ctx context.Context, e *entity) error { return e.delete(ctx) })
	if errors.Is(err, ErrNotInitialized) {
		return nil
	}
	return err
}

// OnWakeUp is the entry point for externally delivered wake-ups.
func (d *Directory) OnWakeUp(ctx context.Context, id domain.TargetID, w WakeDelivery) error {
	return d.do(ctx, id, false, func(ctx context.Context, e *entity) error { return e.onWakeUp(ctx, w) })
}

// ExecuteCheck dispatches a one-off probe. The schedule is not touched.
func (d *Directory) ExecuteCheck(ctx context.Context, id domain.TargetID) error {
	if _, err := d.registry.GetTarget(ctx, id); err != nil {
		return fmt.Errorf("execute check %s: %w", id, err)
	}
	d.dispatcher.Dispatch(id)
	return nil
}

// State returns a snapshot of the target's schedule.
func (d *Directory) State(ctx context.Context, id domain.TargetID) (*domain.ScheduleState, error) {
	var st *domain.ScheduleState
	err := d.do(ctx, id, false, func(ctx context.Context, e *entity) error {
		var err error
		st, err = e.snapshot(ctx)
		return err
	})
	return st, err
}

// Recover loads every persisted schedule and restores its timer. Run once at startup.
func (d *Directory) Recover(ctx context.Context) error {
	states, err := d.schedules.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	var errs error
	for _, st := range states {
		err := d.do(ctx, st.TargetID, true, func(ctx context.Context, e *entity) error { return e.reconcile(ctx) })
		if err != nil {
			d.log.Warn("schedule_recover_failed", zap.String("target_id", string(st.TargetID)), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	d.log.Info("schedules_recovered", zap.Int("count", len(states)))
	return errs
}

// Size reports how many entities are running.
func (d *Directory) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entities)
}

// Close stops every entity and its timer. Later operations return ErrClosed.
func (d *Directory) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	entities := make([]*entity, 0, len(d.entities))
	for _, e := range d.entities {
		entities = append(entities, e)
		close(e.quit)
	}
	d.mu.Unlock()

	for _, e := range entities {
		select {
		case <-e.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
