package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
)

func TestDirectory_FiresAtZeroThirtySixty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	h.clock.Advance(30 * time.Second)
	h.state(t, "S1")
	h.clock.Advance(30 * time.Second)
	st := h.state(t, "S1")

	want := []time.Duration{0, 30 * time.Second, 60 * time.Second}
	if got := h.fireTimes("S1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("fire times = %v, want %v", got, want)
	}
	if st.NextWakeAt == nil || !st.NextWakeAt.Equal(epoch.Add(90*time.Second)) {
		t.Fatalf("next wake = %v, want +90s", st.NextWakeAt)
	}
	if h.clock.Active() != 1 {
		t.Fatalf("want exactly one armed timer, got %d", h.clock.Active())
	}
}

func TestDirectory_PauseResumeRearmsFromResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	if err := h.dir.Pause(ctx, "S1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st := h.state(t, "S1"); st.NextWakeAt != nil {
		t.Fatalf("paused entity still has a wake-up: %v", st.NextWakeAt)
	}
	if tgt, _ := h.store.GetTarget(ctx, "S1"); tgt.IsRunning {
		t.Fatalf("registry still running after pause")
	}

	h.clock.Advance(90 * time.Second) // t=100
	if got := h.fireTimes("S1"); len(got) != 1 {
		t.Fatalf("paused entity fired: %v", got)
	}

	if err := h.dir.Resume(ctx, "S1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	st := h.state(t, "S1")
	if st.NextWakeAt == nil || !st.NextWakeAt.Equal(epoch.Add(130*time.Second)) {
		t.Fatalf("next wake = %v, want +130s", st.NextWakeAt)
	}
	if tgt, _ := h.store.GetTarget(ctx, "S1"); !tgt.IsRunning {
		t.Fatalf("registry not running after resume")
	}

	h.clock.Advance(30 * time.Second)
	h.state(t, "S1")
	want := []time.Duration{0, 130 * time.Second}
	if got := h.fireTimes("S1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("fire times = %v, want %v", got, want)
	}
}

func TestDirectory_RepeatedUpdateLeavesOneTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, n := range []int{10, 45, 5, 120, 60} {
		h.clock.Advance(time.Second)
		if err := h.dir.UpdateCheckInterval(ctx, "S1", n); err != nil {
			t.Fatalf("update %d: %v", n, err)
		}
	}
	if h.clock.Active() != 1 {
		t.Fatalf("want one armed timer, got %d", h.clock.Active())
	}
	st := h.state(t, "S1")
	if st.CheckIntervalSeconds != 60 || !st.NextWakeAt.Equal(epoch.Add(5*time.Second+60*time.Second)) {
		t.Fatalf("unexpected state: %+v next=%v", st, st.NextWakeAt)
	}
	if got := h.fireTimes("S1"); len(got) != 1 {
		t.Fatalf("interval update must not probe: %v", got)
	}
}

func TestDirectory_ConcurrentUpdatesLeaveOneTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")
	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := h.dir.UpdateCheckInterval(ctx, "S1", n); err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if h.clock.Active() != 1 {
		t.Fatalf("want one armed timer, got %d", h.clock.Active())
	}
}

func TestDirectory_UpdateWhilePausedStaysPaused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	_ = h.dir.Init(ctx, "S1", 30)
	if err := h.dir.Pause(ctx, "S1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.dir.UpdateCheckInterval(ctx, "S1", 90); err != nil {
		t.Fatalf("update: %v", err)
	}
	if h.clock.Active() != 0 {
		t.Fatalf("update re-armed a paused entity")
	}
	if err := h.dir.Resume(ctx, "S1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st := h.state(t, "S1"); !st.NextWakeAt.Equal(epoch.Add(90 * time.Second)) {
		t.Fatalf("resume should use the stored interval, next=%v", st.NextWakeAt)
	}
}

func TestDirectory_NotInitialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	ops := map[string]func() error{
		"update": func() error { return h.dir.UpdateCheckInterval(ctx, "S1", 30) },
		"pause":  func() error { return h.dir.Pause(ctx, "S1") },
		"resume": func() error { return h.dir.Resume(ctx, "S1") },
		"wake":   func() error { return h.dir.OnWakeUp(ctx, "S1", WakeDelivery{Token: "x"}) },
		"state": func() error {
			_, err := h.dir.State(ctx, "S1")
			return err
		},
	}
	check := func(phase string) {
		for name, op := range ops {
			if err := op(); !errors.Is(err, ErrNotInitialized) {
				t.Errorf("%s: %s want ErrNotInitialized, got %v", phase, name, err)
			}
		}
	}

	check("before init")

	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := h.dir.Delete(ctx, "S1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	check("after delete")

	if h.clock.Active() != 0 {
		t.Fatalf("delete left a timer armed")
	}
	h.clock.Advance(time.Minute)
	h.dir.State(ctx, "S1") //nolint:errcheck
	if got := h.fireTimes("S1"); len(got) != 1 {
		t.Fatalf("deleted entity fired: %v", got)
	}
	if _, err := h.store.LoadSchedule(ctx, "S1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("schedule not erased: %v", err)
	}
	if _, err := h.store.GetTarget(ctx, "S1"); err != nil {
		t.Fatalf("delete must leave the registry alone: %v", err)
	}
}

func TestDirectory_InvalidInterval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	for _, n := range []int{0, -5} {
		if err := h.dir.Init(ctx, "S1", n); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("init(%d): want ErrInvalidInterval, got %v", n, err)
		}
	}
	_ = h.dir.Init(ctx, "S1", 30)
	if err := h.dir.UpdateCheckInterval(ctx, "S1", 0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("update(0): want ErrInvalidInterval, got %v", err)
	}
	if st := h.state(t, "S1"); st.CheckIntervalSeconds != 30 {
		t.Fatalf("invalid update changed interval: %d", st.CheckIntervalSeconds)
	}
}

func TestDirectory_DuplicateAndRetryWakeDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	_ = h.dir.Init(ctx, "S1", 30)
	armed := h.state(t, "S1").WakeToken

	if err := h.dir.OnWakeUp(ctx, "S1", WakeDelivery{Token: armed}); err != nil {
		t.Fatalf("wake: %v", err)
	}
	if got := h.fireTimes("S1"); len(got) != 2 {
		t.Fatalf("wake should dispatch once: %v", got)
	}
	next := h.state(t, "S1")
	if next.LastHandledToken != armed || next.WakeToken == armed {
		t.Fatalf("tokens not rotated: %+v", next)
	}

	drops := []WakeDelivery{
		{Token: armed}, // duplicate of the handled fire
		{Token: next.WakeToken, IsRetry: true},
		{Token: next.WakeToken, RetryCount: 2},
		{Token: "never-armed"},
	}
	for _, d := range drops {
		if err := h.dir.OnWakeUp(ctx, "S1", d); err != nil {
			t.Fatalf("wake %+v: %v", d, err)
		}
	}
	if got := h.fireTimes("S1"); len(got) != 2 {
		t.Fatalf("dropped deliveries dispatched probes: %v", got)
	}
	if st := h.state(t, "S1"); !reflect.DeepEqual(st.NextWakeAt, next.NextWakeAt) || st.WakeToken != next.WakeToken {
		t.Fatalf("dropped deliveries changed state: %+v", st)
	}
	if h.clock.Active() != 1 {
		t.Fatalf("want one armed timer, got %d", h.clock.Active())
	}
}

func TestDirectory_PausedDropsWake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	_ = h.dir.Init(ctx, "S1", 30)
	armed := h.state(t, "S1").WakeToken
	_ = h.dir.Pause(ctx, "S1")

	for _, tok := range []string{armed, ""} {
		if err := h.dir.OnWakeUp(ctx, "S1", WakeDelivery{Token: tok}); err != nil {
			t.Fatalf("wake: %v", err)
		}
	}
	if got := h.fireTimes("S1"); len(got) != 1 {
		t.Fatalf("paused entity dispatched: %v", got)
	}
}

func TestDirectory_SameIDSameEntity(t *testing.T) {
	h := newHarness(t)
	a, err := h.dir.entity("S1")
	if err != nil {
		t.Fatalf("entity: %v", err)
	}
	b, _ := h.dir.entity("S1")
	c, _ := h.dir.entity("S2")
	if a != b {
		t.Fatalf("same id resolved to two entities")
	}
	if a == c {
		t.Fatalf("different ids share an entity")
	}
}

func TestDirectory_ExecuteCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	if err := h.dir.ExecuteCheck(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	_ = h.dir.Init(ctx, "S1", 30)
	before := h.state(t, "S1")
	if err := h.dir.ExecuteCheck(ctx, "S1"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := h.fireTimes("S1"); len(got) != 2 {
		t.Fatalf("want 2 dispatches, got %v", got)
	}
	if after := h.state(t, "S1"); after.WakeToken != before.WakeToken {
		t.Fatalf("execute-check touched the schedule")
	}
}

type blockingChecker struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingChecker) Check(ctx context.Context, r probe.Request) probe.CheckResult {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return up()
}

func TestDirectory_WakeDoesNotWaitForProbe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clock := newFakeClock()
	store := memory.New()
	h := &harness{clock: clock, store: store}
	h.addTarget(t, "S1")

	chk := &blockingChecker{release: make(chan struct{})}
	tasks := NewTaskGroup(zap.NewNop())
	exec := NewExecutor(zap.NewNop(), store, chk, NewAlerter(zap.NewNop(), store, nil), tasks, 0)
	dir := NewDirectory(zap.NewNop(), store, store, exec, clock)
	defer dir.Close(context.Background()) //nolint:errcheck

	if err := dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init blocked on the probe: %v", err)
	}
	st, err := dir.State(ctx, "S1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if err := dir.OnWakeUp(ctx, "S1", WakeDelivery{Token: st.WakeToken}); err != nil {
		t.Fatalf("wake blocked on the probe: %v", err)
	}
	if st2, _ := dir.State(ctx, "S1"); st2.WakeToken == st.WakeToken {
		t.Fatalf("wake did not re-arm while the probe was running")
	}

	close(chk.release)
	tasks.Wait()
	if chk.calls != 2 {
		t.Fatalf("want 2 overlapping probes, got %d", chk.calls)
	}
}

func TestDirectory_RecoverRestoresTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	_ = h.dir.Init(ctx, "S1", 30)
	before := h.state(t, "S1")

	h2 := h.reopen(t)
	h.clock.Advance(10 * time.Second)
	if err := h2.dir.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if h.clock.Active() != 1 {
		t.Fatalf("want one armed timer after recover, got %d", h.clock.Active())
	}
	if st := h2.state(t, "S1"); st.WakeToken != before.WakeToken || !st.NextWakeAt.Equal(*before.NextWakeAt) {
		t.Fatalf("restored schedule differs: %+v", st)
	}

	h.clock.Advance(20 * time.Second)
	h2.state(t, "S1")
	if got := h2.fireTimes("S1"); !reflect.DeepEqual(got, []time.Duration{30 * time.Second}) {
		t.Fatalf("restored timer fired at %v, want [30s]", got)
	}
}

func TestDirectory_RecoverFiresOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	_ = h.dir.Init(ctx, "S1", 30)
	h2 := h.reopen(t)
	h.clock.Advance(45 * time.Second)

	if err := h2.dir.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := h2.fireTimes("S1"); !reflect.DeepEqual(got, []time.Duration{45 * time.Second}) {
		t.Fatalf("overdue fire at %v, want [45s]", got)
	}
	if st := h2.state(t, "S1"); !st.NextWakeAt.Equal(epoch.Add(75 * time.Second)) {
		t.Fatalf("next wake = %v, want +75s", st.NextWakeAt)
	}
}

func TestDirectory_RecoverRearmsHandledFire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	past := epoch.Add(-time.Minute)
	err := h.store.SaveSchedule(ctx, domain.ScheduleState{
		TargetID: "S1", CheckIntervalSeconds: 30, NextWakeAt: &past, WakeToken: "t1", LastHandledToken: "t1",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := h.dir.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := h.fireTimes("S1"); len(got) != 0 {
		t.Fatalf("handled fire was dispatched again: %v", got)
	}
	st := h.state(t, "S1")
	if st.WakeToken == "t1" || !st.NextWakeAt.Equal(epoch.Add(30*time.Second)) {
		t.Fatalf("want fresh arm at +30s, got %+v next=%v", st, st.NextWakeAt)
	}
}

func TestDirectory_RecoverReconcilesRegistry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1") // registry says running

	_ = h.store.SaveSchedule(ctx, domain.ScheduleState{TargetID: "S1", CheckIntervalSeconds: 30})
	_ = h.store.SaveSchedule(ctx, domain.ScheduleState{TargetID: "ghost", CheckIntervalSeconds: 30})

	if err := h.dir.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if tgt, _ := h.store.GetTarget(ctx, "S1"); tgt.IsRunning {
		t.Fatalf("paused schedule left registry running")
	}
	if _, err := h.store.LoadSchedule(ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("orphan schedule kept: %v", err)
	}
	if h.clock.Active() != 0 {
		t.Fatalf("paused schedule armed on recover")
	}
}

func TestDirectory_Close(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	_ = h.dir.Init(ctx, "S1", 30)
	if err := h.dir.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if h.clock.Active() != 0 {
		t.Fatalf("close left timers armed")
	}
	if err := h.dir.Pause(ctx, "S1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestDirectory_UnknownIDsStartNoEntities(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		id := domain.TargetID(fmt.Sprintf("nope-%d", i))
		if _, err := h.dir.State(ctx, id); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("state %s: want ErrNotInitialized, got %v", id, err)
		}
		if err := h.dir.Pause(ctx, id); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("pause %s: want ErrNotInitialized, got %v", id, err)
		}
		if err := h.dir.OnWakeUp(ctx, id, WakeDelivery{Token: "x"}); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("wake %s: want ErrNotInitialized, got %v", id, err)
		}
		if err := h.dir.Delete(ctx, id); err != nil {
			t.Fatalf("delete %s: %v", id, err)
		}
	}
	if n := h.dir.Size(); n != 0 {
		t.Fatalf("unknown ids left %d entities running", n)
	}
}

func TestDirectory_DeleteRetiresEntity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")

	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	e, _ := h.dir.entity("S1")
	if err := h.dir.Delete(ctx, "S1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case <-e.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("deleted entity goroutine still running")
	}
	if n := h.dir.Size(); n != 0 {
		t.Fatalf("want no entities after delete, got %d", n)
	}

	// the id is usable again
	if err := h.dir.Init(ctx, "S1", 30); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if st := h.state(t, "S1"); st.Paused() {
		t.Fatalf("re-initialized entity not armed")
	}
}

func TestDirectory_DeleteAndInitDoNotReplayOverdueWake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addTarget(t, "S1")
	h.addTarget(t, "S2")
	_ = h.dir.Init(ctx, "S1", 30)
	_ = h.dir.Init(ctx, "S2", 30)

	// restart without Recover; both schedules are overdue when first touched
	h2 := h.reopen(t)
	h.clock.Advance(45 * time.Second)

	if err := h2.dir.Delete(ctx, "S1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := h2.fireTimes("S1"); len(got) != 0 {
		t.Fatalf("delete dispatched %v", got)
	}
	if _, err := h.store.LoadSchedule(ctx, "S1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("schedule not erased: %v", err)
	}

	if err := h2.dir.Init(ctx, "S2", 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := h2.fireTimes("S2"); !reflect.DeepEqual(got, []time.Duration{45 * time.Second}) {
		t.Fatalf("init dispatched %v, want exactly [45s]", got)
	}
	if h.clock.Active() != 1 {
		t.Fatalf("want one armed timer, got %d", h.clock.Active())
	}
}

// gatedSchedules holds the next SaveSchedule until gate is closed and
// refuses writes under a cancelled context.
type gatedSchedules struct {
	repo.ScheduleStore
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedSchedules) hold() (gate, entered chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate, g.entered = make(chan struct{}), make(chan struct{})
	return g.gate, g.entered
}

func (g *gatedSchedules) SaveSchedule(ctx context.Context, s domain.ScheduleState) error {
	g.mu.Lock()
	gate, entered := g.gate, g.entered
	g.gate, g.entered = nil, nil
	g.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.ScheduleStore.SaveSchedule(ctx, s)
}

func TestDirectory_QueuedOpSurvivesCallerCancel(t *testing.T) {
	clock := newFakeClock()
	store := memory.New()
	h := &harness{clock: clock, store: store}
	h.addTarget(t, "S1")

	schedules := &gatedSchedules{ScheduleStore: store}
	dir := NewDirectory(zap.NewNop(), schedules, store, &recordingDispatcher{clock: clock}, clock)
	defer dir.Close(context.Background()) //nolint:errcheck

	bg := context.Background()
	if err := dir.Init(bg, "S1", 30); err != nil {
		t.Fatalf("init: %v", err)
	}

	// pause blocks inside its write, keeping the entity busy
	gate, entered := schedules.hold()
	pauseDone := make(chan error, 1)
	go func() { pauseDone <- dir.Pause(bg, "S1") }()
	<-entered

	ctx, cancel := context.WithCancel(bg)
	updateDone := make(chan error, 1)
	go func() { updateDone <- dir.UpdateCheckInterval(ctx, "S1", 45) }()

	e, _ := dir.entity("S1")
	deadline := time.Now().Add(2 * time.Second)
	for len(e.mailbox) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("update never queued")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-updateDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller should see its cancellation, got %v", err)
	}

	close(gate)
	if err := <-pauseDone; err != nil {
		t.Fatalf("pause: %v", err)
	}
	st, err := dir.State(bg, "S1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	stored, err := store.LoadSchedule(bg, "S1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.CheckIntervalSeconds != 45 || stored.CheckIntervalSeconds != 45 {
		t.Fatalf("queued update lost: memory=%d stored=%d", st.CheckIntervalSeconds, stored.CheckIntervalSeconds)
	}
}
