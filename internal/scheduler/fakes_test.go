package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// --- clock ---

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		due := c.pending()
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		if len(due) == 0 || due[0].at.After(target) {
			break
		}
		t := due[0]
		t.fired = true
		c.now = t.at
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Active counts armed timers.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending())
}

// --- dispatcher ---

type dispatch struct {
	id domain.TargetID
	at time.Time
}

type recordingDispatcher struct {
	clock Clock
	mu    sync.Mutex
	calls []dispatch
}

func (r *recordingDispatcher) Dispatch(id domain.TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatch{id: id, at: r.clock.Now()})
}

func (r *recordingDispatcher) Calls() []dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch(nil), r.calls...)
}

// --- alert provider ---

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []notify.DownAlert
	err    error
}

func (r *recordingAlerts) SendDownAlert(ctx context.Context, a notify.DownAlert) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	if r.err != nil {
		return "", r.err
	}
	return "req-1", nil
}

func (r *recordingAlerts) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// --- checkers ---

type scriptedChecker struct {
	mu      sync.Mutex
	results []probe.CheckResult
	calls   int
}

func (s *scriptedChecker) Check(ctx context.Context, r probe.Request) probe.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.results[s.calls%len(s.results)]
	s.calls++
	return res
}

func up() probe.CheckResult {
	return probe.CheckResult{Success: true, StatusCode: 200, Message: "200 OK", LatencyMS: 12}
}

func down() probe.CheckResult {
	return probe.CheckResult{Success: false, StatusCode: 503, Message: "503 Service Unavailable", LatencyMS: 30}
}

// --- harness ---

type harness struct {
	clock *fakeClock
	store *memory.Store
	disp  *recordingDispatcher
	dir   *Directory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), store: memory.New()}
	h.disp = &recordingDispatcher{clock: h.clock}
	h.dir = NewDirectory(zap.NewNop(), h.store, h.store, h.disp, h.clock)
	t.Cleanup(func() { _ = h.dir.Close(context.Background()) })
	return h
}

// reopen simulates a process restart over the same storage and clock.
func (h *harness) reopen(t *testing.T) *harness {
	t.Helper()
	if err := h.dir.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	n := &harness{clock: h.clock, store: h.store}
	n.disp = &recordingDispatcher{clock: h.clock}
	n.dir = NewDirectory(zap.NewNop(), n.store, n.store, n.disp, n.clock)
	t.Cleanup(func() { _ = n.dir.Close(context.Background()) })
	return n
}

func (h *harness) addTarget(t *testing.T, id domain.TargetID) {
	t.Helper()
	tgt := &domain.Target{ID: id, URL: "https://" + string(id) + ".example", CheckIntervalSeconds: 30, IsRunning: true}
	if err := h.store.Add(context.Background(), tgt); err != nil {
		t.Fatalf("add target: %v", err)
	}
}

// state reads the entity state; it also waits for every queued wake-up of id.
func (h *harness) state(t *testing.T, id domain.TargetID) *domain.ScheduleState {
	t.Helper()
	st, err := h.dir.State(context.Background(), id)
	if err != nil {
		t.Fatalf("state %s: %v", id, err)
	}
	return st
}

func (h *harness) fireTimes(id domain.TargetID) []time.Duration {
	var out []time.Duration
	for _, c := range h.disp.Calls() {
		if c.id == id {
			out = append(out, c.at.Sub(epoch))
		}
	}
	return out
}
