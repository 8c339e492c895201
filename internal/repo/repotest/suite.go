// Package repotest holds the storage contract every repo.Store engine must satisfy.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// Run exercises s against the repo.Store contract. The store must be empty.
func Run(t *testing.T, s repo.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("targets", func(t *testing.T) { targets(ctx, t, s) })
	t.Run("field_writes", func(t *testing.T) { fieldWrites(ctx, t, s) })
	t.Run("check_records", func(t *testing.T) { checkRecords(ctx, t, s) })
	t.Run("schedules", func(t *testing.T) { schedules(ctx, t, s) })
}

func intp(i int) *int { return &i }

func targets(ctx context.Context, t *testing.T, s repo.Store) {
	tgt := &domain.Target{
		Name:                 "example",
		URL:                  "https://targets.example.com",
		CheckIntervalSeconds: 30,
		IsRunning:            true,
		ExpectedStatusCode:   intp(204),
	}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tgt.ID == "" {
		t.Fatalf("expected ID to be set")
	}

	dup := &domain.Target{URL: tgt.URL, CheckIntervalSeconds: 30}
	if err := s.Add(ctx, dup); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate url: want ErrConflict, got %v", err)
	}

	got, err := s.GetTarget(ctx, tgt.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.URL != tgt.URL || got.CheckIntervalSeconds != 30 || !got.IsRunning ||
		got.ExpectedStatusCode == nil || *got.ExpectedStatusCode != 204 {
		t.Fatalf("unexpected target: %+v", got)
	}

	byURL, err := s.GetByURL(ctx, tgt.URL)
	if err != nil || byURL.ID != tgt.ID {
		t.Fatalf("GetByURL: %+v err=%v", byURL, err)
	}
	if _, err := s.GetByURL(ctx, "https://nope.example.com"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("GetByURL missing: want ErrNotFound, got %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, x := range list {
		if x.ID == tgt.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("added target not in list (%d rows)", len(list))
	}

	interval := 90
	name := "renamed"
	patched, err := s.Patch(ctx, tgt.ID, domain.TargetPatch{
		Name:                 &name,
		CheckIntervalSeconds: &interval,
		ClearExpectedStatus:  true,
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if patched.Name != "renamed" || patched.CheckIntervalSeconds != 90 || patched.ExpectedStatusCode != nil {
		t.Fatalf("patch not applied: %+v", patched)
	}
	if patched.URL != tgt.URL || !patched.IsRunning {
		t.Fatalf("patch touched other columns: %+v", patched)
	}
	if _, err := s.Patch(ctx, "missing", domain.TargetPatch{Name: &name}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Patch missing: want ErrNotFound, got %v", err)
	}

	if err := s.Delete(ctx, tgt.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetTarget(ctx, tgt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: want ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, tgt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func fieldWrites(ctx context.Context, t *testing.T, s repo.Store) {
	tgt := &domain.Target{URL: "https://fields.example.com", CheckIntervalSeconds: 60, IsRunning: true}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.UpdateTargetFailureState(ctx, tgt.ID, 3, true); err != nil {
		t.Fatalf("UpdateTargetFailureState: %v", err)
	}
	if err := s.UpdateTargetRunState(ctx, tgt.ID, false); err != nil {
		t.Fatalf("UpdateTargetRunState: %v", err)
	}

	got, err := s.GetTarget(ctx, tgt.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	// the run-state write must not clobber the failure columns and vice versa
	if got.ConsecutiveFailures != 3 || !got.ActiveAlert || got.IsRunning {
		t.Fatalf("field writes clobbered each other: %+v", got)
	}
	if got.CheckIntervalSeconds != 60 {
		t.Fatalf("interval changed: %+v", got)
	}

	if err := s.UpdateTargetRunState(ctx, "missing", true); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("run state missing: want ErrNotFound, got %v", err)
	}
	if err := s.UpdateTargetFailureState(ctx, "missing", 1, false); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("failure state missing: want ErrNotFound, got %v", err)
	}
}

func checkRecords(ctx context.Context, t *testing.T, s repo.Store) {
	tgt := &domain.Target{URL: "https://records.example.com", CheckIntervalSeconds: 30, IsRunning: true}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	up := &domain.CheckRecord{TargetID: tgt.ID, Timestamp: base, HTTPStatus: intp(200), ResponseTimeMS: 42, IsUp: true, Reason: "200 OK"}
	down := &domain.CheckRecord{TargetID: tgt.ID, Timestamp: base.Add(time.Second), ResponseTimeMS: 7, IsUp: false, Reason: "dial tcp: refused"}
	for _, r := range []*domain.CheckRecord{up, down} {
		if err := s.InsertCheckRecord(ctx, r); err != nil {
			t.Fatalf("InsertCheckRecord: %v", err)
		}
	}

	got, err := s.ListCheckRecords(ctx, tgt.ID, 10)
	if err != nil {
		t.Fatalf("ListCheckRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records, got %d", len(got))
	}
	if got[0].IsUp || got[0].HTTPStatus != nil {
		t.Fatalf("newest record should be the failed one without status: %+v", got[0])
	}
	if !got[1].IsUp || got[1].HTTPStatus == nil || *got[1].HTTPStatus != 200 || got[1].ResponseTimeMS != 42 {
		t.Fatalf("unexpected up record: %+v", got[1])
	}

	limited, err := s.ListCheckRecords(ctx, tgt.ID, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: got %d err=%v", len(limited), err)
	}
}

func schedules(ctx context.Context, t *testing.T, s repo.Store) {
	if _, err := s.LoadSchedule(ctx, "S1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("empty load: want ErrNotFound, got %v", err)
	}

	at := time.Now().UTC().Add(30 * time.Second).Truncate(time.Second)
	st := domain.ScheduleState{
		TargetID:             "S1",
		CheckIntervalSeconds: 30,
		NextWakeAt:           &at,
		WakeToken:            "tok-2",
		LastHandledToken:     "tok-1",
	}
	if err := s.SaveSchedule(ctx, st); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
	got, err := s.LoadSchedule(ctx, "S1")
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	if got.CheckIntervalSeconds != 30 || got.NextWakeAt == nil || !got.NextWakeAt.Equal(at) ||
		got.WakeToken != "tok-2" || got.LastHandledToken != "tok-1" {
		t.Fatalf("unexpected schedule: %+v", got)
	}

	// pausing clears the wake-up
	st.NextWakeAt = nil
	if err := s.SaveSchedule(ctx, st); err != nil {
		t.Fatalf("SaveSchedule paused: %v", err)
	}
	got, err = s.LoadSchedule(ctx, "S1")
	if err != nil || got.NextWakeAt != nil {
		t.Fatalf("paused schedule: %+v err=%v", got, err)
	}

	if err := s.SaveSchedule(ctx, domain.ScheduleState{TargetID: "S2", CheckIntervalSeconds: 10}); err != nil {
		t.Fatalf("SaveSchedule S2: %v", err)
	}
	all, err := s.ListSchedules(ctx)
	if err != nil || len(all) < 2 {
		t.Fatalf("ListSchedules: %d err=%v", len(all), err)
	}

	if err := s.DeleteSchedule(ctx, "S1"); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if _, err := s.LoadSchedule(ctx, "S1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: want ErrNotFound, got %v", err)
	}
}
