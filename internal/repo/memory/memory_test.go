package memory

import (
	"context"
	"testing"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo/repotest"
)

func TestMemoryStore_Contract(t *testing.T) {
	repotest.Run(t, New())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	tgt := &domain.Target{URL: "https://example.com", CheckIntervalSeconds: 30}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}

	got, err := s.GetTarget(ctx, tgt.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	got.ConsecutiveFailures = 99

	again, _ := s.GetTarget(ctx, tgt.ID)
	if again.ConsecutiveFailures != 0 {
		t.Fatalf("store handed out its internal row")
	}
}

func TestMemoryStore_DeleteDropsRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	tgt := &domain.Target{URL: "https://example.com", CheckIntervalSeconds: 30}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}
	if err := s.InsertCheckRecord(ctx, &domain.CheckRecord{TargetID: tgt.ID, IsUp: true}); err != nil {
		t.Fatalf("InsertCheckRecord: %v", err)
	}
	if err := s.Delete(ctx, tgt.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	recs, _ := s.ListCheckRecords(ctx, tgt.ID, 0)
	if len(recs) != 0 {
		t.Fatalf("records survived delete: %d", len(recs))
	}
}
