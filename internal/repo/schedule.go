package repo

import (
	"context"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

// ScheduleStore holds the private durable state of schedule entities.
type ScheduleStore interface {
	// LoadSchedule returns ErrNotFound if the entity was never initialized (or was deleted).
	LoadSchedule(ctx context.Context, id domain.TargetID) (*domain.ScheduleState, error)
	// SaveSchedule upserts the full entity state.
	SaveSchedule(ctx context.Context, s domain.ScheduleState) error
	DeleteSchedule(ctx context.Context, id domain.TargetID) error
	ListSchedules(ctx context.Context) ([]domain.ScheduleState, error)
}
