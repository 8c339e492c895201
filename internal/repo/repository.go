package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Ports. Every storage engine implements all of them.
type TargetStore interface {
	Add(ctx context.Context, t *domain.Target) error
	List(ctx context.Context) ([]domain.Target, error)
	GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	GetByURL(ctx context.Context, url string) (*domain.Target, error)
	Patch(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (*domain.Target, error)
	Delete(ctx context.Context, id domain.TargetID) error
	UpdateTargetRunState(ctx context.Context, id domain.TargetID, isRunning bool) error
}

type ResultStore interface {
	InsertCheckRecord(ctx context.Context, r *domain.CheckRecord) error
	ListCheckRecords(ctx context.Context, id domain.TargetID, limit int) ([]domain.CheckRecord, error)
}

// Registry is the slice of storage the scheduler core depends on.
type Registry interface {
	GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	UpdateTargetRunState(ctx context.Context, id domain.TargetID, isRunning bool) error
	FailureStateStore
	InsertCheckRecord(ctx context.Context, r *domain.CheckRecord) error
}

// Store bundles everything a storage engine provides.
type Store interface {
	TargetStore
	ResultStore
	FailureStateStore
	ScheduleStore
	Close() error
}
