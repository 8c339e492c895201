package repo

import (
	"context"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

// FailureStateStore persists the failure/alert columns of a target row.
// Both columns are written together and nothing else on the row is touched,
// so it never clobbers a concurrent run-state or config write.
type FailureStateStore interface {
	// UpdateTargetFailureState returns ErrNotFound when the row is gone.
	UpdateTargetFailureState(ctx context.Context, id domain.TargetID, consecutiveFailures int, activeAlert bool) error
}
