package postgres

import (
	"context"
	"fmt"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

func (s *Store) UpdateTargetFailureState(ctx context.Context, id domain.TargetID, consecutiveFailures int, activeAlert bool) error {
	const q = `
		UPDATE targets
		   SET consecutive_failures = $2, active_alert = $3, updated_at = now()
		 WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, q, string(id), consecutiveFailures, activeAlert)
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
