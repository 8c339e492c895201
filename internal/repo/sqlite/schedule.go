package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

const scheduleColumns = `target_id, check_interval_seconds, next_wake_at, wake_token, last_handled_token, updated_at`

func (s *Store) LoadSchedule(ctx context.Context, id domain.TargetID) (*domain.ScheduleState, error) {
	st, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE target_id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	return st, nil
}

func (s *Store) SaveSchedule(ctx context.Context, st domain.ScheduleState) error {
	var next *time.Time
	if st.NextWakeAt != nil {
		at := st.NextWakeAt.UTC()
		next = &at
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (target_id) DO UPDATE SET
		   check_interval_seconds = excluded.check_interval_seconds,
		   next_wake_at = excluded.next_wake_at,
		   wake_token = excluded.wake_token,
		   last_handled_token = excluded.last_handled_token,
		   updated_at = excluded.updated_at`,
		string(st.TargetID), st.CheckIntervalSeconds, next, st.WakeToken, st.LastHandledToken, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id domain.TargetID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE target_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]domain.ScheduleState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduleState
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanSchedule(row scanner) (*domain.ScheduleState, error) {
	var (
		st   domain.ScheduleState
		id   string
		next sql.NullTime
	)
	if err := row.Scan(&id, &st.CheckIntervalSeconds, &next, &st.WakeToken, &st.LastHandledToken, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.TargetID = domain.TargetID(id)
	if next.Valid {
		at := next.Time
		st.NextWakeAt = &at
	}
	return &st, nil
}
