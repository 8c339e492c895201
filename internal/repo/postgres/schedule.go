package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

func (s *Store) LoadSchedule(ctx context.Context, id domain.TargetID) (*domain.ScheduleState, error) {
	st, err := scanSchedule(s.pool.QueryRow(ctx,
		`SELECT target_id, check_interval_seconds, next_wake_at, wake_token, last_handled_token, updated_at
		   FROM schedules WHERE target_id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	return st, nil
}

func (s *Store) SaveSchedule(ctx context.Context, st domain.ScheduleState) error {
	const q = `
		INSERT INTO schedules (target_id, check_interval_seconds, next_wake_at, wake_token, last_handled_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (target_id)
		DO UPDATE SET check_interval_seconds = EXCLUDED.check_interval_seconds,
		              next_wake_at = EXCLUDED.next_wake_at,
		              wake_token = EXCLUDED.wake_token,
		              last_handled_token = EXCLUDED.last_handled_token,
		              updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, q, string(st.TargetID), st.CheckIntervalSeconds, st.NextWakeAt,
		st.WakeToken, st.LastHandledToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id domain.TargetID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE target_id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]domain.ScheduleState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT target_id, check_interval_seconds, next_wake_at, wake_token, last_handled_token, updated_at
		   FROM schedules ORDER BY target_id`)
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

func scanSchedule(row pgx.Row) (*domain.ScheduleState, error) {
	var (
		st domain.ScheduleState
		id string
	)
	if err := row.Scan(&id, &st.CheckIntervalSeconds, &st.NextWakeAt, &st.WakeToken, &st.LastHandledToken, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.TargetID = domain.TargetID(id)
	return &st, nil
}
