package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig opens a pool from an already parsed config, pings it and migrates the schema.
func NewWithConfig(ctx context.Context, cfg *pgxpool.Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const targetColumns = `id, name, url, check_interval_seconds, is_running, expected_status_code,
       consecutive_failures, active_alert, created_at, updated_at`

// ---- TargetStore ----

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	if t.ID == "" {
		t.ID = domain.NewTargetID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO targets (id, name, url, check_interval_seconds, is_running, expected_status_code,
		                      consecutive_failures, active_alert, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(t.ID), t.Name, t.URL, t.CheckIntervalSeconds, t.IsRunning, t.ExpectedStatusCode,
		t.ConsecutiveFailures, t.ActiveAlert, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetColumns+`
		   FROM targets
		  ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return s.getOne(ctx, s.pool, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, string(id))
}

func (s *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	return s.getOne(ctx, s.pool, `SELECT `+targetColumns+` FROM targets WHERE url = $1`, url)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) getOne(ctx context.Context, q querier, sql string, arg any) (*domain.Target, error) {
	t, err := scanTarget(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

// Patch applies p under a row lock so concurrent per-field writes are not lost.
func (s *Store) Patch(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (*domain.Target, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := s.getOne(ctx, tx, `SELECT `+targetColumns+` FROM targets WHERE id = $1 FOR UPDATE`, string(id))
	if err != nil {
		return nil, err
	}
	p.Apply(t)
	t.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE targets
		    SET name = $2, url = $3, check_interval_seconds = $4, expected_status_code = $5,
		        active_alert = $6, updated_at = $7
		  WHERE id = $1`,
		string(id), t.Name, t.URL, t.CheckIntervalSeconds, t.ExpectedStatusCode, t.ActiveAlert, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repo.ErrConflict
		}
		return nil, fmt.Errorf("patch target: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateTargetRunState(ctx context.Context, id domain.TargetID, isRunning bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE targets SET is_running = $2, updated_at = now() WHERE id = $1`,
		string(id), isRunning)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- ResultStore ----

func (s *Store) InsertCheckRecord(ctx context.Context, r *domain.CheckRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO check_records
		   (target_id, checked_at, http_status, response_time_ms, is_up, reason)
		 VALUES
		   ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		string(r.TargetID), r.Timestamp, r.HTTPStatus, r.ResponseTimeMS, r.IsUp, r.Reason,
	).Scan(&r.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return repo.ErrNotFound
		}
		return fmt.Errorf("insert check record: %w", err)
	}
	return nil
}

func (s *Store) ListCheckRecords(ctx context.Context, id domain.TargetID, limit int) ([]domain.CheckRecord, error) {
	sql := `SELECT id, target_id, checked_at, http_status, response_time_ms, is_up, reason
	          FROM check_records
	         WHERE target_id = $1
	         ORDER BY checked_at DESC, id DESC`
	args := []any{string(id)}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list check records: %w", err)
	}
	defer rows.Close()

	var out []domain.CheckRecord
	for rows.Next() {
		var (
			r        domain.CheckRecord
			targetID string
		)
		if err := rows.Scan(&r.ID, &targetID, &r.Timestamp, &r.HTTPStatus, &r.ResponseTimeMS, &r.IsUp, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan check record: %w", err)
		}
		r.TargetID = domain.TargetID(targetID)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanTarget(row pgx.Row) (*domain.Target, error) {
	var (
		t  domain.Target
		id string
	)
	err := row.Scan(&id, &t.Name, &t.URL, &t.CheckIntervalSeconds, &t.IsRunning, &t.ExpectedStatusCode,
		&t.ConsecutiveFailures, &t.ActiveAlert, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = domain.TargetID(id)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
