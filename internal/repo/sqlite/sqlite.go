// Package sqlite is the single-file storage engine. It is the default durable engine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the database file at path and migrates it.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("sqlite_opened", zap.String("path", path))
	return s, nil
}

// ensureDir creates the parent directory of a plain file path.
func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite dir %s: %w", dir, err)
	}
	return nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) Close() error { return s.db.Close() }

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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (id, name, url, check_interval_seconds, is_running, expected_status_code,
		                      consecutive_failures, active_alert, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), t.Name, t.URL, t.CheckIntervalSeconds, t.IsRunning, t.ExpectedStatusCode,
		t.ConsecutiveFailures, t.ActiveAlert, t.CreatedAt.UTC(), t.UpdatedAt,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets ORDER BY created_at DESC, id DESC`)
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
	return getOne(ctx, s.db, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, string(id))
}

func (s *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	return getOne(ctx, s.db, `SELECT `+targetColumns+` FROM targets WHERE url = ?`, url)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOne(ctx context.Context, q querier, query string, arg any) (*domain.Target, error) {
	t, err := scanTarget(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func (s *Store) Patch(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (*domain.Target, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	t, err := getOne(ctx, tx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	p.Apply(t)
	t.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE targets
		    SET name = ?, url = ?, check_interval_seconds = ?, expected_status_code = ?,
		        active_alert = ?, updated_at = ?
		  WHERE id = ?`,
		t.Name, t.URL, t.CheckIntervalSeconds, t.ExpectedStatusCode, t.ActiveAlert, t.UpdatedAt, string(id),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return nil, repo.ErrConflict
		}
		return nil, fmt.Errorf("patch target: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return affected(res)
}

func (s *Store) UpdateTargetRunState(ctx context.Context, id domain.TargetID, isRunning bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET is_running = ?, updated_at = ? WHERE id = ?`,
		isRunning, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return affected(res)
}

func (s *Store) UpdateTargetFailureState(ctx context.Context, id domain.TargetID, consecutiveFailures int, activeAlert bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET consecutive_failures = ?, active_alert = ?, updated_at = ? WHERE id = ?`,
		consecutiveFailures, activeAlert, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	return affected(res)
}

// ---- ResultStore ----

func (s *Store) InsertCheckRecord(ctx context.Context, r *domain.CheckRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO check_records (target_id, checked_at, http_status, response_time_ms, is_up, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(r.TargetID), r.Timestamp.UTC(), r.HTTPStatus, r.ResponseTimeMS, r.IsUp, r.Reason,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("insert check record: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("check record id: %w", err)
	}
	return nil
}

func (s *Store) ListCheckRecords(ctx context.Context, id domain.TargetID, limit int) ([]domain.CheckRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, checked_at, http_status, response_time_ms, is_up, reason
		   FROM check_records
		  WHERE target_id = ?
		  ORDER BY checked_at DESC, id DESC
		  LIMIT ?`, string(id), limit)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (*domain.Target, error) {
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

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	for _, c := range codes {
		if sqErr.ExtendedCode == c {
			return true
		}
	}
	return false
}
