package postgres

import (
	"context"
	"fmt"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"targets", `
CREATE TABLE IF NOT EXISTS targets (
  id                     TEXT PRIMARY KEY,
  name                   TEXT NOT NULL DEFAULT '',
  url                    TEXT NOT NULL UNIQUE,
  check_interval_seconds INTEGER NOT NULL,
  is_running             BOOLEAN NOT NULL DEFAULT TRUE,
  expected_status_code   INTEGER NULL,
  consecutive_failures   INTEGER NOT NULL DEFAULT 0,
  active_alert           BOOLEAN NOT NULL DEFAULT FALSE,
  created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"check_records", `
CREATE TABLE IF NOT EXISTS check_records (
  id               BIGSERIAL PRIMARY KEY,
  target_id        TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  checked_at       TIMESTAMPTZ NOT NULL,
  http_status      INTEGER NULL,
  response_time_ms BIGINT NOT NULL,
  is_up            BOOLEAN NOT NULL,
  reason           TEXT NOT NULL DEFAULT ''
)`},
	{"check_records_index", `
CREATE INDEX IF NOT EXISTS idx_check_records_target_time ON check_records (target_id, checked_at DESC)`},
	{"schedules", `
CREATE TABLE IF NOT EXISTS schedules (
  target_id              TEXT PRIMARY KEY,
  check_interval_seconds INTEGER NOT NULL,
  next_wake_at           TIMESTAMPTZ NULL,
  wake_token             TEXT NOT NULL DEFAULT '',
  last_handled_token     TEXT NOT NULL DEFAULT '',
  updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
}

// Migrate creates the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", m.name, err)
		}
	}
	return nil
}
