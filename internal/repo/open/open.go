// Package open picks a storage engine from a database URL.
package open

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
	"github.com/hamed0406/uptimemonitor/internal/repo/postgres"
	"github.com/hamed0406/uptimemonitor/internal/repo/sqlite"
)

// DefaultSQLitePath is where state lives when no DATABASE_URL is configured.
const DefaultSQLitePath = "data/uptime.db"

// Engine names the storage engine a URL resolves to.
func Engine(databaseURL string) string {
	switch {
	case databaseURL == "memory://", databaseURL == "memory":
		return "memory"
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

// Open returns the store for databaseURL:
//
//	""                         SQLite file at DefaultSQLitePath
//	memory://                  in-memory (nothing survives a restart)
//	postgres://, postgresql:// Postgres via pgxpool
//	sqlite://path, file:path   SQLite file
//	anything else              treated as a SQLite file path
func Open(ctx context.Context, databaseURL string, log *zap.Logger) (repo.Store, error) {
	switch Engine(databaseURL) {
	case "memory":
		log.Warn("storage_in_memory", zap.String("hint", "schedules and targets are lost on restart"))
		return memory.New(), nil
	case "postgres":
		s, err := postgres.New(ctx, databaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.Open(ctx, sqlitePath(databaseURL), log)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, nil
	}
}

func sqlitePath(databaseURL string) string {
	if databaseURL == "" {
		return DefaultSQLitePath
	}
	for _, p := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(databaseURL, p) {
			return strings.TrimPrefix(databaseURL, p)
		}
	}
	return databaseURL // file: URIs are understood by the driver as-is
}
