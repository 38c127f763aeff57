package memory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// openDB opens (creating if absent) a single-file sqlite database at path
// and runs every pending forward migration embedded in migrationsFS. It
// refuses to proceed if the database's recorded schema version is ahead of
// the migrations this binary knows about, since the store never supports
// downgrade (SPEC_FULL.md §4.4).
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// sqlite allows exactly one writer; serialize through a single
	// connection rather than let database/sql hand out concurrent ones
	// that would collide on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrationsFS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	latest := latestMigrationVersion(provider)
	if current > latest {
		db.Close()
		return nil, fmt.Errorf("memory store schema version %d is newer than the %d this binary knows about (refusing downgrade)", current, latest)
	}

	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return db, nil
}

func latestMigrationVersion(provider *goose.Provider) int64 {
	sources := provider.ListSources()
	var max int64
	for _, s := range sources {
		if s.Version > max {
			max = s.Version
		}
	}
	return max
}
