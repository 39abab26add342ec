package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are created and validated on disk.
const DefaultDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Runner applies the migrations compiled into the binary.
type Runner struct {
	provider *goose.Provider
}

func NewRunner(db *sql.DB) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	sources, err := fs.Sub(embedded, embeddedDir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sources)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Runner{provider: provider}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	return r.provider.Up(ctx)
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) (*goose.MigrationResult, error) {
	return r.provider.Down(ctx)
}

func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	return r.provider.Status(ctx)
}

// To moves the schema up or down to version (YYYYMMDDHHMMSS).
func (r *Runner) To(ctx context.Context, version string) ([]*goose.MigrationResult, error) {
	target, err := parseVersion(version)
	if err != nil {
		return nil, err
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read db version: %w", err)
	}
	switch {
	case target > current:
		return r.provider.UpTo(ctx, target)
	case target < current:
		return r.provider.DownTo(ctx, target)
	default:
		return nil, nil
	}
}

// parseVersion accepts a migration timestamp, or 0 for an empty schema.
func parseVersion(raw string) (int64, error) {
	if raw == "0" {
		return 0, nil
	}
	if _, err := time.Parse(versionLayout, raw); err != nil {
		return 0, fmt.Errorf("version %q must be YYYYMMDDHHMMSS", raw)
	}
	return strconv.ParseInt(raw, 10, 64)
}
