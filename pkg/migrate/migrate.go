package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are written during development.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Step describes one migration touched or inspected by a command.
type Step struct {
	Version  int64
	Path     string
	Applied  bool
	Duration time.Duration
}

func source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, source(dir))
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Run executes a goose command. An empty dir uses the embedded migrations.
// Supported commands are up, up-by-one, down, redo and status.
func Run(ctx context.Context, db *sql.DB, dir string, command string) ([]Step, error) {
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		return fromResults(results...), wrap(command, err)
	case "up-by-one":
		result, err := provider.UpByOne(ctx)
		return fromResults(result), wrap(command, err)
	case "down":
		result, err := provider.Down(ctx)
		return fromResults(result), wrap(command, err)
	case "redo":
		down, err := provider.Down(ctx)
		if err != nil {
			return fromResults(down), wrap(command, err)
		}
		up, err := provider.UpByOne(ctx)
		return fromResults(down, up), wrap(command, err)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, wrap(command, err)
		}
		steps := make([]Step, 0, len(statuses))
		for _, st := range statuses {
			steps = append(steps, Step{
				Version: st.Source.Version,
				Path:    st.Source.Path,
				Applied: st.State == goose.StateApplied,
			})
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("unsupported goose command %q", command)
	}
}

// MigrateToVersion moves the schema up or down to targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) ([]Step, error) {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err := provider.UpTo(ctx, target)
		return fromResults(results...), wrap("up-to", err)
	default:
		results, err := provider.DownTo(ctx, target)
		return fromResults(results...), wrap("down-to", err)
	}
}

func fromResults(results ...*goose.MigrationResult) []Step {
	steps := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		steps = append(steps, Step{
			Version:  r.Source.Version,
			Path:     r.Source.Path,
			Applied:  r.Direction == "up" && r.Error == nil,
			Duration: r.Duration,
		})
	}
	return steps
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
