package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mercato/mercato-backend/internal/bootstrap"
	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/migrate"
)

// gooseCommands pass straight through to goose.
var gooseCommands = map[string]bool{
	"up":        true,
	"up-by-one": true,
	"down":      true,
	"redo":      true,
	"status":    true,
}

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|up-by-one|down|redo|status|version|create|validate")
	dir := flag.String("dir", "", "goose migrations directory (default: embedded; create and validate use "+migrate.DefaultDir+")")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")

	flag.Parse()

	rt, err := bootstrap.Load("migrate")
	if err != nil {
		bootstrap.Exit("migrate", nil, err)
	}
	cfg, logg := rt.Config, rt.Logger

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	switch *cmd {
	case "create", "validate":
		if *dir == "" {
			*dir = migrate.DefaultDir
		}
	}

	switch *cmd {
	case "create":
		if *name == "" {
			fmt.Fprintln(os.Stderr, "missing -name for create")
			os.Exit(1)
		}
		logg.Info(ctx, "migrate ready")
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		logg.Info(ctx, "migrate ready")
		if err := migrate.ValidateDir(*dir); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")

	var steps []migrate.Step
	switch {
	case gooseCommands[*cmd]:
		steps, err = migrate.Run(ctx, sqlDB, *dir, *cmd)
	case *cmd == "version":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		steps, err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *version)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	printSteps(steps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func printSteps(steps []migrate.Step) {
	for _, st := range steps {
		state := "pending"
		if st.Applied {
			state = "applied"
		}
		fmt.Printf("%-14d %-8s %s", st.Version, state, st.Path)
		if st.Duration > 0 {
			fmt.Printf(" (%s)", st.Duration)
		}
		fmt.Println()
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
