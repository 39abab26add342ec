package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/db"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/migrate"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up              apply every pending migration
  down            roll back the latest migration
  status          print applied and pending migrations
  to <version>    migrate up or down to YYYYMMDDHHMMSS
  create <name>   scaffold a new migration under -dir
  list            print migrations found under -dir
  validate        check filenames and goose markers under -dir`

type dbCommand func(ctx context.Context, r *migrate.Runner, arg string) error

var dbCommands = map[string]dbCommand{
	"up": func(ctx context.Context, r *migrate.Runner, _ string) error {
		results, err := r.Up(ctx)
		printResults(results)
		return err
	},
	"down": func(ctx context.Context, r *migrate.Runner, _ string) error {
		res, err := r.Down(ctx)
		if res != nil {
			printResults([]*goose.MigrationResult{res})
		}
		return err
	},
	"status": func(ctx context.Context, r *migrate.Runner, _ string) error {
		statuses, err := r.Status(ctx)
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%d  %-25s  %s\n", st.Source.Version, applied, filepath.Base(st.Source.Path))
		}
		return err
	},
	"to": func(ctx context.Context, r *migrate.Runner, version string) error {
		if version == "" {
			return errors.New("to requires a version")
		}
		results, err := r.To(ctx, version)
		printResults(results)
		return err
	},
}

func printResults(results []*goose.MigrationResult) {
	if len(results) == 0 {
		fmt.Println("nothing to do")
	}
	for _, res := range results {
		fmt.Printf("%-4s %d  %s  (%s)\n", res.Direction, res.Source.Version, filepath.Base(res.Source.Path), res.Duration.Round(time.Millisecond))
	}
}

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", migrate.DefaultDir, "migrations directory for create, list and validate")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	command, arg := flag.Arg(0), flag.Arg(1)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := runLocal(command, arg, *dir); err != errNotLocal {
		exitOn(err)
		return
	}

	run, ok := dbCommands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", command, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	exitOn(err)
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": command,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "sql handle unavailable", err)
		os.Exit(1)
	}
	runner, err := migrate.NewRunner(sqlDB)
	if err != nil {
		logg.Error(ctx, "migrations unavailable", err)
		os.Exit(1)
	}

	if err := run(ctx, runner, arg); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

var errNotLocal = errors.New("command needs a database")

// runLocal handles the commands that only touch the filesystem.
func runLocal(command, arg, dir string) error {
	switch command {
	case "create":
		if arg == "" {
			return errors.New("create requires a name")
		}
		path, err := migrate.Scaffold(dir, arg, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "list":
		files, err := migrate.List(os.DirFS(dir))
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%s  %s\n", f.Version, f.Name)
		}
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	default:
		return errNotLocal
	}
}

func exitOn(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "migrate:", err)
	os.Exit(1)
}
