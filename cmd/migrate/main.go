package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/migrate"
)

const usage = "usage: migrate [up|down|redo|status|version|to <version>|create <name>|validate]"

func main() {
	dir := flag.String("dir", migrate.SourceDir, "migrations source directory for create and validate")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "cmd", cmd)

	// the offline commands work on the source tree, not the database
	switch cmd {
	case "create":
		path, err := migrate.CreateSQLMigration(*dir, flag.Arg(1), time.Now())
		exitOn(ctx, logg, "create migration", err)
		fmt.Println(path)
		return
	case "validate":
		exitOn(ctx, logg, "validate migrations", migrate.Validate(os.DirFS(*dir)))
		logg.Info(ctx, "migrations valid")
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	exitOn(ctx, logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{"cmd": cmd, "env": cfg.App.Env})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(ctx, logg, "connect database", err)
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(ctx, logg, "extract sql.DB", err)

	runner, err := migrate.NewRunner(sqlDB, goose.DialectPostgres, migrate.Embedded(), logg)
	exitOn(ctx, logg, "build runner", err)

	switch cmd {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "redo":
		err = runner.Redo(ctx)
	case "version":
		var v int64
		if v, err = runner.Version(ctx); err == nil {
			fmt.Println(v)
		}
	case "to":
		var target int64
		target, err = strconv.ParseInt(flag.Arg(1), 10, 64)
		if err != nil {
			err = fmt.Errorf("target version %q: %w", flag.Arg(1), err)
			break
		}
		err = runner.To(ctx, target)
	case "status":
		err = printStatus(ctx, runner)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	exitOn(ctx, logg, cmd, err)
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	statuses, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return w.Flush()
}

func exitOn(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, step+" failed", err)
	os.Exit(1)
}
