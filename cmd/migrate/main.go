package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/inventory-service/pkg/config"
	"github.com/angelmondragon/inventory-service/pkg/db"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands work on the migrations directory only.
var offline = map[string]func(opts options) error{
	"create": func(opts options) error {
		if opts.name == "" {
			return fmt.Errorf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(opts options) error {
		count, err := migrate.ValidateDir(opts.dir)
		if err != nil {
			return err
		}
		fmt.Printf("migration validation passed (%d files)\n", count)
		return nil
	},
}

// online commands need a database connection.
var online = map[string]func(ctx context.Context, sqlDB *sql.DB, opts options) error{
	"up": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		return migrate.Run(ctx, sqlDB, opts.dir, "up")
	},
	"down": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		return migrate.Run(ctx, sqlDB, opts.dir, "down")
	},
	"status": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		return migrate.Run(ctx, sqlDB, opts.dir, "status")
	},
	"current": func(_ context.Context, sqlDB *sql.DB, opts options) error {
		current, err := migrate.Version(sqlDB, opts.dir)
		if err != nil {
			return err
		}
		fmt.Println("current version:", current)
		return nil
	},
	"version": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		if opts.version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	},
}

func main() {
	cmd := flag.String("cmd", "up", "migration command: "+strings.Join(commandNames(), "|"))
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if err := run(*cmd, opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func run(cmd string, opts options) error {
	if fn, ok := offline[cmd]; ok {
		return fn(opts)
	}
	fn, ok := online[cmd]
	if !ok {
		return fmt.Errorf("unknown -cmd value %q", cmd)
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.SQLDB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	logg.Info(ctx, "migrate ready")
	return fn(ctx, sqlDB, opts)
}

func commandNames() []string {
	names := make([]string, 0, len(offline)+len(online))
	for name := range offline {
		names = append(names, name)
	}
	for name := range online {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
