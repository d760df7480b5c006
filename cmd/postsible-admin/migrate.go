package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/grufocom/postsible/db"
	"github.com/grufocom/postsible/logger"
)

func handleMigrateCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printMigrateUsage, map[string]func(context.Context, []string, io.Writer) error{
		"up":      handleMigrateUp,
		"down":    handleMigrateDown,
		"version": handleMigrateVersion,
		"force":   handleMigrateForce,
	})
}

func printMigrateUsage(out io.Writer) {
	fmt.Fprint(out, `Database Schema Migration Management

Schema changes take an exclusive lock (advisory lock on PostgreSQL, GET_LOCK on
MySQL) so two migrations never run at once. SQLite relies on its file lock.

Usage:
  postsible-admin migrate <subcommand> [options]

Subcommands:
  up        Apply all pending upwards migrations
  down      Revert migrations
  version   Show the current migration version and dirty state
  force     Force the database to a specific version (for fixing dirty states)

Examples:
  postsible-admin migrate up
  postsible-admin migrate down --limit 2
  postsible-admin migrate down --all
  postsible-admin migrate version
  postsible-admin migrate force 1
`)
}

func handleMigrateUp(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("migrate up", "[options]", out)
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	return withMigrate(ctx, flags, out, true, func(s *session, m *migrate.Migrate) error {
		s.printf("Applying UP migrations...\n")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply UP migrations: %w", err)
		}
		s.printf("Migrations applied successfully.\n")
		return showVersion(s, m)
	})
}

func handleMigrateDown(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("migrate down", "[--limit N | --all] [options]", out)
	limit := flags.fs.Int("limit", 1, "Number of migrations to revert")
	all := flags.fs.Bool("all", false, "Revert all migrations")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if *limit < 1 {
		fmt.Fprintf(out, "Error: --limit must be at least 1\n\n")
		flags.fs.Usage()
		return errUsage
	}
	return withMigrate(ctx, flags, out, true, func(s *session, m *migrate.Migrate) error {
		if *all {
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				s.printf("No migrations to revert.\n")
				return showVersion(s, m)
			}
			if err != nil {
				return fmt.Errorf("failed to get current migration version: %w", err)
			}
			if dirty {
				return fmt.Errorf("database is in a dirty state (version %d); fix it with 'migrate force'", version)
			}
			s.printf("Reverting all migrations...\n")
			if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("failed to revert all migrations: %w", err)
			}
		} else {
			s.printf("Reverting %d migration(s)...\n", *limit)
			if err := m.Steps(-*limit); err != nil {
				return fmt.Errorf("failed to revert migrations: %w", err)
			}
		}
		s.printf("Migrations reverted successfully.\n")
		return showVersion(s, m)
	})
}

func handleMigrateVersion(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("migrate version", "[options]", out)
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	return withMigrate(ctx, flags, out, false, showVersion)
}

func handleMigrateForce(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("migrate force", "[options] <version>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	version, err := strconv.Atoi(flags.fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid version number: %w", err)
	}
	return withMigrate(ctx, flags, out, true, func(s *session, m *migrate.Migrate) error {
		s.printf("Forcing database version to %d...\n", version)
		if err := m.Force(version); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		s.printf("Version forced successfully.\n")
		return showVersion(s, m)
	})
}

// withMigrate runs fn against a migrate instance on its own connection,
// holding the migration lock when exclusive is set.
func withMigrate(ctx context.Context, flags *commonFlags, out io.Writer, exclusive bool, fn func(*session, *migrate.Migrate) error) error {
	s, err := openSession(flags, out)
	if err != nil {
		return err
	}
	defer s.close()

	dbCfg := &s.cfg.Database
	sqlDB, err := db.OpenSQL(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = sqlDB.PingContext(pingCtx)
	cancel()
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dialect := db.Dialect(dbCfg.Driver)
	m, err := db.NewMigrate(sqlDB, dialect)
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to initialize migration tool: %w", err)
	}
	defer m.Close()

	if exclusive {
		lock, err := acquireExclusiveLock(ctx, sqlDB, dialect)
		if err != nil {
			return err
		}
		// Released before m.Close closes the handle, on a fresh context so
		// cancellation does not leave the lock behind.
		defer releaseExclusiveLock(context.Background(), lock)
	}

	return fn(s, m)
}

func acquireExclusiveLock(ctx context.Context, sqlDB *sql.DB, dialect db.Dialect) (*db.MigrationLock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lock, err := db.AcquireMigrationLock(lockCtx, sqlDB, dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}
	logger.Info("Acquired exclusive database lock for migration")
	return lock, nil
}

func releaseExclusiveLock(ctx context.Context, lock *db.MigrationLock) {
	releaseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := lock.Release(releaseCtx); err != nil {
		logger.Warn("Failed to release migration lock", "error", err)
		return
	}
	logger.Info("Released exclusive database lock")
}

func showVersion(s *session, m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		if s.format == "json" {
			return s.writeJSON(map[string]any{"version": nil, "dirty": false})
		}
		_, err := fmt.Fprintln(s.out, "Current migration version: none")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if s.format == "json" {
		return s.writeJSON(map[string]any{"version": version, "dirty": dirty})
	}
	fmt.Fprintf(s.out, "Current migration version: %d\n", version)
	if dirty {
		fmt.Fprintln(s.out, "Dirty state: YES (Database may be in an inconsistent state. Use 'force' to fix.)")
	} else {
		fmt.Fprintln(s.out, "Dirty state: no")
	}
	return nil
}
