package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/grufocom/postsible/config"
	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/logger"
)

// MigrationsFS holds one migrations directory per dialect.
//
//go:embed migrations
var MigrationsFS embed.FS

// NewMigrate builds a migrate instance over sqlDB. Closing the returned
// instance closes sqlDB as well.
func NewMigrate(sqlDB *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	migrations, err := fs.Sub(MigrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations subdirectory: %w", err)
	}
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source driver: %w", err)
	}

	var dbDriver database.Driver
	var name string
	switch dialect {
	case Postgres:
		dbDriver, err = pgxv5.WithInstance(sqlDB, &pgxv5.Config{})
		name = "pgx5"
	case MySQL:
		dbDriver, err = migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
		name = "mysql"
	case SQLite:
		dbDriver, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
		name = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, name, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrationLogger{}
	return m, nil
}

// MigrateUp applies all pending migrations on a dedicated connection.
func MigrateUp(ctx context.Context, cfg *config.DatabaseConfig) error {
	sqlDB, err := OpenSQL(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := NewMigrate(sqlDB, Dialect(cfg.Driver))
	if err != nil {
		sqlDB.Close()
		return err
	}
	defer m.Close()

	// Migrate does not take a context; stop it when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Info("Database: schema up to date", "version", version, "dirty", dirty)
	}
	return nil
}

// MigrationLock is an exclusive lock held by the admin tool while it changes
// the schema. It pins one connection for its whole lifetime.
type MigrationLock struct {
	conn    *sql.Conn
	dialect Dialect
}

// AcquireMigrationLock takes the lock without waiting. SQLite needs no lock
// beyond its own file locking, so the returned lock is a no-op there.
func AcquireMigrationLock(ctx context.Context, sqlDB *sql.DB, dialect Dialect) (*MigrationLock, error) {
	if dialect == SQLite {
		return &MigrationLock{dialect: dialect}, nil
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection for lock: %w", err)
	}

	var acquired bool
	switch dialect {
	case Postgres:
		err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", consts.MigrationAdvisoryLockID).Scan(&acquired)
	case MySQL:
		var res sql.NullInt64
		err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", consts.MySQLMigrationLockName).Scan(&res)
		acquired = res.Valid && res.Int64 == 1
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to query for migration lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, errors.New("could not acquire exclusive migration lock; is another postsible-admin migrate running?")
	}
	return &MigrationLock{conn: conn, dialect: dialect}, nil
}

// Release drops the lock and returns the pinned connection to the pool.
func (l *MigrationLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer l.conn.Close()

	var err error
	switch l.dialect {
	case Postgres:
		_, err = l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", consts.MigrationAdvisoryLockID)
	case MySQL:
		_, err = l.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", consts.MySQLMigrationLockName)
	}
	return err
}

type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...any) {
	logger.Infof("Database: migrate: "+format, v...)
}

func (migrationLogger) Verbose() bool {
	return false
}
