package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/grufocom/postsible/config"
	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/metrics"
	"github.com/grufocom/postsible/pkg/passhash"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL backend behind a Database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Database is the account store: domains, mailboxes and aliases.
type Database struct {
	DB      *sql.DB
	Dialect Dialect

	hasher       passhash.Hasher
	queryTimeout time.Duration
	logQueries   bool
	pgPool       *pgxpool.Pool
}

// NewDatabaseFromConfig connects to the configured backend and, when
// auto_migrate is set, applies pending migrations first.
func NewDatabaseFromConfig(ctx context.Context, cfg *config.DatabaseConfig, hasher passhash.Hasher) (*Database, error) {
	dialect := Dialect(cfg.Driver)

	if cfg.AutoMigrate {
		timeout, err := cfg.GetMigrationTimeout()
		if err != nil {
			return nil, fmt.Errorf("invalid migration_timeout: %w", err)
		}
		migrateCtx, cancel := context.WithTimeout(ctx, timeout)
		err = MigrateUp(migrateCtx, cfg)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	queryTimeout, err := cfg.GetQueryTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid query_timeout: %w", err)
	}
	lifetime, err := cfg.GetMaxConnLifetime()
	if err != nil {
		return nil, fmt.Errorf("invalid max_conn_lifetime: %w", err)
	}

	d := &Database{
		Dialect:      dialect,
		hasher:       hasher,
		queryTimeout: queryTimeout,
		logQueries:   cfg.Debug,
	}

	switch dialect {
	case Postgres:
		connString, err := postgresConnString(cfg)
		if err != nil {
			return nil, err
		}
		poolConfig, err := pgxpool.ParseConfig(connString)
		if err != nil {
			return nil, fmt.Errorf("unable to parse connection string: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolConfig.MaxConns = int32(cfg.MaxConns)
		}
		poolConfig.MaxConnLifetime = lifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		d.pgPool = pool
		d.DB = stdlib.OpenDBFromPool(pool)
	default:
		sqlDB, err := OpenSQL(cfg)
		if err != nil {
			return nil, err
		}
		if dialect == MySQL {
			if cfg.MaxConns > 0 {
				sqlDB.SetMaxOpenConns(cfg.MaxConns)
			}
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
			sqlDB.SetConnMaxLifetime(lifetime)
		}
		d.DB = sqlDB
	}

	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	logger.Info("Database: connected", "driver", dialect, "target", describeTarget(cfg))
	return d, nil
}

// New wraps an already opened handle. Used by tests and tools that manage
// the connection themselves.
func New(sqlDB *sql.DB, dialect Dialect, hasher passhash.Hasher) *Database {
	return &Database{DB: sqlDB, Dialect: dialect, hasher: hasher, queryTimeout: 30 * time.Second}
}

// WithHasher returns a copy of db that hashes passwords with h.
func (db *Database) WithHasher(h passhash.Hasher) *Database {
	clone := *db
	clone.hasher = h
	return &clone
}

// OpenSQL opens a plain database/sql handle for the configured backend.
// PostgreSQL handles go through the pgx stdlib driver.
func OpenSQL(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch Dialect(cfg.Driver) {
	case Postgres:
		connString, err := postgresConnString(cfg)
		if err != nil {
			return nil, err
		}
		return sql.Open("pgx", connString)
	case MySQL:
		mc, err := mysqlConfig(cfg)
		if err != nil {
			return nil, err
		}
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql configuration: %w", err)
		}
		return sql.OpenDB(connector), nil
	case SQLite:
		sqlDB, err := sql.Open("sqlite", SQLiteDSN(cfg.Path))
		if err != nil {
			return nil, err
		}
		// One writer at a time; busy_timeout covers other processes.
		sqlDB.SetMaxOpenConns(1)
		return sqlDB, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// SQLiteDSN returns a modernc.org/sqlite DSN with foreign keys enforced.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func postgresConnString(cfg *config.DatabaseConfig) (string, error) {
	port, err := cfg.GetPort()
	if err != nil {
		return "", err
	}
	if port == "" {
		port = "5432"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid port value '%s': %v", port, err)
	}
	sslMode := "disable"
	if cfg.TLSMode {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String(), nil
}

func mysqlConfig(cfg *config.DatabaseConfig) (*mysql.Config, error) {
	port, err := cfg.GetPort()
	if err != nil {
		return nil, err
	}
	if port == "" {
		port = "3306"
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.MultiStatements = true
	mc.Collation = "utf8mb4_unicode_ci"
	// UPDATE reports matched rather than changed rows, so a no-op toggle
	// is not mistaken for a missing mailbox.
	mc.ClientFoundRows = true
	if strings.HasPrefix(cfg.Host, "/") {
		mc.Net = "unix"
		mc.Addr = cfg.Host
	} else {
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, port)
	}
	if cfg.TLSMode {
		mc.TLSConfig = "true"
	}
	return mc, nil
}

func describeTarget(cfg *config.DatabaseConfig) string {
	if Dialect(cfg.Driver) == SQLite {
		return cfg.Path
	}
	port, _ := cfg.GetPort()
	return fmt.Sprintf("%s@%s:%s/%s", cfg.User, cfg.Host, port, cfg.Name)
}

func (db *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.DB.PingContext(ctx)
}

func (db *Database) Close() error {
	err := db.DB.Close()
	if db.pgPool != nil {
		db.pgPool.Close()
	}
	return err
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL. Queries in
// this package never contain a literal question mark.
func (db *Database) rebind(query string) string {
	if db.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.queryTimeout)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *Database) observe(operation string, start time.Time, err error, query string) {
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil && err != sql.ErrNoRows {
		status = "failure"
	}
	metrics.DBQueriesTotal.WithLabelValues(operation, status).Inc()
	if db.logQueries {
		logger.Debug("Database: query", "operation", operation, "sql", query, "duration", time.Since(start), "error", err)
	}
}

// timedExec runs a statement and translates constraint violations.
func (db *Database) timedExec(ctx context.Context, q querier, operation, query string, args ...any) (sql.Result, error) {
	query = db.rebind(query)
	start := time.Now()
	res, err := q.ExecContext(ctx, query, args...)
	db.observe(operation, start, err, query)
	return res, db.translateError(err)
}

func (db *Database) timedQuery(ctx context.Context, q querier, operation, query string, args ...any) (*sql.Rows, error) {
	query = db.rebind(query)
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args...)
	db.observe(operation, start, err, query)
	return rows, db.translateError(err)
}

// timedScan runs a single-row query and scans it into dest.
func (db *Database) timedScan(ctx context.Context, q querier, operation, query string, args []any, dest ...any) error {
	query = db.rebind(query)
	start := time.Now()
	err := q.QueryRowContext(ctx, query, args...).Scan(dest...)
	db.observe(operation, start, err, query)
	return db.translateError(err)
}

// measuredTx wraps a sql.Tx to record metrics on commit or rollback.
type measuredTx struct {
	*sql.Tx
	start time.Time
	done  bool
}

// BeginTx starts a new transaction and wraps it for metric collection.
func (db *Database) BeginTx(ctx context.Context) (*measuredTx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &measuredTx{Tx: tx, start: time.Now()}, nil
}

func (mtx *measuredTx) Commit() error {
	err := mtx.Tx.Commit()
	if err == nil {
		metrics.DBTransactionsTotal.WithLabelValues("commit").Inc()
		metrics.DBTransactionDuration.Observe(time.Since(mtx.start).Seconds())
	}
	mtx.done = err == nil
	return err
}

// Rollback is safe to defer; it does nothing after a successful Commit.
func (mtx *measuredTx) Rollback() error {
	if mtx.done {
		return nil
	}
	mtx.done = true
	err := mtx.Tx.Rollback()
	metrics.DBTransactionsTotal.WithLabelValues("rollback").Inc()
	metrics.DBTransactionDuration.Observe(time.Since(mtx.start).Seconds())
	return err
}

// recordOperation counts one account store call by outcome.
func recordOperation(entity, operation string, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, consts.ErrValidation):
		result = "validation"
	case errors.Is(err, consts.ErrNotFound):
		result = "not_found"
	case errors.Is(err, consts.ErrConflict):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.AccountOperations.WithLabelValues(entity, operation, result).Inc()
}
