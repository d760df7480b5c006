package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/grufocom/postsible/consts"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MySQL server error numbers
const (
	mysqlDuplicateEntry   = 1062
	mysqlRowIsReferenced  = 1451 // delete blocked by a child row
	mysqlNoReferencedRow  = 1452 // insert references a missing parent
	mysqlRowIsReferenced2 = 1217
	mysqlNoReferencedRow2 = 1216
)

// translateError maps backend constraint violations onto
// consts.ErrDBUniqueViolation and consts.ErrDBForeignKeyViolation, keeping
// the driver error in the chain. Other errors pass through unchanged.
func (db *Database) translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %w", consts.ErrDBUniqueViolation, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %w", consts.ErrDBForeignKeyViolation, err)
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %w", consts.ErrDBUniqueViolation, err)
		case mysqlRowIsReferenced, mysqlNoReferencedRow, mysqlRowIsReferenced2, mysqlNoReferencedRow2:
			return fmt.Errorf("%w: %w", consts.ErrDBForeignKeyViolation, err)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", consts.ErrDBUniqueViolation, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %w", consts.ErrDBForeignKeyViolation, err)
		}
		// Primary result code only; classify by message.
		if liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			msg := liteErr.Error()
			switch {
			case strings.Contains(msg, "UNIQUE"):
				return fmt.Errorf("%w: %w", consts.ErrDBUniqueViolation, err)
			case strings.Contains(msg, "FOREIGN KEY"):
				return fmt.Errorf("%w: %w", consts.ErrDBForeignKeyViolation, err)
			}
		}
	}
	return err
}
