package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/helpers"
	"github.com/grufocom/postsible/logger"
)

// ListDomains returns all domains ordered by name.
func (db *Database) ListDomains(ctx context.Context) ([]Domain, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.timedQuery(ctx, db.DB, "list_domains",
		"SELECT id, name, created_at FROM domains ORDER BY LOWER(name), name")
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	domains := []Domain{}
	for rows.Next() {
		var d Domain
		var created timestamp
		if err := rows.Scan(&d.ID, &d.Name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		d.CreatedAt = created.Time
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating domains: %w", err)
	}
	return domains, nil
}

// AddDomain creates a domain. The name is validated and stored lowercase.
func (db *Database) AddDomain(ctx context.Context, name string) (err error) {
	defer func() { recordOperation("domain", "add", err) }()

	if strings.TrimSpace(name) == "" {
		return &consts.ValidationError{Field: "domain", Reason: "domain name cannot be empty"}
	}
	normalized, err := helpers.ValidateDomain(name)
	if err != nil {
		return &consts.ValidationError{Field: "domain", Reason: err.Error()}
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	_, err = db.timedExec(ctx, db.DB, "add_domain", "INSERT INTO domains (name) VALUES (?)", normalized)
	if err != nil {
		if errors.Is(err, consts.ErrDBUniqueViolation) {
			return &consts.ConflictError{Kind: "domain", Name: normalized}
		}
		return fmt.Errorf("failed to add domain: %w", err)
	}

	logger.Info("AccountStore: domain added", "domain", normalized)
	return nil
}

// RemoveDomain deletes a domain that no mailbox references. Aliases of the
// domain go with it.
func (db *Database) RemoveDomain(ctx context.Context, name string) (err error) {
	defer func() { recordOperation("domain", "remove", err) }()

	normalized := helpers.CanonicalDomain(name)
	if normalized == "" {
		return &consts.NotFoundError{Kind: "domain", Reason: "domain name cannot be empty"}
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var domainID int64
	err = db.timedScan(ctx, tx, "get_domain_id", "SELECT id FROM domains WHERE name = ?", []any{normalized}, &domainID)
	if errors.Is(err, sql.ErrNoRows) {
		return &consts.NotFoundError{Kind: "domain", Name: normalized}
	} else if err != nil {
		return fmt.Errorf("failed to look up domain: %w", err)
	}

	var count int
	err = db.timedScan(ctx, tx, "count_domain_mailboxes", "SELECT COUNT(*) FROM mailboxes WHERE domain_id = ?", []any{domainID}, &count)
	if err != nil {
		return fmt.Errorf("failed to count mailboxes: %w", err)
	}
	if count > 0 {
		return domainInUse(normalized, count)
	}

	res, err := db.timedExec(ctx, tx, "remove_domain", "DELETE FROM domains WHERE id = ?", domainID)
	if err != nil {
		// A mailbox added after the count is caught by the foreign key.
		if errors.Is(err, consts.ErrDBForeignKeyViolation) {
			return domainInUse(normalized, 0)
		}
		return fmt.Errorf("failed to remove domain: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &consts.NotFoundError{Kind: "domain", Name: normalized}
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(db.translateError(err), consts.ErrDBForeignKeyViolation) {
			return domainInUse(normalized, 0)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info("AccountStore: domain removed", "domain", normalized)
	return nil
}

func domainInUse(name string, count int) error {
	reason := fmt.Sprintf("Cannot delete domain with %d mailboxes. Delete mailboxes first.", count)
	if count == 0 {
		reason = "Cannot delete domain while mailboxes reference it. Delete mailboxes first."
	}
	return &consts.ConflictError{Kind: "domain", Name: name, Count: count, Reason: reason}
}

// domainID resolves a domain name, returning a NotFoundError with the
// operator-facing hint when it does not exist.
func (db *Database) domainID(ctx context.Context, q querier, name string) (int64, error) {
	var id int64
	err := db.timedScan(ctx, q, "get_domain_id", "SELECT id FROM domains WHERE name = ?", []any{name}, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, missingDomain(name)
	} else if err != nil {
		return 0, fmt.Errorf("failed to look up domain: %w", err)
	}
	return id, nil
}

func missingDomain(name string) error {
	return &consts.NotFoundError{
		Kind:   "domain",
		Name:   name,
		Reason: fmt.Sprintf("Domain %s does not exist. Create it first.", name),
	}
}
