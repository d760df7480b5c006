package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/helpers"
	"github.com/grufocom/postsible/logger"
)

// ListAliases follows the same shape rule as ListMailboxes.
func (db *Database) ListAliases(ctx context.Context, domain string) ([]Alias, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := "SELECT a.id, a.source, a.destination, d.name FROM aliases a JOIN domains d ON a.domain_id = d.id"
	var args []any
	domain = helpers.CanonicalDomain(domain)
	if domain != "" {
		query += " WHERE d.name = ?"
		args = append(args, domain)
	}
	query += " ORDER BY LOWER(a.source), a.source"

	rows, err := db.timedQuery(ctx, db.DB, "list_aliases", query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	aliases := []Alias{}
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.ID, &a.Source, &a.Destination, &a.Domain); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		if domain != "" {
			a.Domain = ""
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aliases: %w", err)
	}
	return aliases, nil
}

// AddAlias redirects source to destination. The source domain must exist;
// the destination may be any valid address.
func (db *Database) AddAlias(ctx context.Context, source, destination string) (err error) {
	defer func() { recordOperation("alias", "add", err) }()

	if strings.TrimSpace(source) == "" || strings.TrimSpace(destination) == "" {
		return &consts.ValidationError{Reason: "Source and destination are required"}
	}
	src, err := helpers.NewAddress(source)
	if err != nil {
		return &consts.ValidationError{Field: "source", Reason: err.Error()}
	}
	dst, err := helpers.NewAddress(destination)
	if err != nil {
		return &consts.ValidationError{Field: "destination", Reason: err.Error()}
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.timedExec(ctx, db.DB, "add_alias",
		"INSERT INTO aliases (domain_id, source, destination) SELECT id, ?, ? FROM domains WHERE name = ?",
		src.FullAddress(), dst.FullAddress(), src.Domain())
	if err != nil {
		if errors.Is(err, consts.ErrDBUniqueViolation) {
			return &consts.ConflictError{Kind: "alias", Name: src.FullAddress(), Reason: "Alias already exists"}
		}
		return fmt.Errorf("failed to create alias: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &consts.NotFoundError{
			Kind:   "domain",
			Name:   src.Domain(),
			Reason: fmt.Sprintf("Domain %s does not exist", src.Domain()),
		}
	}

	logger.Info("AccountStore: alias added", "source", src.FullAddress(), "destination", dst.FullAddress())
	return nil
}

// RemoveAlias deletes the alias for source.
func (db *Database) RemoveAlias(ctx context.Context, source string) (err error) {
	defer func() { recordOperation("alias", "remove", err) }()

	normalized := normalizeAddress(source)
	if normalized == "" {
		return &consts.ValidationError{Field: "source", Reason: "source is required"}
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.timedExec(ctx, db.DB, "remove_alias", "DELETE FROM aliases WHERE source = ?", normalized)
	if err != nil {
		return fmt.Errorf("failed to remove alias: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &consts.NotFoundError{Kind: "alias", Name: normalized, Reason: "Alias not found"}
	}

	logger.Info("AccountStore: alias removed", "source", normalized)
	return nil
}
