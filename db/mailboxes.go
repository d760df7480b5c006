package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/helpers"
	"github.com/grufocom/postsible/logger"
)

const mailboxColumns = "m.id, m.domain_id, m.email, d.name, m.quota, m.enabled, m.created_at"

// ListMailboxes returns the mailboxes of one domain, or of all domains when
// domain is empty. Only the all-domains listing fills in Mailbox.Domain.
func (db *Database) ListMailboxes(ctx context.Context, domain string) ([]Mailbox, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := "SELECT " + mailboxColumns + " FROM mailboxes m JOIN domains d ON m.domain_id = d.id"
	var args []any
	domain = helpers.CanonicalDomain(domain)
	if domain != "" {
		query += " WHERE d.name = ?"
		args = append(args, domain)
	}
	query += " ORDER BY LOWER(m.email), m.email"

	rows, err := db.timedQuery(ctx, db.DB, "list_mailboxes", query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	defer rows.Close()

	mailboxes := []Mailbox{}
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mailbox: %w", err)
		}
		if domain != "" {
			m.Domain = ""
		}
		mailboxes = append(mailboxes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mailboxes: %w", err)
	}
	return mailboxes, nil
}

func scanMailbox(row interface{ Scan(...any) error }, extra ...any) (Mailbox, error) {
	var m Mailbox
	var created timestamp
	dest := append([]any{&m.ID, &m.DomainID, &m.Email, &m.Domain, &m.Quota, &m.Enabled, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Mailbox{}, err
	}
	m.CreatedAt = created.Time
	return m, nil
}

// GetMailbox returns one mailbox including its password hash.
func (db *Database) GetMailbox(ctx context.Context, email string) (*Mailbox, error) {
	normalized := normalizeAddress(email)
	if normalized == "" {
		return nil, &consts.ValidationError{Field: "email", Reason: "email is required"}
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := db.rebind("SELECT " + mailboxColumns + ", m.password_hash FROM mailboxes m JOIN domains d ON m.domain_id = d.id WHERE m.email = ?")
	var hash string
	start := time.Now()
	m, err := scanMailbox(db.DB.QueryRowContext(ctx, query, normalized), &hash)
	db.observe("get_mailbox", start, err, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &consts.NotFoundError{Kind: "mailbox", Name: normalized}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}
	m.PasswordHash = hash
	return &m, nil
}

// AddMailbox creates a mailbox in an existing domain. The password is
// hashed before it reaches the store.
func (db *Database) AddMailbox(ctx context.Context, email, password string) (err error) {
	defer func() { recordOperation("mailbox", "add", err) }()

	if strings.TrimSpace(email) == "" || password == "" {
		return &consts.ValidationError{Reason: "Email and password are required"}
	}
	addr, err := helpers.NewAddress(email)
	if err != nil {
		return &consts.ValidationError{Field: "email", Reason: err.Error()}
	}

	if _, err := db.domainIDWithTimeout(ctx, addr.Domain()); err != nil {
		return err
	}

	hash, err := db.hasher.Hash(ctx, password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	// Resolving the domain inside the insert keeps it a single statement;
	// zero rows means the domain went away after the check above.
	res, err := db.timedExec(ctx, db.DB, "add_mailbox",
		"INSERT INTO mailboxes (domain_id, email, password_hash, quota, enabled) SELECT id, ?, ?, 0, TRUE FROM domains WHERE name = ?",
		addr.FullAddress(), hash, addr.Domain())
	if err != nil {
		if errors.Is(err, consts.ErrDBUniqueViolation) {
			return &consts.ConflictError{Kind: "mailbox", Name: addr.FullAddress(), Reason: "User already exists"}
		}
		return fmt.Errorf("failed to create mailbox: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return missingDomain(addr.Domain())
	}

	logger.Info("AccountStore: mailbox added", "email", addr.FullAddress())
	return nil
}

func (db *Database) domainIDWithTimeout(ctx context.Context, name string) (int64, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	return db.domainID(ctx, db.DB, name)
}

// RemoveMailbox deletes a mailbox. Its filter script tree on disk is left
// in place.
func (db *Database) RemoveMailbox(ctx context.Context, email string) (err error) {
	defer func() { recordOperation("mailbox", "remove", err) }()

	normalized := normalizeAddress(email)
	if normalized == "" {
		return &consts.ValidationError{Field: "email", Reason: "email is required"}
	}
	if err := db.updateMailbox(ctx, "remove_mailbox", normalized, "DELETE FROM mailboxes WHERE email = ?", normalized); err != nil {
		return err
	}
	logger.Info("AccountStore: mailbox removed", "email", normalized)
	return nil
}

// SetMailboxEnabled persists the enabled flag.
func (db *Database) SetMailboxEnabled(ctx context.Context, email string, enabled bool) (err error) {
	defer func() { recordOperation("mailbox", "set_enabled", err) }()

	normalized := normalizeAddress(email)
	if normalized == "" {
		return &consts.ValidationError{Field: "email", Reason: "email is required"}
	}
	if err := db.updateMailbox(ctx, "set_mailbox_enabled", normalized,
		"UPDATE mailboxes SET enabled = ? WHERE email = ?", enabled, normalized); err != nil {
		return err
	}
	logger.Info("AccountStore: mailbox enabled flag changed", "email", normalized, "enabled", enabled)
	return nil
}

// ChangePassword re-hashes and overwrites the stored password.
func (db *Database) ChangePassword(ctx context.Context, email, newPassword string) (err error) {
	defer func() { recordOperation("mailbox", "change_password", err) }()

	normalized := normalizeAddress(email)
	if normalized == "" || newPassword == "" {
		return &consts.ValidationError{Reason: "Email and password are required"}
	}

	hash, err := db.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := db.updateMailbox(ctx, "change_password", normalized,
		"UPDATE mailboxes SET password_hash = ? WHERE email = ?", hash, normalized); err != nil {
		return err
	}
	logger.Info("AccountStore: password changed", "email", normalized)
	return nil
}

// SetMailboxQuota sets the quota in bytes; 0 means unlimited.
func (db *Database) SetMailboxQuota(ctx context.Context, email string, quota int64) (err error) {
	defer func() { recordOperation("mailbox", "set_quota", err) }()

	normalized := normalizeAddress(email)
	if normalized == "" {
		return &consts.ValidationError{Field: "email", Reason: "email is required"}
	}
	if quota < 0 {
		return &consts.ValidationError{Field: "quota", Reason: "must not be negative"}
	}
	if err := db.updateMailbox(ctx, "set_mailbox_quota", normalized,
		"UPDATE mailboxes SET quota = ? WHERE email = ?", quota, normalized); err != nil {
		return err
	}
	logger.Info("AccountStore: quota changed", "email", normalized, "quota", quota)
	return nil
}

// updateMailbox runs a single-row statement keyed by email and reports a
// NotFoundError when nothing matched.
func (db *Database) updateMailbox(ctx context.Context, operation, email, query string, args ...any) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.timedExec(ctx, db.DB, operation, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update mailbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &consts.NotFoundError{Kind: "mailbox", Name: email, Reason: "User not found"}
	}
	return nil
}

func normalizeAddress(email string) string {
	return helpers.CanonicalAddress(email)
}
