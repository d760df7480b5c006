package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/grufocom/postsible/config"
	"github.com/grufocom/postsible/db"
	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/passhash"
	"github.com/grufocom/postsible/server/sievemanager"
)

// session holds what one command invocation needs. Stores are opened on
// first use and closed by close.
type session struct {
	cfg     config.Config
	out     io.Writer
	format  string
	db      *db.Database
	filters *sievemanager.Manager
}

// openSession loads the configuration named by the common flags. A missing
// default file is only a warning; a missing explicit one is an error.
func openSession(flags *commonFlags, out io.Writer) (*session, error) {
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(*flags.configPath, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || isFlagSet(flags.fs, "config") {
			return nil, fmt.Errorf("failed to load configuration file '%s': %w", *flags.configPath, err)
		}
		fmt.Fprintf(os.Stderr, "WARNING: default configuration file '%s' not found. Using defaults.\n", *flags.configPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Commands print their own results; library logs only surface warnings.
	level := logger.ParseLevel(cfg.Logging.Level)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger.SetOutput(os.Stderr, level)

	format := cfg.AdminCLI.Output
	if *flags.output != "" {
		format = *flags.output
	}
	switch format {
	case "", "table":
		format = "table"
	case "json":
	default:
		return nil, fmt.Errorf("unsupported output format %q (expected table or json)", format)
	}

	return &session{cfg: cfg, out: out, format: format}, nil
}

func (s *session) accounts(ctx context.Context) (*db.Database, error) {
	if s.db != nil {
		return s.db, nil
	}
	creds := s.cfg.Credentials
	timeout, err := creds.GetHasherTimeout()
	if err != nil {
		return nil, err
	}
	hasher := passhash.New(creds.HasherPath, creds.HasherArgs, timeout, creds.Rounds, creds.SchemePrefix)
	database, err := db.NewDatabaseFromConfig(ctx, &s.cfg.Database, hasher)
	if err != nil {
		return nil, err
	}
	s.db = database
	return database, nil
}

// mailboxFilters returns the filter pipeline after confirming the mailbox
// exists in the account store.
func (s *session) mailboxFilters(ctx context.Context, email string) (*sievemanager.Manager, error) {
	database, err := s.accounts(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := database.GetMailbox(ctx, email); err != nil {
		return nil, err
	}
	if s.filters == nil {
		manager, err := sievemanager.NewFromConfig(&s.cfg.Sieve)
		if err != nil {
			return nil, err
		}
		s.filters = manager
	}
	return s.filters, nil
}

func (s *session) close() {
	if s.db != nil {
		s.db.Close()
	}
}

// printf writes human output. JSON mode suppresses it.
func (s *session) printf(format string, args ...any) {
	if s.format == "json" {
		return
	}
	fmt.Fprintf(s.out, format, args...)
}

// result prints a confirmation message, as {"success": true, "message": ...}
// in JSON mode.
func (s *session) result(format string, args ...any) error {
	message := fmt.Sprintf(format, args...)
	if s.format == "json" {
		return s.writeJSON(map[string]any{"success": true, "message": message})
	}
	_, err := fmt.Fprintln(s.out, message)
	return err
}

// table prints rows under header, or v as JSON.
func (s *session) table(v any, header []string, rows [][]string) error {
	if s.format == "json" {
		return s.writeJSON(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(s.out, "No entries found.")
		return err
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (s *session) writeJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
