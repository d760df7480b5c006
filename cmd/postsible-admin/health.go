package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grufocom/postsible/pkg/health"
)

func handleHealth(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("health", "[options]", out)
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	s, err := openSession(flags, out)
	if err != nil {
		return err
	}
	defer s.close()

	// A store that cannot be opened is reported as a failed check.
	ping := func(ctx context.Context) error {
		database, err := s.accounts(ctx)
		if err != nil {
			return err
		}
		return database.Ping(ctx)
	}
	report := health.Standard(&s.cfg, ping).Run(ctx)

	if s.format == "json" {
		if err := s.writeJSON(report); err != nil {
			return err
		}
	} else {
		names := make([]string, 0, len(report.Components))
		for name := range report.Components {
			names = append(names, name)
		}
		sort.Strings(names)

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			c := report.Components[name]
			kind := "optional"
			if c.Critical {
				kind = "critical"
			}
			rows = append(rows, []string{name, kind, string(c.Status), c.Error})
		}
		if err := s.table(report, []string{"COMPONENT", "KIND", "STATUS", "ERROR"}, rows); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nOverall: %s\n", report.Status)
	}

	if !report.Healthy() {
		return fmt.Errorf("unhealthy components: %v", report.Failed())
	}
	return nil
}
