package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/grufocom/postsible/server/sievemanager"
)

func handleSignatureCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printSignatureUsage, map[string]func(context.Context, []string, io.Writer) error{
		"get":    handleGetSignature,
		"set":    handleSetSignature,
		"delete": handleDeleteSignature,
	})
}

func printSignatureUsage(out io.Writer) {
	fmt.Fprint(out, `Signature Management

Usage:
  postsible-admin signature <subcommand> [options]

Subcommands:
  get <email>                             Print the stored signature
  set --email e (--text t | --file path)  Store a signature and regenerate the filter script
  delete <email>                          Remove the signature

Examples:
  postsible-admin signature set --email bob@example.com --file ./signature.txt
`)
}

func handleGetSignature(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("signature get", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, flags.fs.Arg(0), func(s *session, filters *sievemanager.Manager, email string) error {
		signature, err := filters.GetSignature(ctx, email)
		if err != nil {
			return err
		}
		if s.format == "json" {
			return s.writeJSON(map[string]any{"signature": signature})
		}
		if signature == nil {
			_, err := fmt.Fprintln(out, "No signature set.")
			return err
		}
		_, err = fmt.Fprintln(out, *signature)
		return err
	})
}

func handleSetSignature(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("signature set", "--email <address> (--text <text> | --file <path>) [options]", out)
	email := flags.fs.String("email", "", "Mailbox address (required)")
	text := flags.fs.String("text", "", "Signature text")
	file := flags.fs.String("file", "", "Read the signature from this file")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if err := flags.required("email"); err != nil {
		return err
	}
	if isFlagSet(flags.fs, "text") == isFlagSet(flags.fs, "file") {
		fmt.Fprintf(out, "Error: exactly one of --text or --file is required\n\n")
		flags.fs.Usage()
		return errUsage
	}

	signature := *text
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("failed to read signature file: %w", err)
		}
		signature = string(data)
	}

	return withFilters(ctx, flags, out, *email, func(s *session, filters *sievemanager.Manager, email string) error {
		if err := filters.SetSignature(ctx, email, signature); err != nil {
			return err
		}
		return s.result("Signature saved for %s", email)
	})
}

func handleDeleteSignature(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("signature delete", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, flags.fs.Arg(0), func(s *session, filters *sievemanager.Manager, email string) error {
		if err := filters.DeleteSignature(ctx, email); err != nil {
			return err
		}
		return s.result("Signature deleted for %s", email)
	})
}

func handleVacationCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printVacationUsage, map[string]func(context.Context, []string, io.Writer) error{
		"get":     handleGetVacation,
		"set":     handleSetVacation,
		"disable": handleDisableVacation,
	})
}

func printVacationUsage(out io.Writer) {
	fmt.Fprint(out, `Vacation Auto-Reply Management

Usage:
  postsible-admin vacation <subcommand> [options]

Subcommands:
  get <email>        Show the stored auto-reply (an expired one is removed)
  set [options]      Store and activate an auto-reply
  disable <email>    Remove the auto-reply

Options for set:
  --email, --subject, --message, --start, --end (all required)

Dates are YYYY-MM-DD, YYYY-MM-DD HH:MM[:SS], the same with a T separator, or
RFC 3339. Values without an offset use sieve.timezone. The period may not
exceed sieve.max_vacation_days.

Examples:
  postsible-admin vacation set --email bob@example.com --subject "Away" \
      --message "Back on Monday" --start 2025-01-06 --end 2025-01-10
`)
}

func handleGetVacation(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("vacation get", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, flags.fs.Arg(0), func(s *session, filters *sievemanager.Manager, email string) error {
		vacation, err := filters.GetVacation(ctx, email)
		if err != nil {
			return err
		}
		if s.format == "json" {
			return s.writeJSON(map[string]any{"vacation": vacation})
		}
		if vacation == nil {
			_, err := fmt.Fprintln(out, "No vacation message set.")
			return err
		}
		return s.table(vacation, []string{"FIELD", "VALUE"}, [][]string{
			{"Subject", vacation.Subject},
			{"Message", vacation.Message},
			{"Start", vacation.StartDate},
			{"End", vacation.EndDate},
			{"Enabled", fmt.Sprintf("%t", vacation.Enabled)},
		})
	})
}

func handleSetVacation(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("vacation set", "--email <address> --subject <s> --message <m> --start <date> --end <date> [options]", out)
	email := flags.fs.String("email", "", "Mailbox address (required)")
	subject := flags.fs.String("subject", "", "Subject of the auto-reply (required)")
	message := flags.fs.String("message", "", "Body of the auto-reply (required)")
	start := flags.fs.String("start", "", "First day of the absence (required)")
	end := flags.fs.String("end", "", "Last day of the absence (required)")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if err := flags.required("email", "subject", "message", "start", "end"); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, *email, func(s *session, filters *sievemanager.Manager, email string) error {
		if err := filters.SetVacation(ctx, email, *subject, *message, *start, *end); err != nil {
			return err
		}
		return s.result("Vacation message activated for %s", email)
	})
}

func handleDisableVacation(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("vacation disable", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, flags.fs.Arg(0), func(s *session, filters *sievemanager.Manager, email string) error {
		if err := filters.DisableVacation(ctx, email); err != nil {
			return err
		}
		return s.result("Vacation message disabled for %s", email)
	})
}

func handleSieveCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printSieveUsage, map[string]func(context.Context, []string, io.Writer) error{
		"regenerate": handleRegenerate,
		"show":       handleShowScript,
		"preview":    handlePreview,
	})
}

func printSieveUsage(out io.Writer) {
	fmt.Fprint(out, `Filter Script Tools

Usage:
  postsible-admin sieve <subcommand> [options]

Subcommands:
  regenerate <email>              Rebuild, compile and activate the script from stored state
  show <email>                    Print the active script source
  preview --email e [--from f]    Show the auto-reply the active script would send

Examples:
  postsible-admin sieve regenerate bob@example.com
  postsible-admin sieve preview --email bob@example.com --from alice@example.org --subject "Hello"
`)
}

func handleRegenerate(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("sieve regenerate", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, flags.fs.Arg(0), func(s *session, filters *sievemanager.Manager, email string) error {
		if err := filters.Regenerate(ctx, email); err != nil {
			return err
		}
		return s.result("Filter script regenerated for %s", email)
	})
}

func handleShowScript(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("sieve show", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, flags.fs.Arg(0), func(s *session, filters *sievemanager.Manager, email string) error {
		script, err := filters.ActiveScript(ctx, email)
		if err != nil {
			return err
		}
		if s.format == "json" {
			return s.writeJSON(map[string]any{"script": script})
		}
		if script == "" {
			_, err := fmt.Fprintln(out, "No active filter script.")
			return err
		}
		_, err = fmt.Fprint(out, script)
		return err
	})
}

func handlePreview(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("sieve preview", "--email <address> [options]", out)
	email := flags.fs.String("email", "", "Mailbox whose active script is evaluated (required)")
	from := flags.fs.String("from", "sender@example.org", "Sender of the test message")
	subject := flags.fs.String("subject", "Test message", "Subject of the test message")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if err := flags.required("email"); err != nil {
		return err
	}
	return withFilters(ctx, flags, out, *email, func(s *session, filters *sievemanager.Manager, email string) error {
		reply, err := filters.Preview(ctx, email, sievemanager.TestMessage{From: *from, Subject: *subject})
		if err != nil {
			return err
		}
		if s.format == "json" {
			return s.writeJSON(map[string]any{"reply": reply})
		}
		if reply == nil {
			_, err := fmt.Fprintln(out, "No auto-reply would be sent.")
			return err
		}
		return s.table(reply, []string{"FIELD", "VALUE"}, [][]string{
			{"To", reply.To},
			{"Subject", reply.Subject},
			{"Body", reply.Body},
			{"Days", fmt.Sprintf("%d", reply.Days)},
		})
	})
}

// withFilters opens a session, confirms the mailbox exists and runs fn with
// the filter pipeline.
func withFilters(ctx context.Context, flags *commonFlags, out io.Writer, email string, fn func(*session, *sievemanager.Manager, string) error) error {
	s, err := openSession(flags, out)
	if err != nil {
		return err
	}
	defer s.close()

	filters, err := s.mailboxFilters(ctx, email)
	if err != nil {
		return err
	}
	return fn(s, filters, email)
}
