package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/grufocom/postsible/db"
)

const timeLayout = "2006-01-02 15:04:05"

func handleDomainsCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printDomainsUsage, map[string]func(context.Context, []string, io.Writer) error{
		"list":   handleListDomains,
		"add":    handleAddDomain,
		"remove": handleRemoveDomain,
	})
}

func printDomainsUsage(out io.Writer) {
	fmt.Fprint(out, `Domain Management

Usage:
  postsible-admin domains <subcommand> [options]

Subcommands:
  list             List all domains
  add <domain>     Create a domain
  remove <domain>  Remove a domain without mailboxes (its aliases go with it)

Examples:
  postsible-admin domains list --output json
  postsible-admin domains add example.com
`)
}

func handleListDomains(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("domains list", "[options]", out)
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		domains, err := database.ListDomains(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(domains))
		for _, d := range domains {
			rows = append(rows, []string{d.Name, formatTime(d.CreatedAt)})
		}
		return s.table(domains, []string{"DOMAIN", "CREATED"}, rows)
	})
}

func handleAddDomain(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("domains add", "[options] <domain>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.AddDomain(ctx, flags.fs.Arg(0)); err != nil {
			return err
		}
		return s.result("Domain %s created", flags.fs.Arg(0))
	})
}

func handleRemoveDomain(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("domains remove", "[options] <domain>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.RemoveDomain(ctx, flags.fs.Arg(0)); err != nil {
			return err
		}
		return s.result("Domain %s removed", flags.fs.Arg(0))
	})
}

func handleUsersCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printUsersUsage, map[string]func(context.Context, []string, io.Writer) error{
		"list":    handleListUsers,
		"add":     handleAddUser,
		"remove":  handleRemoveUser,
		"enable":  handleEnableUser,
		"disable": handleDisableUser,
		"passwd":  handleChangePassword,
		"quota":   handleSetQuota,
	})
}

func handleEnableUser(ctx context.Context, args []string, out io.Writer) error {
	return handleSetUserEnabled(ctx, args, out, true)
}

func handleDisableUser(ctx context.Context, args []string, out io.Writer) error {
	return handleSetUserEnabled(ctx, args, out, false)
}

func printUsersUsage(out io.Writer) {
	fmt.Fprint(out, `Mailbox Management

Usage:
  postsible-admin users <subcommand> [options]

Subcommands:
  list [--domain d]                      List mailboxes, optionally of one domain
  add --email e --password p             Create a mailbox in an existing domain
  remove <email>                         Remove a mailbox
  enable <email>                         Allow the mailbox to log in and receive mail
  disable <email>                        Block the mailbox without deleting it
  passwd --email e --password p          Set a new password
  quota --email e --bytes n              Set the quota in bytes (0 = unlimited)

Examples:
  postsible-admin users add --email bob@example.com --password secret
  postsible-admin users quota --email bob@example.com --bytes 1073741824
`)
}

func handleListUsers(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("users list", "[options]", out)
	domain := flags.fs.String("domain", "", "Only list mailboxes of this domain")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		mailboxes, err := database.ListMailboxes(ctx, *domain)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(mailboxes))
		for _, m := range mailboxes {
			rows = append(rows, []string{m.Email, formatQuota(m.Quota), formatEnabled(m.Enabled), formatTime(m.CreatedAt)})
		}
		return s.table(mailboxes, []string{"EMAIL", "QUOTA", "STATUS", "CREATED"}, rows)
	})
}

func handleAddUser(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("users add", "--email <address> --password <password> [options]", out)
	email := flags.fs.String("email", "", "Address of the new mailbox (required)")
	password := flags.fs.String("password", "", "Initial password (required)")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if err := flags.required("email", "password"); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.AddMailbox(ctx, *email, *password); err != nil {
			return err
		}
		return s.result("User %s created", *email)
	})
}

func handleRemoveUser(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("users remove", "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.RemoveMailbox(ctx, flags.fs.Arg(0)); err != nil {
			return err
		}
		return s.result("User %s removed", flags.fs.Arg(0))
	})
}

func handleSetUserEnabled(ctx context.Context, args []string, out io.Writer, enabled bool) error {
	name, verb := "users disable", "disabled"
	if enabled {
		name, verb = "users enable", "enabled"
	}
	flags := newFlagSet(name, "[options] <email>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.SetMailboxEnabled(ctx, flags.fs.Arg(0), enabled); err != nil {
			return err
		}
		return s.result("User %s %s", flags.fs.Arg(0), verb)
	})
}

func handleChangePassword(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("users passwd", "--email <address> --password <password> [options]", out)
	email := flags.fs.String("email", "", "Mailbox address (required)")
	password := flags.fs.String("password", "", "New password (required)")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if err := flags.required("email", "password"); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.ChangePassword(ctx, *email, *password); err != nil {
			return err
		}
		return s.result("Password changed for %s", *email)
	})
}

func handleSetQuota(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("users quota", "--email <address> --bytes <n> [options]", out)
	email := flags.fs.String("email", "", "Mailbox address (required)")
	bytes := flags.fs.Int64("bytes", 0, "Quota in bytes, 0 for unlimited")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	if err := flags.required("email"); err != nil {
		return err
	}
	if !isFlagSet(flags.fs, "bytes") {
		fmt.Fprintf(out, "Error: --bytes is required\n\n")
		flags.fs.Usage()
		return errUsage
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.SetMailboxQuota(ctx, *email, *bytes); err != nil {
			return err
		}
		return s.result("Quota of %s set to %s", *email, formatQuota(*bytes))
	})
}

func handleAliasesCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printAliasesUsage, map[string]func(context.Context, []string, io.Writer) error{
		"list":   handleListAliases,
		"add":    handleAddAlias,
		"remove": handleRemoveAlias,
	})
}

func printAliasesUsage(out io.Writer) {
	fmt.Fprint(out, `Alias Management

Usage:
  postsible-admin aliases <subcommand> [options]

Subcommands:
  list [--domain d]              List aliases, optionally of one domain
  add <source> <destination>     Forward mail for source to destination
  remove <source>                Remove an alias

Examples:
  postsible-admin aliases add info@example.com bob@example.com
`)
}

func handleListAliases(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("aliases list", "[options]", out)
	domain := flags.fs.String("domain", "", "Only list aliases of this domain")
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		aliases, err := database.ListAliases(ctx, *domain)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(aliases))
		for _, a := range aliases {
			rows = append(rows, []string{a.Source, a.Destination})
		}
		return s.table(aliases, []string{"SOURCE", "DESTINATION"}, rows)
	})
}

func handleAddAlias(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("aliases add", "[options] <source> <destination>", out)
	if err := flags.parse(args, 2); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.AddAlias(ctx, flags.fs.Arg(0), flags.fs.Arg(1)); err != nil {
			return err
		}
		return s.result("Alias %s -> %s created", flags.fs.Arg(0), flags.fs.Arg(1))
	})
}

func handleRemoveAlias(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("aliases remove", "[options] <source>", out)
	if err := flags.parse(args, 1); err != nil {
		return err
	}
	return withAccounts(ctx, flags, out, func(s *session, database *db.Database) error {
		if err := database.RemoveAlias(ctx, flags.fs.Arg(0)); err != nil {
			return err
		}
		return s.result("Alias %s removed", flags.fs.Arg(0))
	})
}

// withAccounts opens a session and the account store around fn.
func withAccounts(ctx context.Context, flags *commonFlags, out io.Writer, fn func(*session, *db.Database) error) error {
	s, err := openSession(flags, out)
	if err != nil {
		return err
	}
	defer s.close()

	database, err := s.accounts(ctx)
	if err != nil {
		return err
	}
	return fn(s, database)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatQuota(bytes int64) string {
	if bytes == 0 {
		return "unlimited"
	}
	return strconv.FormatInt(bytes, 10)
}

func formatEnabled(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
