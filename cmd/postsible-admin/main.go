package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	// errUsage means usage text was already printed.
	errUsage = errors.New("invalid usage")
	// errHelp ends a command after it printed its help.
	errHelp = errors.New("help requested")
)

const defaultConfigPath = "/etc/postsible/config.toml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, errHelp) {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "domains":
		return handleDomainsCommand(ctx, rest, out)
	case "users":
		return handleUsersCommand(ctx, rest, out)
	case "aliases":
		return handleAliasesCommand(ctx, rest, out)
	case "signature":
		return handleSignatureCommand(ctx, rest, out)
	case "vacation":
		return handleVacationCommand(ctx, rest, out)
	case "sieve":
		return handleSieveCommand(ctx, rest, out)
	case "migrate":
		return handleMigrateCommand(ctx, rest, out)
	case "config":
		return handleConfigCommand(ctx, rest, out)
	case "health":
		return handleHealth(ctx, rest, out)
	case "version", "--version", "-v":
		fmt.Fprintf(out, "postsible-admin version %s (commit: %s, built at: %s)\n", version, commit, date)
		return nil
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	default:
		fmt.Fprintf(out, "Unknown command: %s\n\n", command)
		printUsage(out)
		return errUsage
	}
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `Postsible Admin Tool

Usage:
  postsible-admin <command> <subcommand> [options]

Commands:
  domains     List, add and remove mail domains
  users       Manage mailboxes: passwords, quota, enable/disable
  aliases     List, add and remove aliases
  signature   Show, set or delete a mailbox signature
  vacation    Show, set or disable an auto-reply
  sieve       Regenerate, show or preview the active filter script
  migrate     Manage database schema migrations
  config      Check a configuration file
  health      Check the database, mailbox tree and external tools
  version     Show version information
  help        Show this help message

Every subcommand accepts --config (default: `+defaultConfigPath+`) and,
where it prints records, --output table|json.

Examples:
  postsible-admin domains add example.com
  postsible-admin users add --email bob@example.com --password secret
  postsible-admin vacation set --email bob@example.com --subject "Away" \
      --message "Back on Monday" --start 2025-01-06 --end 2025-01-10
  postsible-admin migrate up

Use 'postsible-admin <command> help' for more information about a command.
`)
}

// subcommand dispatches args[0] to one of handlers, printing usage for help
// and unknown names.
func subcommand(ctx context.Context, args []string, out io.Writer, usage func(io.Writer), handlers map[string]func(context.Context, []string, io.Writer) error) error {
	if len(args) == 0 {
		usage(out)
		return errUsage
	}
	name := args[0]
	if name == "help" || name == "--help" || name == "-h" {
		usage(out)
		return nil
	}
	handler, ok := handlers[name]
	if !ok {
		fmt.Fprintf(out, "Unknown subcommand: %s\n\n", name)
		usage(out)
		return errUsage
	}
	return handler(ctx, args[1:], out)
}

// commonFlags are registered on every subcommand's flag set.
type commonFlags struct {
	fs         *flag.FlagSet
	configPath *string
	output     *string
}

func newFlagSet(name, synopsis string, out io.Writer) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage:\n  postsible-admin %s %s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
	}
	return &commonFlags{
		fs:         fs,
		configPath: fs.String("config", defaultConfigPath, "Path to TOML configuration file"),
		output:     fs.String("output", "", "Output format: table or json (default from admin_cli.output)"),
	}
}

// parse parses args and checks the number of positional arguments.
func (c *commonFlags) parse(args []string, positional int) error {
	if err := c.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return errUsage
	}
	if c.fs.NArg() != positional {
		fmt.Fprintf(c.fs.Output(), "Error: expected %d argument(s), got %d\n\n", positional, c.fs.NArg())
		c.fs.Usage()
		return errUsage
	}
	return nil
}

// required reports the first listed flag that was left empty.
func (c *commonFlags) required(names ...string) error {
	for _, name := range names {
		f := c.fs.Lookup(name)
		if f == nil || f.Value.String() == "" {
			fmt.Fprintf(c.fs.Output(), "Error: --%s is required\n\n", name)
			c.fs.Usage()
			return errUsage
		}
	}
	return nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	isSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
