package main

import (
	"context"
	"fmt"
	"io"

	"github.com/grufocom/postsible/config"
)

func handleConfigCommand(ctx context.Context, args []string, out io.Writer) error {
	return subcommand(ctx, args, out, printConfigUsage, map[string]func(context.Context, []string, io.Writer) error{
		"check": handleConfigCheck,
	})
}

func printConfigUsage(out io.Writer) {
	fmt.Fprint(out, `Configuration Tools

Usage:
  postsible-admin config check [--config path]

Subcommands:
  check   Parse the file, list unknown keys and run validation
`)
}

func handleConfigCheck(ctx context.Context, args []string, out io.Writer) error {
	flags := newFlagSet("config check", "[options]", out)
	if err := flags.parse(args, 0); err != nil {
		return err
	}
	path := *flags.configPath

	unknown, err := config.UndecodedKeys(path)
	if err != nil {
		return fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(path, &cfg); err != nil {
		return fmt.Errorf("failed to load '%s': %w", path, err)
	}
	validationErr := cfg.Validate()

	if *flags.output == "json" {
		result := map[string]any{"path": path, "unknown_keys": unknown, "valid": validationErr == nil}
		if validationErr != nil {
			result["error"] = validationErr.Error()
		}
		s := &session{out: out, format: "json"}
		if err := s.writeJSON(result); err != nil {
			return err
		}
		return validationErr
	}

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if len(unknown) > 0 {
		fmt.Fprintf(out, "Unknown keys (ignored):\n")
		for _, key := range unknown {
			fmt.Fprintf(out, "  - %s\n", key)
		}
	}
	if validationErr != nil {
		return fmt.Errorf("configuration is invalid: %w", validationErr)
	}
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}
