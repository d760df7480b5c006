package health

import (
	"context"

	"github.com/grufocom/postsible/config"
)

// Standard returns the checks both binaries report: the account database
// and the mailbox tree are critical, the external tools are optional since
// each has a builtin fallback.
func Standard(cfg *config.Config, ping func(ctx context.Context) error) *Checker {
	checker := New(
		Check{Name: "database", Critical: true, Run: ping},
		Check{Name: "sieve_base_path", Critical: true, Run: DirWritable(cfg.Sieve.BasePath)},
	)
	if cfg.Sieve.CompilerPath != "" {
		checker.Register(Check{Name: "sieve_compiler", Run: Executable(cfg.Sieve.CompilerPath)})
	}
	if cfg.Credentials.HasherPath != "" {
		checker.Register(Check{Name: "password_hasher", Run: Executable(cfg.Credentials.HasherPath)})
	}
	return checker
}
