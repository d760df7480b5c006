// Package health aggregates on-demand component checks into a single report
// for the admin API's /health endpoint and the admin CLI.
//
//	checker := health.New(
//		health.Check{Name: "database", Critical: true, Run: db.Ping},
//		health.Check{Name: "sieve_compiler", Run: health.Executable("/usr/bin/sievec")},
//	)
//	report := checker.Run(ctx)
//
// Each run sets the postsible_component_health gauge for every component.
package health
