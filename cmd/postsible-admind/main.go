package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grufocom/postsible/config"
	"github.com/grufocom/postsible/db"
	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/errors"
	"github.com/grufocom/postsible/pkg/health"
	"github.com/grufocom/postsible/pkg/passhash"
	"github.com/grufocom/postsible/pkg/retry"
	"github.com/grufocom/postsible/server/adminapi"
	"github.com/grufocom/postsible/server/sievemanager"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "/etc/postsible/config.toml", "Path to TOML configuration file")
	connectRetries := flag.Int("connect-retries", retry.DefaultBackoffConfig().MaxRetries, "Database connection attempts after the first one")
	flag.Parse()

	if *showVersion {
		fmt.Printf("postsible-admind version %s (commit: %s, built at: %s)\n", version, commit, date)
		return errors.ExitOK
	}

	if err := config.LoadConfigFromFile(*configPath, &cfg); err != nil {
		errorHandler.ConfigError(*configPath, err)
		return errorHandler.WaitForExit()
	}
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("config", err)
		return errorHandler.WaitForExit()
	}

	logCloser, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "POSTSIBLE: Warning initializing logger: %v\n", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	logger.Infof("postsible-admind starting (version %s, commit: %s, built: %s)", version, commit, date)
	logger.Infof("Logging format: %s, level: %s", cfg.Logging.Format, cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	hasherTimeout, _ := cfg.Credentials.GetHasherTimeout()
	hasher := passhash.New(cfg.Credentials.HasherPath, cfg.Credentials.HasherArgs, hasherTimeout, cfg.Credentials.Rounds, cfg.Credentials.SchemePrefix)

	backoff := retry.DefaultBackoffConfig()
	backoff.MaxRetries = *connectRetries
	var database *db.Database
	err = retry.WithRetry(ctx, func() error {
		var err error
		database, err = db.NewDatabaseFromConfig(ctx, &cfg.Database, hasher)
		return err
	}, backoff)
	if err != nil {
		errorHandler.FatalError("connect to database", err)
		return errorHandler.WaitForExit()
	}
	defer database.Close()

	manager, err := sievemanager.NewFromConfig(&cfg.Sieve)
	if err != nil {
		errorHandler.FatalError("initialize filter scripts", err)
		return errorHandler.WaitForExit()
	}

	checker := health.Standard(&cfg, database.Ping)
	if report := checker.Run(ctx); !report.Healthy() {
		logger.Warn("Startup health check reports failing components", "failed", report.Failed())
	}

	readTimeout, _ := cfg.AdminAPI.GetReadTimeout()
	writeTimeout, _ := cfg.AdminAPI.GetWriteTimeout()
	options := adminapi.ServerOptions{
		Addr:         cfg.AdminAPI.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Health:       checker,
	}
	if cfg.Metrics.Enabled {
		options.MetricsPath = cfg.Metrics.Path
	}

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		adminapi.Start(ctx, database, manager, options, errChan)
	}()

	exitCode := errors.ExitOK
	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
	case err := <-errChan:
		errorHandler.FatalError("admin API", err)
		exitCode = errorHandler.WaitForExit()
		cancel()
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("Admin API did not stop within 10s")
	}

	logger.Info("postsible-admind stopped", "exit_code", exitCode)
	return exitCode
}
