package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// LoggingConfig controls the logger package.
type LoggingConfig struct {
	Output     string `toml:"output"`       // "stderr", "stdout", "syslog", or a file path
	Format     string `toml:"format"`       // "json" or "console"
	Level      string `toml:"level"`        // "debug", "info", "warn", "error"
	SyslogTag  string `toml:"syslog_tag"`   // Tag used for syslog output (default: "postsible")
	MaxSizeMB  int    `toml:"max_size_mb"`  // Rotate the log file after this many megabytes
	MaxBackups int    `toml:"max_backups"`  // Rotated files to keep (0 keeps all)
	MaxAgeDays int    `toml:"max_age_days"` // Days to keep rotated files (0 keeps forever)
	Compress   bool   `toml:"compress"`     // Gzip rotated files
}

// DatabaseConfig selects the relational store backing the account records.
type DatabaseConfig struct {
	Driver   string      `toml:"driver"` // "postgres", "mysql" or "sqlite"
	Host     string      `toml:"host"`
	Port     interface{} `toml:"port"` // string or integer; the driver default is used when empty
	User     string      `toml:"user"`
	Password string      `toml:"password"`
	Name     string      `toml:"name"`
	TLSMode  bool        `toml:"tls"`
	Path     string      `toml:"path"` // SQLite database file

	MaxConns         int    `toml:"max_conns"`
	MaxIdleConns     int    `toml:"max_idle_conns"`
	MaxConnLifetime  string `toml:"max_conn_lifetime"`
	QueryTimeout     string `toml:"query_timeout"`
	AutoMigrate      bool   `toml:"auto_migrate"`      // Apply pending migrations at startup
	MigrationTimeout string `toml:"migration_timeout"` // Timeout for auto-migrations at startup (default: "2m")
	Debug            bool   `toml:"debug"`             // Log every SQL statement at debug level
}

// GetPort returns the configured port as a string, or "" when unset.
func (d *DatabaseConfig) GetPort() (string, error) {
	switch p := d.Port.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	case int64:
		return fmt.Sprintf("%d", p), nil
	case int:
		return fmt.Sprintf("%d", p), nil
	default:
		return "", fmt.Errorf("invalid database port type %T", d.Port)
	}
}

func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	return parseDurationDefault(d.MaxConnLifetime, time.Hour)
}

func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	return parseDurationDefault(d.QueryTimeout, 30*time.Second)
}

func (d *DatabaseConfig) GetMigrationTimeout() (time.Duration, error) {
	return parseDurationDefault(d.MigrationTimeout, 2*time.Minute)
}

// CredentialsConfig controls password hashing for new and changed mailboxes.
type CredentialsConfig struct {
	HasherPath    string   `toml:"hasher_path"`    // External hashing tool; empty disables it
	HasherArgs    []string `toml:"hasher_args"`    // Arguments selecting the SHA512-CRYPT scheme
	HasherTimeout string   `toml:"hasher_timeout"` // Bound on one invocation of the tool
	Rounds        int      `toml:"rounds"`         // Cost of locally computed hashes
	SchemePrefix  bool     `toml:"scheme_prefix"`  // Store hashes as "{SHA512-CRYPT}$6$..."
}

func (c *CredentialsConfig) GetHasherTimeout() (time.Duration, error) {
	return parseDurationDefault(c.HasherTimeout, 5*time.Second)
}

// SieveConfig controls the per-mailbox filter script tree.
type SieveConfig struct {
	BasePath        string `toml:"base_path"`        // Root of {domain}/{local}/ mailbox directories
	CompilerPath    string `toml:"compiler_path"`    // sievec binary; empty uses the builtin compiler
	CompilerTimeout string `toml:"compiler_timeout"` // Bound on one compiler run
	ServiceUser     string `toml:"service_user"`     // Account that owns the generated files; empty skips chown
	MaxVacationDays int    `toml:"max_vacation_days"`
	Timezone        string `toml:"timezone"` // IANA zone for dates without an offset (default: local time)
}

func (s *SieveConfig) GetCompilerTimeout() (time.Duration, error) {
	return parseDurationDefault(s.CompilerTimeout, 10*time.Second)
}

// GetLocation resolves Timezone; "" and "Local" mean the process zone.
func (s *SieveConfig) GetLocation() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// AdminAPIConfig controls the operator HTTP surface of postsible-admind.
type AdminAPIConfig struct {
	Addr         string `toml:"addr"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

func (a *AdminAPIConfig) GetReadTimeout() (time.Duration, error) {
	return parseDurationDefault(a.ReadTimeout, 15*time.Second)
}

// Compilation and hashing happen inside a request, so the write timeout must
// exceed both tool timeouts.
func (a *AdminAPIConfig) GetWriteTimeout() (time.Duration, error) {
	return parseDurationDefault(a.WriteTimeout, 30*time.Second)
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// AdminCLIConfig holds settings used only by the postsible-admin tool.
type AdminCLIConfig struct {
	Output string `toml:"output"` // "table" or "json"
}

// Config holds all configuration for the application.
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`
	Database    DatabaseConfig    `toml:"database"`
	Credentials CredentialsConfig `toml:"credentials"`
	Sieve       SieveConfig       `toml:"sieve"`
	AdminAPI    AdminAPIConfig    `toml:"admin_api"`
	Metrics     MetricsConfig     `toml:"metrics"`
	AdminCLI    AdminCLIConfig    `toml:"admin_cli"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output:     "stderr",
			Format:     "console",
			Level:      "info",
			SyslogTag:  "postsible",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Database: DatabaseConfig{
			Driver:           "mysql",
			Host:             "localhost",
			User:             "mailadmin",
			Name:             "mailserver",
			MaxConns:         10,
			MaxIdleConns:     2,
			MaxConnLifetime:  "1h",
			QueryTimeout:     "30s",
			AutoMigrate:      true,
			MigrationTimeout: "2m",
		},
		Credentials: CredentialsConfig{
			HasherPath:    "/usr/bin/doveadm",
			HasherArgs:    []string{"pw", "-s", "SHA512-CRYPT"},
			HasherTimeout: "5s",
			Rounds:        5000,
		},
		Sieve: SieveConfig{
			BasePath:        "/var/vmail",
			CompilerPath:    "/usr/bin/sievec",
			CompilerTimeout: "10s",
			ServiceUser:     "vmail",
			MaxVacationDays: 30,
		},
		AdminAPI: AdminAPIConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		AdminCLI: AdminCLIConfig{
			Output: "table",
		},
	}
}

// Validate checks the configuration for values the services cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for driver %q", c.Database.Driver)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required for driver %q", c.Database.Driver)
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver \"sqlite\"")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q (expected postgres, mysql or sqlite)", c.Database.Driver)
	}
	if _, err := c.Database.GetPort(); err != nil {
		return err
	}

	durations := map[string]func() (time.Duration, error){
		"database.max_conn_lifetime": c.Database.GetMaxConnLifetime,
		"database.query_timeout":     c.Database.GetQueryTimeout,
		"database.migration_timeout": c.Database.GetMigrationTimeout,
		"credentials.hasher_timeout": c.Credentials.GetHasherTimeout,
		"sieve.compiler_timeout":     c.Sieve.GetCompilerTimeout,
		"admin_api.read_timeout":     c.AdminAPI.GetReadTimeout,
		"admin_api.write_timeout":    c.AdminAPI.GetWriteTimeout,
	}
	for key, get := range durations {
		d, err := get()
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", key)
		}
	}

	if c.Credentials.Rounds != 0 && (c.Credentials.Rounds < 1000 || c.Credentials.Rounds > 999999999) {
		return fmt.Errorf("credentials.rounds must be between 1000 and 999999999, got %d", c.Credentials.Rounds)
	}

	if c.Sieve.BasePath == "" {
		return fmt.Errorf("sieve.base_path is required")
	}
	if c.Sieve.MaxVacationDays <= 0 {
		return fmt.Errorf("sieve.max_vacation_days must be positive, got %d", c.Sieve.MaxVacationDays)
	}
	if _, err := c.Sieve.GetLocation(); err != nil {
		return fmt.Errorf("invalid sieve.timezone %q: %w", c.Sieve.Timezone, err)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	if c.Metrics.Path == "/api" || c.Metrics.Path == "/health" {
		return fmt.Errorf("metrics.path %q collides with an admin API route", c.Metrics.Path)
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}
	return nil
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// LoadConfigFromFile decodes a TOML file over cfg and trims whitespace from
// all string fields. Unknown keys are reported as warnings, duplicate keys
// keep their first occurrence; other syntax errors fail with a hint.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}
		log.Printf("WARNING: Configuration file '%s' contains duplicate keys: %v", configPath, err)
		log.Printf("WARNING: Only the first occurrence of each key will be used.")
		metadata, err = toml.Decode(removeDuplicateKeys(string(content)), cfg)
		if err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// UndecodedKeys returns the keys in a TOML document that do not map onto
// Config. Used by "postsible-admin config check".
func UndecodedKeys(configPath string) ([]string, error) {
	var cfg Config
	metadata, err := toml.DecodeFile(configPath, &cfg)
	if err != nil {
		return nil, enhanceConfigError(err)
	}
	keys := make([]string, 0, len(metadata.Undecoded()))
	for _, k := range metadata.Undecoded() {
		keys = append(keys, k.String())
	}
	return keys, nil
}

// removeDuplicateKeys comments out every repeated key within a table,
// keeping the first occurrence.
func removeDuplicateKeys(content string) string {
	lines := strings.Split(content, "\n")
	seen := make(map[string]int)
	section := ""

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.Trim(trimmed, "[] ")
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		full := section + "." + strings.TrimSpace(key)
		if first, dup := seen[full]; dup {
			log.Printf("WARNING: Duplicate key '%s' at line %d (first occurrence at line %d). Ignoring duplicate.",
				strings.TrimPrefix(full, "."), i+1, first+1)
			lines[i] = "# DUPLICATE IGNORED: " + line
			continue
		}
		seen[full] = i
	}
	return strings.Join(lines, "\n")
}

func enhanceConfigError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "expected value but found \"f\"") ||
		strings.Contains(msg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: TOML booleans must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}
	if strings.Contains(msg, "expected") || strings.Contains(msg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Check that strings are quoted, brackets are balanced and section headers use [section]", err)
	}
	return err
}

func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	case reflect.Interface:
		if !v.IsNil() && v.Elem().Kind() == reflect.String {
			v.Set(reflect.ValueOf(strings.TrimSpace(v.Elem().String())))
		}
	}
}
