package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/grufocom/postsible/config"
	"github.com/grufocom/postsible/db"
	"github.com/grufocom/postsible/pkg/passhash"
	"github.com/stretchr/testify/require"
)

// TestDatabase wraps the account store for tests.
type TestDatabase struct {
	*db.Database
	Config config.DatabaseConfig
}

// Hasher is cheap enough for tests that create many mailboxes.
var Hasher = passhash.LocalHasher{Rounds: passhash.MinRounds}

// SetupTestDatabase returns a migrated, empty store that is closed when the
// test ends.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	cfg := config.NewDefaultConfig().Database
	external := false
	if configPath, err := findTestConfig(); err == nil {
		full := config.NewDefaultConfig()
		require.NoError(t, config.LoadConfigFromFile(configPath, &full), "Failed to load %s", configPath)
		cfg = full.Database
		external = true
	} else {
		cfg.Driver = "sqlite"
		cfg.Path = filepath.Join(t.TempDir(), "accounts.db")
	}
	cfg.AutoMigrate = true

	database, err := db.NewDatabaseFromConfig(ctx, &cfg, Hasher)
	require.NoError(t, err, "Failed to open test database (%s)", cfg.Driver)

	td := &TestDatabase{Database: database, Config: cfg}
	if external {
		td.TruncateAllTables(t)
	}
	t.Cleanup(func() { database.Close() })
	return td
}

// findTestConfig walks up the directory tree to find config-test.toml
func findTestConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		configPath := filepath.Join(dir, "config-test.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("config-test.toml not found in current directory or any parent directory")
		}
		dir = parent
	}
}

// CreateTestDomain adds a domain and fails the test on error.
func (td *TestDatabase) CreateTestDomain(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, td.AddDomain(context.Background(), name))
}

// CreateTestMailbox adds a mailbox and fails the test on error.
func (td *TestDatabase) CreateTestMailbox(t *testing.T, email, password string) {
	t.Helper()
	require.NoError(t, td.AddMailbox(context.Background(), email, password))
}

// TruncateAllTables removes all rows, children first.
func (td *TestDatabase) TruncateAllTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"aliases", "mailboxes", "domains"} {
		_, err := td.DB.ExecContext(context.Background(), "DELETE FROM "+table)
		require.NoError(t, err)
	}
}
