// Package testutils provides helpers shared by the postsible test suites.
//
// SetupTestDatabase returns a migrated account store. By default it runs on
// a fresh SQLite file in the test's temp dir; when a config-test.toml is
// found in a parent directory its [database] section is used instead, which
// runs the same tests against PostgreSQL or MySQL.
//
//	func TestSomething(t *testing.T) {
//		td := testutils.SetupTestDatabase(t)
//		td.CreateTestDomain(t, "acme.test")
//		td.CreateTestMailbox(t, "bob@acme.test", "secret")
//	}
package testutils
