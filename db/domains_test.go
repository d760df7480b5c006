package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func domainNames(t *testing.T, td *testutils.TestDatabase) []string {
	t.Helper()
	domains, err := td.ListDomains(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Name)
	}
	return names
}

func TestAddDomain(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, td.AddDomain(ctx, "Acme.Test"))
	assert.Equal(t, []string{"acme.test"}, domainNames(t, td), "names are stored lowercase")

	err := td.AddDomain(ctx, "acme.test")
	assert.ErrorIs(t, err, consts.ErrConflict)

	for _, bad := range []string{"", "   ", "localhost", "-acme.test", "acme..test", "acme.t"} {
		err := td.AddDomain(ctx, bad)
		assert.ErrorIs(t, err, consts.ErrValidation, "domain %q", bad)
	}

	assert.Equal(t, []string{"acme.test"}, domainNames(t, td))
}

func TestAddDomainFoldsEquivalentSpellings(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, td.AddDomain(ctx, "example.com"))
	for _, spelling := range []string{"example。com", "ｅxample.com", "EXAMPLE．COM"} {
		assert.ErrorIs(t, td.AddDomain(ctx, spelling), consts.ErrConflict, "domain %q", spelling)
	}

	require.NoError(t, td.AddDomain(ctx, "xn--bcher-kva.example"))
	assert.ErrorIs(t, td.AddDomain(ctx, "bücher.example"), consts.ErrConflict)
	assert.Equal(t, []string{"bücher.example", "example.com"}, domainNames(t, td))

	require.NoError(t, td.AddMailbox(ctx, "bob@example。com", "secret"))
	assert.ErrorIs(t, td.AddMailbox(ctx, "bob@example.com", "secret"), consts.ErrConflict)

	m, err := td.GetMailbox(ctx, "BOB@ｅxample.com")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", m.Email)

	mailboxes, err := td.ListMailboxes(ctx, "example。com")
	require.NoError(t, err)
	assert.Len(t, mailboxes, 1)

	assert.ErrorIs(t, td.RemoveDomain(ctx, "ｅxample.com"), consts.ErrConflict)
	require.NoError(t, td.RemoveDomain(ctx, "xn--bcher-kva.example"))
}

func TestListDomainsOrdering(t *testing.T) {
	td := testutils.SetupTestDatabase(t)

	for _, name := range []string{"zeta.test", "alpha.test", "Mid.test", "beta.test"} {
		td.CreateTestDomain(t, name)
	}
	assert.Equal(t, []string{"alpha.test", "beta.test", "mid.test", "zeta.test"}, domainNames(t, td))

	domains, err := td.ListDomains(context.Background())
	require.NoError(t, err)
	for _, d := range domains {
		assert.NotZero(t, d.ID)
		assert.False(t, d.CreatedAt.IsZero())
	}
}

func TestListDomainsEmpty(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	domains, err := td.ListDomains(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, domains)
	assert.Empty(t, domains)
}

func TestRemoveDomain(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()

	assert.ErrorIs(t, td.RemoveDomain(ctx, ""), consts.ErrNotFound)
	assert.ErrorIs(t, td.RemoveDomain(ctx, "missing.test"), consts.ErrNotFound)

	td.CreateTestDomain(t, "acme.test")
	require.NoError(t, td.RemoveDomain(ctx, "ACME.test"))
	assert.Empty(t, domainNames(t, td))
}

func TestRemoveDomainRefusedWhileMailboxesExist(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()

	td.CreateTestDomain(t, "acme.test")
	td.CreateTestMailbox(t, "alice@acme.test", "secret")
	td.CreateTestMailbox(t, "bob@acme.test", "secret")

	err := td.RemoveDomain(ctx, "acme.test")
	require.ErrorIs(t, err, consts.ErrConflict)

	var conflict *consts.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 2, conflict.Count)
	assert.Contains(t, err.Error(), "2 mailboxes")

	// Nothing was cascaded.
	mailboxes, err := td.ListMailboxes(ctx, "acme.test")
	require.NoError(t, err)
	assert.Len(t, mailboxes, 2)
	assert.Equal(t, []string{"acme.test"}, domainNames(t, td))
}

func TestRemoveDomainRemovesAliases(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()

	td.CreateTestDomain(t, "acme.test")
	td.CreateTestDomain(t, "other.test")
	require.NoError(t, td.AddAlias(ctx, "info@acme.test", "ops@other.test"))
	require.NoError(t, td.AddAlias(ctx, "info@other.test", "ops@other.test"))

	require.NoError(t, td.RemoveDomain(ctx, "acme.test"))

	aliases, err := td.ListAliases(ctx, "")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, "info@other.test", aliases[0].Source)
}
