package db_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/pkg/passhash"
	"github.com/grufocom/postsible/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMailbox(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")

	require.NoError(t, td.AddMailbox(ctx, "Bob@Acme.Test", "secret"))

	m, err := td.GetMailbox(ctx, "bob@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "bob@acme.test", m.Email)
	assert.Equal(t, "acme.test", m.Domain)
	assert.True(t, m.Enabled)
	assert.Zero(t, m.Quota)
	assert.True(t, passhash.IsSHA512Crypt(m.PasswordHash))
	assert.True(t, passhash.Verify(m.PasswordHash, "secret"))
	assert.NotContains(t, m.PasswordHash, "secret")

	err = td.AddMailbox(ctx, "bob@acme.test", "other")
	assert.ErrorIs(t, err, consts.ErrConflict)
}

func TestAddMailboxErrors(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"empty email", "", "secret", consts.ErrValidation},
		{"empty password", "bob@acme.test", "", consts.ErrValidation},
		{"malformed address", "bob@@acme.test", "secret", consts.ErrValidation},
		{"no domain part", "bob", "secret", consts.ErrValidation},
		{"unknown domain", "bob@missing.test", "secret", consts.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := td.AddMailbox(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := td.AddMailbox(ctx, "bob@missing.test", "secret")
	assert.Equal(t, "Domain missing.test does not exist. Create it first.", err.Error())

	mailboxes, err := td.ListMailboxes(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, mailboxes)
}

func TestAddMailboxConcurrentDuplicates(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = td.AddMailbox(ctx, "race@acme.test", fmt.Sprintf("pw%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, consts.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	mailboxes, err := td.ListMailboxes(ctx, "acme.test")
	require.NoError(t, err)
	assert.Len(t, mailboxes, 1)
}

func TestListMailboxesShape(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")
	td.CreateTestDomain(t, "beta.test")
	td.CreateTestMailbox(t, "zed@acme.test", "pw")
	td.CreateTestMailbox(t, "amy@beta.test", "pw")
	td.CreateTestMailbox(t, "amy@acme.test", "pw")

	all, err := td.ListMailboxes(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "amy@acme.test", all[0].Email)
	assert.Equal(t, "amy@beta.test", all[1].Email)
	assert.Equal(t, "zed@acme.test", all[2].Email)
	for _, m := range all {
		assert.NotEmpty(t, m.Domain, "all-domains listing attaches the domain")
		assert.Empty(t, m.PasswordHash, "listings never carry the hash")
	}

	acme, err := td.ListMailboxes(ctx, "acme.test")
	require.NoError(t, err)
	require.Len(t, acme, 2)
	for _, m := range acme {
		assert.Empty(t, m.Domain, "per-domain listing omits the domain")
	}

	none, err := td.ListMailboxes(ctx, "missing.test")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemoveMailbox(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")
	td.CreateTestMailbox(t, "bob@acme.test", "pw")

	assert.ErrorIs(t, td.RemoveMailbox(ctx, ""), consts.ErrValidation)
	assert.ErrorIs(t, td.RemoveMailbox(ctx, "nobody@acme.test"), consts.ErrNotFound)
	require.NoError(t, td.RemoveMailbox(ctx, "BOB@acme.test"))

	_, err := td.GetMailbox(ctx, "bob@acme.test")
	assert.ErrorIs(t, err, consts.ErrNotFound)

	// The domain is free to go now.
	require.NoError(t, td.RemoveDomain(ctx, "acme.test"))
}

func TestSetMailboxEnabled(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")
	td.CreateTestMailbox(t, "bob@acme.test", "pw")

	require.NoError(t, td.SetMailboxEnabled(ctx, "bob@acme.test", false))
	m, err := td.GetMailbox(ctx, "bob@acme.test")
	require.NoError(t, err)
	assert.False(t, m.Enabled)

	// Setting the same value again still finds the row.
	require.NoError(t, td.SetMailboxEnabled(ctx, "bob@acme.test", false))

	require.NoError(t, td.SetMailboxEnabled(ctx, "bob@acme.test", true))
	m, err = td.GetMailbox(ctx, "bob@acme.test")
	require.NoError(t, err)
	assert.True(t, m.Enabled)

	assert.ErrorIs(t, td.SetMailboxEnabled(ctx, "nobody@acme.test", true), consts.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")
	td.CreateTestMailbox(t, "bob@acme.test", "old-secret")

	before, err := td.GetMailbox(ctx, "bob@acme.test")
	require.NoError(t, err)

	require.NoError(t, td.ChangePassword(ctx, "bob@acme.test", "new-secret"))

	after, err := td.GetMailbox(ctx, "bob@acme.test")
	require.NoError(t, err)
	assert.NotEqual(t, before.PasswordHash, after.PasswordHash)
	assert.True(t, passhash.Verify(after.PasswordHash, "new-secret"))
	assert.False(t, passhash.Verify(after.PasswordHash, "old-secret"))

	assert.ErrorIs(t, td.ChangePassword(ctx, "bob@acme.test", ""), consts.ErrValidation)
	assert.ErrorIs(t, td.ChangePassword(ctx, "", "pw"), consts.ErrValidation)
	assert.ErrorIs(t, td.ChangePassword(ctx, "nobody@acme.test", "pw"), consts.ErrNotFound)
}

func TestSetMailboxQuota(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")
	td.CreateTestMailbox(t, "bob@acme.test", "pw")

	require.NoError(t, td.SetMailboxQuota(ctx, "bob@acme.test", 1<<30))
	m, err := td.GetMailbox(ctx, "bob@acme.test")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), m.Quota)

	assert.ErrorIs(t, td.SetMailboxQuota(ctx, "bob@acme.test", -1), consts.ErrValidation)
	assert.ErrorIs(t, td.SetMailboxQuota(ctx, "nobody@acme.test", 0), consts.ErrNotFound)
}

type failingHasher struct{}

func (failingHasher) Hash(context.Context, string) (string, error) {
	return "", errors.New("rng exhausted")
}

func TestAddMailboxHasherFailureIsNotStored(t *testing.T) {
	td := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	td.CreateTestDomain(t, "acme.test")

	store := td.WithHasher(failingHasher{})
	err := store.AddMailbox(ctx, "bob@acme.test", "pw")
	require.Error(t, err)
	assert.False(t, errors.Is(err, consts.ErrValidation))

	_, err = td.GetMailbox(ctx, "bob@acme.test")
	assert.ErrorIs(t, err, consts.ErrNotFound)
}
