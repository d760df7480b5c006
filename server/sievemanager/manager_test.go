package sievemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grufocom/postsible/consts"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeCompiler behaves like BuiltinCompiler unless fail is set.
type fakeCompiler struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (c *fakeCompiler) Compile(ctx context.Context, src, dst string) error {
	c.mu.Lock()
	c.calls++
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	return BuiltinCompiler{}.Compile(ctx, src, dst)
}

type recordingOwner struct {
	mu    sync.Mutex
	paths map[string]bool
	err   error
}

func (o *recordingOwner) Chown(paths ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paths == nil {
		o.paths = make(map[string]bool)
	}
	for _, p := range paths {
		o.paths[p] = true
	}
	return o.err
}

type fixture struct {
	m        *Manager
	base     string
	clock    *fakeClock
	compiler *fakeCompiler
	owner    *recordingOwner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		base:     t.TempDir(),
		clock:    &fakeClock{now: time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)},
		compiler: &fakeCompiler{},
		owner:    &recordingOwner{},
	}
	m, err := New(Options{
		BasePath: f.base,
		Compiler: f.compiler,
		Owner:    f.owner,
		Location: time.UTC,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) home(t *testing.T, email string) string {
	t.Helper()
	p, err := f.m.paths(email)
	require.NoError(t, err)
	return p.home
}

// activeCompiled follows the activation pointer the way the delivery agent does.
func (f *fixture) activeCompiled(t *testing.T, email string) string {
	t.Helper()
	home := f.home(t, email)
	target, err := os.Readlink(filepath.Join(home, activePointer))
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(target), "pointer must be relative")
	data, err := os.ReadFile(filepath.Join(home, target))
	require.NoError(t, err)
	return string(data)
}

func TestNewRequiresBasePath(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSignatureLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	sig, err := f.m.GetSignature(ctx, email)
	require.NoError(t, err)
	assert.Nil(t, sig)

	require.NoError(t, f.m.SetSignature(ctx, "Bob@ACME.test", "-- \nBob"))

	sig, err = f.m.GetSignature(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "-- \nBob", *sig)
	assert.Contains(t, f.activeCompiled(t, email), signatureMarker)

	require.NoError(t, f.m.SetSignature(ctx, email, ""))
	sig, err = f.m.GetSignature(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, sig, "an empty signature is still stored")
	assert.Equal(t, "", *sig)

	require.NoError(t, f.m.DeleteSignature(ctx, email))
	sig, err = f.m.GetSignature(ctx, email)
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.NotContains(t, f.activeCompiled(t, email), signatureMarker)

	require.NoError(t, f.m.DeleteSignature(ctx, email))
}

func TestLayoutAndPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.SetSignature(ctx, "bob@acme.test", "x"))

	home := filepath.Join(f.base, "acme.test", "bob")
	for _, dir := range []string{filepath.Join(f.base, "acme.test"), home, filepath.Join(home, "sieve")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(), dir)
	}
	for _, name := range []string{signatureFile, scriptFile, compiledFile} {
		info, err := os.Stat(filepath.Join(home, "sieve", name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	target, err := os.Readlink(filepath.Join(home, activePointer))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("sieve", "main.compiled"), target)

	entries, err := os.ReadDir(filepath.Join(home, "sieve"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{signatureFile, scriptFile, compiledFile}, names, "no staging files left behind")

	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	for _, p := range []string{home, filepath.Join(home, "sieve"), filepath.Join(home, activePointer), filepath.Join(home, "sieve", compiledFile)} {
		assert.True(t, f.owner.paths[p], "ownership of %s", p)
	}
}

func TestVacationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	require.NoError(t, f.m.SetVacation(ctx, email, "Out", "Away", "2025-01-01", "2025-01-10"))

	v, err := f.m.GetVacation(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, &Vacation{Subject: "Out", Message: "Away", StartDate: "2025-01-01", EndDate: "2025-01-10", Enabled: true}, v)
	assert.Contains(t, f.activeCompiled(t, email), "# Vacation message")
	assert.Contains(t, f.activeCompiled(t, email), `:subject "Out"`)

	// Reading before the end date changes nothing.
	calls := f.compiler.calls
	f.clock.Set(time.Date(2025, 1, 9, 23, 59, 0, 0, time.UTC))
	v, err = f.m.GetVacation(ctx, email)
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Equal(t, calls, f.compiler.calls)

	f.clock.Set(time.Date(2025, 1, 10, 0, 0, 1, 0, time.UTC))
	v, err = f.m.GetVacation(ctx, email)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoFileExists(t, filepath.Join(f.home(t, email), "sieve", vacationFile))
	assert.NotContains(t, f.activeCompiled(t, email), "vacation\n")
	assert.Equal(t, header, f.activeCompiled(t, email))

	v, err = f.m.GetVacation(ctx, email)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestVacationNotYetStarted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "carol@acme.test"

	require.NoError(t, f.m.SetVacation(ctx, email, "Later", "Soon away", "2025-02-01", "2025-02-05"))

	v, err := f.m.GetVacation(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, v, "a future window is returned as stored")
	assert.NotContains(t, f.activeCompiled(t, email), "# Vacation message")

	f.clock.Set(time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, f.m.Regenerate(ctx, email))
	assert.Contains(t, f.activeCompiled(t, email), "# Vacation message")
}

func TestDisableVacationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	require.NoError(t, f.m.SetVacation(ctx, email, "Out", "Away", "2025-01-01", "2025-01-10"))
	require.NoError(t, f.m.DisableVacation(ctx, email))
	first := f.activeCompiled(t, email)

	require.NoError(t, f.m.DisableVacation(ctx, email))
	assert.Equal(t, first, f.activeCompiled(t, email))

	v, err := f.m.GetVacation(ctx, email)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSetVacationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		email string
		start string
		end   string
	}{
		{name: "unparsable start", email: "bob@acme.test", start: "next monday", end: "2025-01-10"},
		{name: "unparsable end", email: "bob@acme.test", start: "2025-01-01", end: "2025/01/10"},
		{name: "end before start", email: "bob@acme.test", start: "2025-01-10", end: "2025-01-01"},
		{name: "equal dates", email: "bob@acme.test", start: "2025-01-01", end: "2025-01-01"},
		{name: "span too long", email: "bob@acme.test", start: "2025-01-01", end: "2025-02-15"},
		{name: "invalid email", email: "not-an-address", start: "2025-01-01", end: "2025-01-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.m.SetVacation(ctx, tt.email, "s", "m", tt.start, tt.end)
			assert.ErrorIs(t, err, consts.ErrValidation)
		})
	}

	assert.NoDirExists(t, filepath.Join(f.base, "acme.test"), "rejected input must not touch the filesystem")
	assert.Zero(t, f.compiler.calls)
}

func TestRejectsUnsafeMailboxPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, email := range []string{"a/b@acme.test", "../x@acme.test", "bob@acme.test/../../etc"} {
		t.Run(email, func(t *testing.T) {
			assert.ErrorIs(t, f.m.SetSignature(ctx, email, "x"), consts.ErrValidation)
			_, err := f.m.GetSignature(ctx, email)
			assert.ErrorIs(t, err, consts.ErrValidation)
		})
	}

	entries, err := os.ReadDir(f.base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompileFailureKeepsPreviousScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	require.NoError(t, f.m.SetSignature(ctx, email, "x"))
	before := f.activeCompiled(t, email)

	f.compiler.fail = &consts.CompileError{Output: "main.filterscript: line 3: error: unknown command"}
	err := f.m.SetVacation(ctx, email, "Out", "Away", "2025-01-01", "2025-01-10")
	require.Error(t, err)
	assert.ErrorIs(t, err, consts.ErrCompile)
	var cerr *consts.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Output, "unknown command")

	assert.Equal(t, before, f.activeCompiled(t, email))
	entries, err := os.ReadDir(filepath.Join(f.home(t, email), "sieve"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "-", "staging file %s left behind", e.Name())
	}

	f.compiler.fail = &consts.ExternalToolError{Tool: "/usr/bin/sievec", Err: os.ErrNotExist}
	err = f.m.Regenerate(ctx, email)
	assert.ErrorIs(t, err, consts.ErrExternalTool)
	assert.Equal(t, before, f.activeCompiled(t, email))
}

func TestFailedSourceInstallRestoresCompiledScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	require.NoError(t, f.m.SetSignature(ctx, email, "x"))
	before := f.activeCompiled(t, email)
	sieveDir := filepath.Join(f.home(t, email), "sieve")

	// A non-empty directory in place of the source file makes its rename fail.
	script := filepath.Join(sieveDir, scriptFile)
	require.NoError(t, os.Remove(script))
	require.NoError(t, os.Mkdir(script, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(script, "keep"), []byte("x"), 0600))

	err := f.m.SetVacation(ctx, email, "Out", "Away", "2025-01-01", "2025-01-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to install script")
	assert.Equal(t, before, f.activeCompiled(t, email))

	entries, err := os.ReadDir(sieveDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{signatureFile, vacationFile, scriptFile, compiledFile}, names, "no staging files left behind")

	require.NoError(t, os.RemoveAll(script))
	require.NoError(t, f.m.Regenerate(ctx, email))
	assert.Contains(t, f.activeCompiled(t, email), "# Vacation message")
	data, err := os.ReadFile(script)
	require.NoError(t, err)
	assert.Equal(t, f.activeCompiled(t, email), string(data))
}

func TestOwnershipFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.owner.err = errors.New("user vmail: unknown user")

	require.NoError(t, f.m.SetSignature(context.Background(), "bob@acme.test", "x"))
}

func TestConcurrentMutationsLeaveCompleteScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- f.m.SetSignature(ctx, email, "sig")
		}()
		go func() {
			defer wg.Done()
			errs <- f.m.SetVacation(ctx, email, "Out", "Away", "2025-01-01", "2025-01-10")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active := f.activeCompiled(t, email)
	require.NoError(t, Lint(active, RequiredExtensions))
	assert.Contains(t, active, "# Vacation message")
	assert.Contains(t, active, signatureMarker)
	assert.Empty(t, f.m.locks.locks)
}

func TestPreviewActiveScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "bob@acme.test"

	reply, err := f.m.Preview(ctx, email, TestMessage{From: "alice@example.com", Subject: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, reply, "no script activated yet")

	require.NoError(t, f.m.SetVacation(ctx, email, "Out", "Away", "2025-01-01", "2025-01-10"))
	reply, err = f.m.Preview(ctx, email, TestMessage{From: "alice@example.com", Subject: "Hello"})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "Out", reply.Subject)
	assert.Equal(t, "Away", reply.Body)
	assert.Equal(t, 1, reply.Days)

	require.NoError(t, f.m.DisableVacation(ctx, email))
	reply, err = f.m.Preview(ctx, email, TestMessage{From: "alice@example.com", Subject: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, reply)
}
