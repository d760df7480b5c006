package sievemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grufocom/postsible/config"
	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/metrics"
)

// Options configures a Manager. Zero values pick the defaults.
type Options struct {
	BasePath        string
	Compiler        Compiler
	Owner           Owner
	MaxVacationDays int
	Location        *time.Location
	Now             func() time.Time
}

// Manager owns the filter state of every mailbox under one base path. It
// does not check that a mailbox exists in the account store.
type Manager struct {
	basePath        string
	compiler        Compiler
	owner           Owner
	maxVacationDays int
	location        *time.Location
	now             func() time.Time

	locks *mailboxLocks
}

func New(opts Options) (*Manager, error) {
	if opts.BasePath == "" {
		return nil, fmt.Errorf("sieve base path is required")
	}
	base, err := filepath.Abs(opts.BasePath)
	if err != nil {
		return nil, fmt.Errorf("invalid sieve base path: %w", err)
	}

	m := &Manager{
		basePath:        base,
		compiler:        opts.Compiler,
		owner:           opts.Owner,
		maxVacationDays: opts.MaxVacationDays,
		location:        opts.Location,
		now:             opts.Now,
		locks:           newMailboxLocks(),
	}
	if m.compiler == nil {
		m.compiler = BuiltinCompiler{}
	}
	if m.owner == nil {
		m.owner = NoopOwner{}
	}
	if m.maxVacationDays <= 0 {
		m.maxVacationDays = DefaultMaxVacationDays
	}
	if m.location == nil {
		m.location = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// NewFromConfig builds a Manager from the [sieve] section.
func NewFromConfig(cfg *config.SieveConfig) (*Manager, error) {
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.GetCompilerTimeout()
	if err != nil {
		return nil, err
	}
	var owner Owner = NoopOwner{}
	if cfg.ServiceUser != "" {
		owner = ServiceOwner{User: cfg.ServiceUser}
	}
	return New(Options{
		BasePath:        cfg.BasePath,
		Compiler:        NewCompiler(cfg.CompilerPath, timeout),
		Owner:           owner,
		MaxVacationDays: cfg.MaxVacationDays,
		Location:        loc,
	})
}

// GetSignature returns the stored signature, or nil if there is none.
func (m *Manager) GetSignature(ctx context.Context, email string) (*string, error) {
	p, err := m.paths(email)
	if err != nil {
		return nil, err
	}
	return readSignature(p)
}

// SetSignature stores text and reactivates the mailbox script.
func (m *Manager) SetSignature(ctx context.Context, email, text string) error {
	p, err := m.paths(email)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(p.email)
	defer unlock()

	if err := m.ensureDirs(p); err != nil {
		return err
	}
	if err := replaceFile(p.signature, []byte(text)); err != nil {
		return fmt.Errorf("failed to store signature: %w", err)
	}
	m.chown(p, p.signature)
	logger.Info("Sieve: signature stored", "email", p.email)
	return m.regenerate(ctx, p)
}

// DeleteSignature removes the stored signature if present.
func (m *Manager) DeleteSignature(ctx context.Context, email string) error {
	p, err := m.paths(email)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(p.email)
	defer unlock()

	if err := removeIfExists(p.signature); err != nil {
		return fmt.Errorf("failed to remove signature: %w", err)
	}
	return m.regenerate(ctx, p)
}

// GetVacation returns the stored vacation record. A record whose end date
// has passed is deleted, the script is rebuilt without it and nil is
// returned. Records that have not started yet are returned as stored.
func (m *Manager) GetVacation(ctx context.Context, email string) (*Vacation, error) {
	p, err := m.paths(email)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.lock(p.email)
	defer unlock()

	v, err := readVacation(p)
	if err != nil || v == nil {
		return nil, err
	}
	rule, err := v.Rule(m.location)
	if err != nil {
		return nil, fmt.Errorf("stored vacation for %s is unreadable: %w", p.email, err)
	}
	if !rule.ExpiredAt(m.now()) {
		return v, nil
	}

	logger.Info("Sieve: vacation expired, disabling", "email", p.email, "end_date", v.EndDate)
	if err := removeIfExists(p.vacation); err != nil {
		return nil, fmt.Errorf("failed to remove expired vacation: %w", err)
	}
	metrics.VacationExpirations.Inc()
	if err := m.regenerate(ctx, p); err != nil {
		return nil, err
	}
	return nil, nil
}

// SetVacation validates and stores a vacation window, replacing any
// previous record, and reactivates the script.
func (m *Manager) SetVacation(ctx context.Context, email, subject, message, startDate, endDate string) error {
	p, err := m.paths(email)
	if err != nil {
		return err
	}
	v, err := NewVacation(subject, message, startDate, endDate, m.location, m.maxVacationDays)
	if err != nil {
		return err
	}
	data, err := encodeVacation(v)
	if err != nil {
		return err
	}

	unlock := m.locks.lock(p.email)
	defer unlock()

	if err := m.ensureDirs(p); err != nil {
		return err
	}
	if err := replaceFile(p.vacation, data); err != nil {
		return fmt.Errorf("failed to store vacation: %w", err)
	}
	m.chown(p, p.vacation)
	logger.Info("Sieve: vacation stored", "email", p.email, "start_date", startDate, "end_date", endDate)
	return m.regenerate(ctx, p)
}

// DisableVacation removes the vacation record. Calling it when no record
// exists is not an error.
func (m *Manager) DisableVacation(ctx context.Context, email string) error {
	p, err := m.paths(email)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(p.email)
	defer unlock()

	if err := removeIfExists(p.vacation); err != nil {
		return fmt.Errorf("failed to remove vacation: %w", err)
	}
	return m.regenerate(ctx, p)
}

// Regenerate rebuilds and activates the script from the stored state.
func (m *Manager) Regenerate(ctx context.Context, email string) error {
	p, err := m.paths(email)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(p.email)
	defer unlock()

	return m.regenerate(ctx, p)
}

// ActiveScript returns the source of the currently installed script, or
// an empty string if none was ever activated.
func (m *Manager) ActiveScript(ctx context.Context, email string) (string, error) {
	p, err := m.paths(email)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p.script)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active script: %w", err)
	}
	return string(data), nil
}

// regenerate must be called with the mailbox lock held.
func (m *Manager) regenerate(ctx context.Context, p mailboxPaths) error {
	state, err := m.loadState(p)
	if err != nil {
		return err
	}
	return m.activate(ctx, p, BuildScript(state, m.now()))
}

func (m *Manager) loadState(p mailboxPaths) (State, error) {
	var state State

	sig, err := readSignature(p)
	if err != nil {
		return state, err
	}
	state.Signature = sig

	v, err := readVacation(p)
	if err != nil {
		return state, err
	}
	if v != nil {
		rule, err := v.Rule(m.location)
		if err != nil {
			logger.Warn("Sieve: ignoring unreadable vacation record", "email", p.email, "error", err)
		} else {
			state.Vacation = rule
		}
	}
	return state, nil
}

func (m *Manager) chown(p mailboxPaths, paths ...string) {
	if err := m.owner.Chown(paths...); err != nil {
		logger.Warn("Sieve: could not transfer ownership to service account", "email", p.email, "error", err)
	}
}

func readSignature(p mailboxPaths) (*string, error) {
	data, err := os.ReadFile(p.signature)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signature: %w", err)
	}
	text := string(data)
	return &text, nil
}

func readVacation(p mailboxPaths) (*Vacation, error) {
	data, err := os.ReadFile(p.vacation)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vacation: %w", err)
	}
	return decodeVacation(data)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// mailboxLocks serialises regenerations per mailbox. Entries are dropped
// once nobody holds or waits for them.
type mailboxLocks struct {
	mu    sync.Mutex
	locks map[string]*mailboxLock
}

type mailboxLock struct {
	sync.Mutex
	refs int
}

func newMailboxLocks() *mailboxLocks {
	return &mailboxLocks{locks: make(map[string]*mailboxLock)}
}

func (l *mailboxLocks) lock(key string) func() {
	l.mu.Lock()
	ml, ok := l.locks[key]
	if !ok {
		ml = &mailboxLock{}
		l.locks[key] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.Lock()
	return func() {
		ml.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
