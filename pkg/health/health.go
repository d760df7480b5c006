package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/metrics"
)

type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

// Check is a single probe. A failing critical check makes the whole report
// unhealthy, a failing optional one only degrades it.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type ComponentReport struct {
	Status   ComponentStatus `json:"status"`
	Critical bool            `json:"critical"`
	Error    string          `json:"error,omitempty"`
}

type Report struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentReport `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Healthy is true unless a critical component failed.
func (r Report) Healthy() bool {
	return r.Status != StatusUnhealthy
}

// Failed returns the names of failing components in sorted order.
func (r Report) Failed() []string {
	var names []string
	for name, c := range r.Components {
		if c.Status != StatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Checker runs its checks on demand. There is no background polling.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
}

func New(checks ...Check) *Checker {
	c := &Checker{}
	for _, check := range checks {
		c.Register(check)
	}
	return c
}

// Register adds a check, replacing any earlier one with the same name.
func (c *Checker) Register(check Check) {
	if check.Timeout <= 0 {
		check.Timeout = defaultCheckTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].Name == check.Name {
			c.checks[i] = check
			return
		}
	}
	c.checks = append(c.checks, check)
}

// Run executes every check concurrently and waits for all of them.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	report := Report{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentReport, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			err := runCheck(ctx, check)

			component := ComponentReport{Status: StatusHealthy, Critical: check.Critical}
			if err != nil {
				component.Error = err.Error()
				if check.Critical {
					component.Status = StatusUnhealthy
				} else {
					component.Status = StatusDegraded
				}
				logger.Warn("Health: check failed", "component", check.Name, "critical", check.Critical, "error", err)
			}
			metrics.ComponentHealth.WithLabelValues(check.Name).Set(gaugeValue(component.Status))

			mu.Lock()
			report.Components[check.Name] = component
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	for _, component := range report.Components {
		switch {
		case component.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case component.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func runCheck(ctx context.Context, check Check) error {
	if check.Run == nil {
		return errors.New("no check function")
	}
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	// buffered so a check that outlives its timeout does not block forever
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- check.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("check timed out after %s", check.Timeout)
	}
}

func gaugeValue(status ComponentStatus) float64 {
	switch status {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// DirWritable checks that path is a directory the process can create files in.
func DirWritable(path string) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}
		f, err := os.CreateTemp(path, ".health-*")
		if err != nil {
			return fmt.Errorf("%s is not writable: %w", path, err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}
}

// Executable checks that path names an executable regular file.
func Executable(path string) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode().Perm()&0111 == 0 {
			return fmt.Errorf("%s is not executable", filepath.Clean(path))
		}
		return nil
	}
}
