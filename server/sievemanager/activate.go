package sievemanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/metrics"
)

// activate lints, compiles and publishes script for the mailbox at p. Until
// the staged files are renamed into place the active script is untouched.
func (m *Manager) activate(ctx context.Context, p mailboxPaths, script string) (err error) {
	start := time.Now()
	defer func() {
		metrics.SieveCompilations.WithLabelValues(compileResult(err)).Inc()
		if err == nil {
			metrics.SieveActivationDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := Lint(script, RequiredExtensions); err != nil {
		logger.Warn("Sieve: generated script rejected by parser", "email", p.email, "error", err)
		return err
	}

	if err := m.ensureDirs(p); err != nil {
		return err
	}

	stagedScript, err := writeStaging(p.sieveDir, "."+scriptFile+"-*", []byte(script))
	if err != nil {
		return err
	}
	stagedCompiled := stagedScript + ".bin"
	committed := false
	defer func() {
		if !committed {
			os.Remove(stagedScript)
			os.Remove(stagedCompiled)
		}
	}()

	if err := m.compiler.Compile(ctx, stagedScript, stagedCompiled); err != nil {
		logger.Warn("Sieve: compilation failed, keeping previous script", "email", p.email, "error", err)
		return err
	}
	if err := os.Chmod(stagedCompiled, filePerm); err != nil {
		return fmt.Errorf("failed to set permissions on compiled script: %w", err)
	}

	// The compiled artifact is installed first. The previous one is kept as a
	// hard link so it can be put back if the source cannot follow.
	previous := stagedScript + ".prev"
	hasPrevious := os.Link(p.compiled, previous) == nil
	defer os.Remove(previous)

	if err := os.Rename(stagedCompiled, p.compiled); err != nil {
		return fmt.Errorf("failed to install compiled script: %w", err)
	}
	if err := os.Rename(stagedScript, p.script); err != nil {
		if hasPrevious {
			if rerr := os.Rename(previous, p.compiled); rerr != nil {
				logger.Error("Sieve: failed to restore previous compiled script", "email", p.email, "error", rerr)
			}
		} else {
			os.Remove(p.compiled)
		}
		return fmt.Errorf("failed to install script: %w", err)
	}
	committed = true

	if err := retargetPointer(p.pointer, pointerTarget); err != nil {
		return err
	}

	m.chown(p, p.domainDir, p.home, p.sieveDir, p.script, p.compiled, p.pointer)
	logger.Info("Sieve: activated filter script", "email", p.email, "duration", time.Since(start))
	return nil
}

// retargetPointer points link at target by renaming a fresh symlink over it.
// Readers see either the old link or the new one.
func retargetPointer(link, target string) error {
	if current, err := os.Readlink(link); err == nil && current == target {
		return nil
	}

	tmp := link + ".tmp-" + strconv.Itoa(os.Getpid()) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("failed to create activation pointer: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to swap activation pointer: %w", err)
	}
	return nil
}

func (m *Manager) ensureDirs(p mailboxPaths) error {
	for _, dir := range []string{p.domainDir, p.home, p.sieveDir} {
		if err := os.Mkdir(dir, dirPerm); err != nil && !os.IsExist(err) {
			if os.IsNotExist(err) {
				return fmt.Errorf("mailbox base path %s does not exist: %w", m.basePath, err)
			}
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// writeStaging writes data to a new uniquely named file in dir.
func writeStaging(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return name, nil
}

// replaceFile atomically replaces path with data.
func replaceFile(path string, data []byte) error {
	staged, err := writeStaging(filepath.Dir(path), "."+filepath.Base(path)+"-*", data)
	if err != nil {
		return err
	}
	if err := os.Rename(staged, path); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
