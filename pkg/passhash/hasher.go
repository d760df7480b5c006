// Package passhash produces SHA512-CRYPT password hashes for the mail
// system's passdb.
//
// Hashing prefers an external tool (doveadm pw) when one is configured and
// present, and falls back to a local implementation of the same crypt
// format otherwise. Both strategies share the encoder in sha512crypt.go.
package passhash

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/logger"
	"github.com/grufocom/postsible/pkg/metrics"
)

var ErrEmptyPassword = errors.New("password cannot be empty")

// Hasher turns a plaintext password into a hash string.
type Hasher interface {
	Hash(ctx context.Context, password string) (string, error)
}

// LocalHasher computes SHA512-CRYPT in process with a random salt.
type LocalHasher struct {
	Rounds int
}

func (h LocalHasher) Hash(_ context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt, err := GenerateSalt(SaltLength)
	if err != nil {
		return "", err
	}
	rounds := h.Rounds
	if rounds == 0 {
		rounds = DefaultRounds
	}
	return CryptWithSalt(password, salt, rounds)
}

// GenerateSalt returns n characters drawn uniformly from SaltAlphabet.
func GenerateSalt(n int) (string, error) {
	max := big.NewInt(int64(len(SaltAlphabet)))
	salt := make([]byte, n)
	for i := range salt {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate salt: %w", err)
		}
		salt[i] = SaltAlphabet[idx.Int64()]
	}
	return string(salt), nil
}

// ExternalHasher runs a password hashing tool out of process. The password
// is written to the tool's stdin twice (entry and confirmation) and never
// appears in its argument list.
type ExternalHasher struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Available reports whether the tool is configured and executable.
func (h ExternalHasher) Available() bool {
	if h.Path == "" {
		return false
	}
	info, err := os.Stat(h.Path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode().Perm()&0111 != 0
}

func (h ExternalHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	cmd.Stdin = strings.NewReader(password + "\n" + password + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return "", &consts.ExternalToolError{Tool: h.Path, Err: err}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s timed out after %s", h.Path, timeout)
		}
		return "", fmt.Errorf("%s failed: %w: %s", h.Path, err, strings.TrimSpace(stderr.String()))
	}

	hash := StripScheme(strings.TrimSpace(stdout.String()))
	if !IsSHA512Crypt(hash) {
		return "", fmt.Errorf("%s returned output that is not a SHA512-CRYPT hash", h.Path)
	}
	if !Verify(hash, password) {
		return "", fmt.Errorf("%s returned a hash that does not verify", h.Path)
	}
	return hash, nil
}

// FallbackHasher tries Primary when it is available and uses Local on any
// failure. Unavailability of the primary is not an error.
type FallbackHasher struct {
	Primary ExternalHasher
	Local   LocalHasher
	// SchemePrefix makes both strategies return "{SHA512-CRYPT}$6$...".
	SchemePrefix bool
}

// New builds the hasher used by the account store.
func New(toolPath string, toolArgs []string, timeout time.Duration, rounds int, schemePrefix bool) *FallbackHasher {
	return &FallbackHasher{
		Primary:      ExternalHasher{Path: toolPath, Args: toolArgs, Timeout: timeout},
		Local:        LocalHasher{Rounds: rounds},
		SchemePrefix: schemePrefix,
	}
}

func (h *FallbackHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	if h.Primary.Available() {
		hash, err := h.Primary.Hash(ctx, password)
		if err == nil {
			metrics.PasswordHashes.WithLabelValues("external", "success").Inc()
			return h.format(hash), nil
		}
		metrics.PasswordHashes.WithLabelValues("external", "failure").Inc()
		logger.Warn("Credentials: external hasher failed, using local SHA512-CRYPT", "tool", h.Primary.Path, "error", err)
	} else if h.Primary.Path != "" {
		logger.Debug("Credentials: external hasher not available, using local SHA512-CRYPT", "tool", h.Primary.Path)
	}

	hash, err := h.Local.Hash(ctx, password)
	if err != nil {
		metrics.PasswordHashes.WithLabelValues("local", "failure").Inc()
		return "", err
	}
	metrics.PasswordHashes.WithLabelValues("local", "success").Inc()
	return h.format(hash), nil
}

func (h *FallbackHasher) format(hash string) string {
	hash = StripScheme(hash)
	if h.SchemePrefix {
		return SchemePrefix + hash
	}
	return hash
}
