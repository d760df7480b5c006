package passhash

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptKnownVectors(t *testing.T) {
	tests := []struct {
		setting string
		key     string
		want    string
	}{
		{
			setting: "$6$saltstring",
			key:     "Hello world!",
			want:    "$6$saltstring$svn8UoSVapNtMuq1ukKS4tPQd8iKwSMHWjl/O817G3uBnIFNjnQJuesI68u4OTLiBFdcbYEdFCoEOfaS35inz1",
		},
		{
			setting: "$6$rounds=10000$saltstringsaltstring",
			key:     "Hello world!",
			want:    "$6$rounds=10000$saltstringsaltst$OW1/O6BYHV6BcXZu8QVeXbDWra3Oeqh0sbHbbMCVNSnCM/UrjmM0Dp8vOuZeHBy/YTBmSK6H9qs/y3RnOaw5v.",
		},
		{
			setting: "$6$rounds=5000$toolongsaltstring",
			key:     "This is just a test",
			want:    "$6$rounds=5000$toolongsaltstrin$lQ8jolhgVRVhY4b5pZKaysCLi0QBxGoNeKQzQ3glMhwllF7oGDZxUhx1yxdYcz/e1JSbq3y6JMxxl8audkUEm0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			got, err := Crypt(tt.key, tt.setting)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, Verify(got, tt.key))
			assert.True(t, IsSHA512Crypt(got))
		})
	}
}

func TestCryptRejectsOtherSchemes(t *testing.T) {
	_, err := Crypt("pw", "$1$md5salt")
	assert.ErrorIs(t, err, ErrMalformedHash)
	assert.False(t, Verify("$2a$10$abcdefghijklmnopqrstuv", "pw"))
}

func TestVerifyAcceptsSchemePrefix(t *testing.T) {
	hash, err := CryptWithSalt("secret", "abcdefgh", DefaultRounds)
	require.NoError(t, err)
	assert.True(t, Verify(SchemePrefix+hash, "secret"))
	assert.False(t, Verify(SchemePrefix+hash, "wrong"))
}

func TestLocalHasher(t *testing.T) {
	h := LocalHasher{}
	hash, err := h.Hash(context.Background(), "secret")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$6$rounds=5000$"))
	salt := strings.Split(hash, "$")[3]
	assert.Len(t, salt, SaltLength)
	for _, c := range salt {
		assert.Contains(t, SaltAlphabet, string(c))
	}
	assert.True(t, Verify(hash, "secret"))

	other, err := h.Hash(context.Background(), "secret")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts must differ between calls")

	_, err = h.Hash(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func writeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doveadm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestExternalHasherReadsPasswordFromStdin(t *testing.T) {
	known, err := CryptWithSalt("secret", "stdinsalt", DefaultRounds)
	require.NoError(t, err)

	// The tool only prints the hash when it was handed the right password.
	tool := writeTool(t, `read pw; read confirm
if [ "$pw" = "secret" ] && [ "$confirm" = "secret" ] && [ "$#" -eq 3 ]; then
  printf '%s\n' '{SHA512-CRYPT}`+known+`'
else
  exit 1
fi`)

	h := ExternalHasher{Path: tool, Args: []string{"pw", "-s", "SHA512-CRYPT"}, Timeout: 5 * time.Second}
	require.True(t, h.Available())

	hash, err := h.Hash(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, known, hash)
}

func TestFallbackHasher(t *testing.T) {
	ctx := context.Background()
	known, err := CryptWithSalt("secret", "externalsalt", DefaultRounds)
	require.NoError(t, err)

	tests := []struct {
		name         string
		tool         func(t *testing.T) string
		timeout      time.Duration
		schemePrefix bool
		wantExact    string
	}{
		{
			name:      "external tool used when available",
			tool:      func(t *testing.T) string { return writeTool(t, `cat >/dev/null; printf '%s\n' '`+known+`'`) },
			wantExact: known,
		},
		{
			name:         "scheme prefix applied to external output",
			tool:         func(t *testing.T) string { return writeTool(t, `cat >/dev/null; printf '%s\n' '`+known+`'`) },
			schemePrefix: true,
			wantExact:    SchemePrefix + known,
		},
		{
			name: "missing tool falls back",
			tool: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent") },
		},
		{
			name: "no tool configured falls back",
			tool: func(t *testing.T) string { return "" },
		},
		{
			name: "failing tool falls back",
			tool: func(t *testing.T) string { return writeTool(t, "echo 'Fatal: unknown scheme' >&2; exit 89") },
		},
		{
			name: "garbage output falls back",
			tool: func(t *testing.T) string { return writeTool(t, "cat >/dev/null; echo 'not a hash'") },
		},
		{
			name:    "slow tool falls back after timeout",
			tool:    func(t *testing.T) string { return writeTool(t, "exec sleep 10") },
			timeout: 200 * time.Millisecond,
		},
		{
			name:         "scheme prefix applied to local fallback",
			tool:         func(t *testing.T) string { return "" },
			schemePrefix: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.tool(t), []string{"pw", "-s", "SHA512-CRYPT"}, tt.timeout, 0, tt.schemePrefix)

			hash, err := h.Hash(ctx, "secret")
			require.NoError(t, err)

			if tt.wantExact != "" {
				assert.Equal(t, tt.wantExact, hash)
			}
			assert.Equal(t, tt.schemePrefix, strings.HasPrefix(hash, SchemePrefix))
			assert.True(t, IsSHA512Crypt(hash))
			assert.True(t, Verify(hash, "secret"))
		})
	}
}

func TestFallbackHasherRejectsEmptyPassword(t *testing.T) {
	h := New("", nil, 0, 0, false)
	_, err := h.Hash(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}
