package errors

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracefulError(t *testing.T) {
	inner := fmt.Errorf("dial tcp: connection refused")
	err := NewGracefulError("connect database", inner)
	assert.Equal(t, "operation 'connect database' failed: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestErrorHandlerKeepsFirstCode(t *testing.T) {
	eh := NewErrorHandler()
	eh.ConfigError("/etc/postsible/config.toml", os.ErrNotExist)
	eh.FatalError("start admin API", fmt.Errorf("address in use"))

	code, ok := eh.WaitForExitWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, ExitConfig, code)

	_, ok = eh.WaitForExitWithTimeout(10 * time.Millisecond)
	assert.False(t, ok, "only one code is buffered")
}

func TestErrorHandlerExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		report func(eh *ErrorHandler)
		want   int
	}{
		{name: "fatal", report: func(eh *ErrorHandler) { eh.FatalError("serve", fmt.Errorf("boom")) }, want: ExitFailure},
		{name: "config", report: func(eh *ErrorHandler) { eh.ConfigError("x.toml", fmt.Errorf("bad toml")) }, want: ExitConfig},
		{name: "validation", report: func(eh *ErrorHandler) { eh.ValidationError("sieve.base_path", fmt.Errorf("required")) }, want: ExitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eh := NewErrorHandler()
			tt.report(eh)
			select {
			case code := <-eh.Done():
				assert.Equal(t, tt.want, code)
			case <-time.After(time.Second):
				t.Fatal("no exit code reported")
			}
		})
	}
}

func TestShutdownDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewErrorHandler().Shutdown(ctx)
	NewErrorHandler().Shutdown(context.Background())
}
