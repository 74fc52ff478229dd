package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		env       string
		verbose   bool
		wantDebug bool
	}{
		{env: "production", verbose: false, wantDebug: false},
		{env: "production", verbose: true, wantDebug: true},
		{env: "development", verbose: false, wantDebug: true},
	}
	for _, tt := range tests {
		logger, err := New(tt.env, tt.verbose)
		require.NoError(t, err)
		assert.Equal(t, tt.wantDebug, logger.Core().Enabled(zapcore.DebugLevel), "env=%s verbose=%v", tt.env, tt.verbose)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	}
}
