package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer SetCLILogger(orig)

	tests := []struct {
		name    string
		verbose bool
		debug   bool
	}{
		{name: "default is info", verbose: false, debug: false},
		{name: "verbose enables debug", verbose: true, debug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := InitCLILogger("test", tt.verbose)
			require.NotNil(t, l)
			assert.Same(t, l, CLILogger)
			assert.Equal(t, tt.debug, l.Core().Enabled(zapcore.DebugLevel))
			assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestConsoleLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newConsoleLogger("parsecup", zapcore.InfoLevel, zapcore.AddSync(&buf))

	l.Debug("hidden")
	l.Info("launch started", zap.String("batch_id", "b1"))
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "parsecup")
	assert.Contains(t, out, "launch started")
	assert.Contains(t, out, `"batch_id": "b1"`)
}

func TestSetCLILogger_Nil(t *testing.T) {
	orig := CLILogger
	defer SetCLILogger(orig)

	l := SetCLILogger(nil)
	require.NotNil(t, l)
	l.Info("ignored")
}
