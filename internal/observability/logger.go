// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.Mutex

	// CLILogger reports launcher progress to stderr. It is a no-op until
	// InitCLILogger runs so packages may log unconditionally.
	CLILogger = zap.NewNop()
)

// InitCLILogger replaces CLILogger with a console logger named service.
// Verbose lowers the threshold from info to debug.
func InitCLILogger(service string, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	return SetCLILogger(newConsoleLogger(service, level, zapcore.Lock(os.Stderr)))
}

// SetCLILogger installs l and returns it. A nil l installs a no-op logger.
func SetCLILogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	CLILogger = l
	return l
}

// Sync flushes the CLI logger. Errors from syncing a terminal are ignored.
func Sync() {
	mu.Lock()
	l := CLILogger
	mu.Unlock()
	_ = l.Sync()
}

func newConsoleLogger(service string, level zapcore.Level, ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, zap.NewAtomicLevelAt(level))
	return zap.New(core).Named(service)
}
