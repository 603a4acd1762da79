package logsink

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// Sink is one role's log file and the logger writing to it.
type Sink struct {
	Name   string
	Path   string
	Logger *zap.Logger

	file *os.File
}

// File returns the underlying append-only file. Child processes write their
// stdout and stderr here.
func (s *Sink) File() *os.File {
	return s.file
}

// Set is the collection of sinks for one run.
type Set struct {
	order []string
	sinks map[string]*Sink
}

// DefaultNames lists the sinks opened for a launch: main first, then roles.
func DefaultNames() []string {
	names := []string{launchconfig.MainSink}
	for _, r := range launchconfig.Roles() {
		names = append(names, r.String())
	}
	return names
}

// Open creates one sink per name under the log root. With no names,
// DefaultNames is used. On failure every sink already opened is closed.
func (m *Manager) Open(names ...string) (*Set, error) {
	if len(names) == 0 {
		names = DefaultNames()
	}

	set := &Set{sinks: make(map[string]*Sink, len(names))}
	for _, name := range names {
		if _, dup := set.sinks[name]; dup {
			continue
		}
		sink, err := m.openSink(name)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.order = append(set.order, name)
		set.sinks[name] = sink
	}
	return set, nil
}

func (m *Manager) openSink(name string) (*Sink, error) {
	path := m.SinkPath(name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &LogSetupError{Op: "open", Path: path, Err: err}
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig(name)),
		zapcore.Lock(f),
		zap.NewAtomicLevelAt(ZapLevel(m.level)),
	)
	return &Sink{
		Name:   name,
		Path:   path,
		Logger: zap.New(core),
		file:   f,
	}, nil
}

// encoderConfig renders "<name> - <SEVERITY> - <message>". The level encoder
// writes the name and severity as one field so the console separator only
// appears between them and the message.
func encoderConfig(name string) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		LevelKey:   "level",
		MessageKey: "msg",
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + " - " + SeverityName(l))
		},
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
		LineEnding:       zapcore.DefaultLineEnding,
	}
}

// ZapLevel maps a launch log level onto zap. CRITICAL maps to DPanic; sink
// loggers are never in development mode, so DPanic never panics.
func ZapLevel(l launchconfig.LogLevel) zapcore.Level {
	switch l {
	case launchconfig.LevelDebug:
		return zapcore.DebugLevel
	case launchconfig.LevelInfo:
		return zapcore.InfoLevel
	case launchconfig.LevelError:
		return zapcore.ErrorLevel
	case launchconfig.LevelCritical:
		return zapcore.DPanicLevel
	default:
		return zapcore.WarnLevel
	}
}

// SeverityName is the upper-case severity printed in sink lines.
func SeverityName(l zapcore.Level) string {
	switch {
	case l <= zapcore.DebugLevel:
		return "DEBUG"
	case l == zapcore.InfoLevel:
		return "INFO"
	case l == zapcore.WarnLevel:
		return "WARNING"
	case l == zapcore.ErrorLevel:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}

// Sink returns the named sink, or nil.
func (s *Set) Sink(name string) *Sink {
	if s == nil {
		return nil
	}
	return s.sinks[name]
}

// Logger returns the named sink's logger, or a no-op logger.
func (s *Set) Logger(name string) *zap.Logger {
	if sink := s.Sink(name); sink != nil {
		return sink.Logger
	}
	return zap.NewNop()
}

// Paths returns the file path of every sink, keyed by name.
func (s *Set) Paths() map[string]string {
	out := make(map[string]string, len(s.sinks))
	for name, sink := range s.sinks {
		out[name] = sink.Path
	}
	return out
}

// Close flushes and closes every sink.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, name := range s.order {
		sink := s.sinks[name]
		_ = sink.Logger.Sync()
		if err := sink.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", sink.Path, err))
		}
	}
	return errors.Join(errs...)
}
