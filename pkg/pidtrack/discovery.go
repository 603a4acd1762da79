package pidtrack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultPatterns match the role executables by path.
var DefaultPatterns = []string{
	"**/runtime_locking_shardd",
	"**/ticket_machined",
	"**/agentd",
}

// ProcessInfo is one row of the system process table.
type ProcessInfo struct {
	PID  int      `json:"pid"`
	Args []string `json:"args"`
}

// Executable returns argv[0], or "" when the command line is empty.
func (p ProcessInfo) Executable() string {
	if len(p.Args) == 0 {
		return ""
	}
	return p.Args[0]
}

// ProcessLister enumerates running processes.
type ProcessLister interface {
	List(ctx context.Context) ([]ProcessInfo, error)
}

// SystemLister reads the process table through gopsutil, which works the
// same on Linux, macOS and Windows.
type SystemLister struct{}

// List implements ProcessLister. Processes whose command line cannot be
// read (exited mid-scan, or owned by another user) are skipped.
func (SystemLister) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			continue
		}
		out = append(out, ProcessInfo{PID: int(p.Pid), Args: args})
	}
	return out, nil
}

// Sweeper finds role processes by executable path and force-kills them.
type Sweeper struct {
	lister   ProcessLister
	patterns []string
	kill     func(pid int) error
	self     int
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLister replaces the process table source.
func WithLister(l ProcessLister) SweeperOption {
	return func(s *Sweeper) {
		s.lister = l
	}
}

// WithKill replaces the kill function.
func WithKill(kill func(pid int) error) SweeperOption {
	return func(s *Sweeper) {
		s.kill = kill
	}
}

// NewSweeper creates a sweeper matching executables against patterns.
// An empty pattern list selects DefaultPatterns.
func NewSweeper(patterns []string, opts ...SweeperOption) (*Sweeper, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid discovery pattern %q", p)
		}
	}

	s := &Sweeper{
		lister:   SystemLister{},
		patterns: append([]string(nil), patterns...),
		kill:     KillProcess,
		self:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Patterns returns the configured patterns.
func (s *Sweeper) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// Discover returns every process whose executable matches a pattern,
// excluding the calling process.
func (s *Sweeper) Discover(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := s.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	var matched []ProcessInfo
	for _, p := range procs {
		if p.PID == s.self {
			continue
		}
		if s.matches(p.Executable()) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// TerminateAllByDiscovery force-kills every discovered process.
//
// This is a best-effort sweep: every match is attempted, the PIDs that were
// signalled are returned, and individual failures are joined into err.
func (s *Sweeper) TerminateAllByDiscovery(ctx context.Context) ([]int, error) {
	matched, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var (
		killed []int
		errs   []error
	)
	for _, p := range matched {
		if err := s.kill(p.PID); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d (%s): %w", p.PID, p.Executable(), err))
			continue
		}
		killed = append(killed, p.PID)
	}
	return killed, errors.Join(errs...)
}

func (s *Sweeper) matches(exe string) bool {
	if exe == "" {
		return false
	}
	exe = strings.TrimPrefix(exe, filepath.VolumeName(exe))
	exe = strings.TrimSuffix(filepath.ToSlash(exe), ".exe")
	candidate := strings.TrimPrefix(path.Clean(exe), "/")
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, candidate); ok {
			return true
		}
	}
	return false
}
