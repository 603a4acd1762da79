// Package logsink manages the per-run log directory: it archives the previous
// run's directory by rename, recreates an empty one, and opens one append-only
// zap logger per role.
package logsink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

const (
	// DefaultRoot is the log directory used when none is configured.
	DefaultRoot = "logs_parsec"

	// DefaultArchivePrefix names archived log directories.
	DefaultArchivePrefix = "logs_parsec_archived"

	// TimestampLayout is the second-resolution archive suffix.
	TimestampLayout = "2006-01-02_15-04-05"
)

// Manager owns one log root.
type Manager struct {
	root     string
	prefix   string
	level    launchconfig.LogLevel
	now      func() time.Time
	archived string
}

// NewManager creates a manager for root. Archives are created next to root
// as <prefix>_<timestamp>.
func NewManager(root, archivePrefix string, level launchconfig.LogLevel) *Manager {
	root = strings.TrimSpace(root)
	if root == "" {
		root = DefaultRoot
	}
	archivePrefix = strings.TrimSpace(archivePrefix)
	if archivePrefix == "" {
		archivePrefix = filepath.Base(root) + "_archived"
	}
	return &Manager{
		root:   filepath.Clean(root),
		prefix: archivePrefix,
		level:  level,
		now:    time.Now,
	}
}

// Root returns the log directory.
func (m *Manager) Root() string {
	return m.root
}

// Archived returns the path the previous log directory was moved to by the
// last Prepare, or "" if there was nothing to archive.
func (m *Manager) Archived() string {
	return m.archived
}

// Prepare leaves an empty log root. An existing root is renamed to a fresh
// archive path first.
func (m *Manager) Prepare() error {
	m.archived = ""

	st, err := os.Stat(m.root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(m.root, 0755); err != nil {
			return &LogSetupError{Op: "create", Path: m.root, Err: err}
		}
		return nil
	case err != nil:
		return &LogSetupError{Op: "stat", Path: m.root, Err: err}
	case !st.IsDir():
		return &LogSetupError{Op: "stat", Path: m.root, Err: fmt.Errorf("not a directory")}
	}

	dest, err := m.archivePath()
	if err != nil {
		return err
	}
	if err := os.Rename(m.root, dest); err != nil {
		return &LogSetupError{Op: "archive", Path: m.root, Err: err}
	}
	m.archived = dest

	if err := os.MkdirAll(m.root, 0755); err != nil {
		return &LogSetupError{Op: "create", Path: m.root, Err: err}
	}
	return nil
}

func (m *Manager) archivePath() (string, error) {
	base := filepath.Join(filepath.Dir(m.root), m.prefix+"_"+m.now().Format(TimestampLayout))
	candidate := base
	for n := 1; ; n++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", &LogSetupError{Op: "stat", Path: candidate, Err: err}
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}

// Archive is one archived log directory.
type Archive struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// ListArchives returns this root's archives, oldest first. Entries whose
// names do not carry a parsable timestamp are ignored.
func (m *Manager) ListArchives() ([]Archive, error) {
	parent := filepath.Dir(m.root)
	entries, err := os.ReadDir(parent)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", parent, err)
	}

	want := m.prefix + "_"
	var out []Archive
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), want) {
			continue
		}
		stamp := strings.TrimPrefix(e.Name(), want)
		if len(stamp) > len(TimestampLayout) {
			stamp = stamp[:len(TimestampLayout)]
		}
		created, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, Archive{Path: filepath.Join(parent, e.Name()), CreatedAt: created})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Path < out[j].Path
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PruneArchives removes archives older than maxAge and returns them. With
// dryRun nothing is removed.
func (m *Manager) PruneArchives(maxAge time.Duration, dryRun bool) ([]Archive, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be > 0")
	}
	archives, err := m.ListArchives()
	if err != nil {
		return nil, err
	}

	now := m.now()
	var pruned []Archive
	for _, a := range archives {
		if now.Sub(a.CreatedAt) <= maxAge {
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(a.Path); err != nil {
				return pruned, fmt.Errorf("remove archive: %w", err)
			}
		}
		pruned = append(pruned, a)
	}
	return pruned, nil
}

// SinkPath returns <root>/<name>.log.
func (m *Manager) SinkPath(name string) string {
	return filepath.Join(m.root, name+".log")
}
