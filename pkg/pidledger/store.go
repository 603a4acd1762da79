// Package pidledger persists the PIDs of launched processes so that later
// invocations (status, kill) can find them after the launcher has exited.
package pidledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/parsecup/pkg/pidtrack"
)

// DefaultFileName is the ledger file name inside the state dir.
const DefaultFileName = "pids.json"

// Store reads and writes the ledger file.
//
// Every write replaces the whole file via temp file + rename, so readers see
// either the previous or the next ledger, never a partial one.
type Store struct {
	path  string
	mu    sync.Mutex
	alive func(pid int) bool
	now   func() time.Time
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{
		path:  strings.TrimSpace(path),
		alive: pidtrack.IsAlive,
		now:   time.Now,
	}
}

// Open creates a store for <stateDir>/pids.json.
func Open(stateDir string) *Store {
	return NewStore(filepath.Join(stateDir, DefaultFileName))
}

// Path returns the ledger file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns all records. A missing ledger is empty, not an error.
func (s *Store) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Append adds rec to the ledger.
func (s *Store) Append(rec Record) error {
	if rec.PID <= 0 {
		return fmt.Errorf("ledger record requires a pid")
	}
	return s.Update(func(records []Record) ([]Record, error) {
		return append(records, rec), nil
	})
}

// Update applies fn to the current records and persists the result.
// If fn returns an error nothing is written.
func (s *Store) Update(fn func([]Record) ([]Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(records)
	if err != nil {
		return err
	}
	return s.write(next)
}

// MarkTerminated sets the state of the record for pid in batchID.
func (s *Store) MarkTerminated(batchID string, pid int) error {
	return s.Update(func(records []Record) ([]Record, error) {
		now := s.now().UTC()
		for i := range records {
			if records[i].BatchID == batchID && records[i].PID == pid {
				records[i].State = StateTerminated
				records[i].EndedAt = &now
			}
		}
		return records, nil
	})
}

// Live loads the ledger and re-checks every running record. A record that
// claims running but whose pid is gone is downgraded to unknown and the
// change is persisted.
func (s *Store) Live() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}

	changed := false
	for i := range records {
		if records[i].State == StateRunning && !s.alive(records[i].PID) {
			records[i].State = StateUnknown
			changed = true
		}
	}
	if changed {
		if err := s.write(records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Prune re-checks liveness, then drops every record that is no longer
// running. It returns the number of records removed.
func (s *Store) Prune() (int, error) {
	if _, err := s.Live(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.Update(func(records []Record) ([]Record, error) {
		kept := records[:0]
		for _, r := range records {
			if r.State == StateRunning {
				kept = append(kept, r)
				continue
			}
			removed++
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Running returns records still in the running state after a liveness check.
func (s *Store) Running() ([]Record, error) {
	records, err := s.Live()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.State == StateRunning {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) read() ([]Record, error) {
	if s.path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, nil
	}

	var f file
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
	}
	return f.Records, nil
}

func (s *Store) write(records []Record) error {
	if s.path == "" {
		return fmt.Errorf("ledger path is empty")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if records == nil {
		records = []Record{}
	}

	b, err := json.MarshalIndent(file{
		Version:   SchemaVersion,
		UpdatedAt: s.now().UTC(),
		Records:   records,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, DefaultFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}
