// Package pidtrack records the OS process identifiers of launched batch
// processes and terminates processes in bulk.
//
// Two teardown modes exist on purpose. Tracked records cover the processes
// started by this invocation. Discovery (see Sweeper) finds role executables
// by command line and covers processes from earlier invocations, whose
// in-memory records are gone.
package pidtrack

import (
	"sync"
	"time"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// ProcessRecord describes one spawned child.
type ProcessRecord struct {
	Role      launchconfig.Role `json:"role"`
	PID       int               `json:"pid"`
	LogPath   string            `json:"log_path,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// Tracker keeps one FIFO queue of records per role.
//
// All access goes through a single mutex. Snapshot returns copies, so
// callers never observe a queue while it is being appended to.
type Tracker struct {
	mu     sync.Mutex
	queues map[launchconfig.Role][]ProcessRecord
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		queues: make(map[launchconfig.Role][]ProcessRecord, 3),
		now:    time.Now,
	}
}

// Record appends pid to role's queue. Unrecognized roles are ignored.
func (t *Tracker) Record(pid int, role launchconfig.Role) {
	t.Add(ProcessRecord{Role: role, PID: pid})
}

// Add appends rec to its role's queue, stamping StartedAt if unset.
// Records with an unrecognized role are ignored.
func (t *Tracker) Add(rec ProcessRecord) {
	if !rec.Role.Valid() {
		return
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = t.now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[rec.Role] = append(t.queues[rec.Role], rec)
}

// RemoveOldest pops the earliest record for role. On an empty queue it does
// nothing and reports false.
func (t *Tracker) RemoveOldest(role launchconfig.Role) (ProcessRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.queues[role]
	if len(q) == 0 {
		return ProcessRecord{}, false
	}
	rec := q[0]
	q[0] = ProcessRecord{}
	t.queues[role] = q[1:]
	return rec, true
}

// Len returns the number of records queued for role.
func (t *Tracker) Len(role launchconfig.Role) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[role])
}

// Snapshot returns a copy of all records, grouped in launch role order and
// FIFO within each role. Queue state is not modified.
func (t *Tracker) Snapshot() []ProcessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, q := range t.queues {
		total += len(q)
	}
	out := make([]ProcessRecord, 0, total)
	for _, role := range launchconfig.Roles() {
		out = append(out, t.queues[role]...)
	}
	return out
}

// ListAll is an alias of Snapshot.
func (t *Tracker) ListAll() []ProcessRecord {
	return t.Snapshot()
}
