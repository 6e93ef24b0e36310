package worker

import (
	"sync"
	"time"
)

// LoopStatus is a snapshot of one loop's most recent iteration, read
// through Worker.Status and admin.Service.LoopStatus. The /admin/stats
// endpoint does not include it; it reports only the per-status counts.
type LoopStatus struct {
	Name       string    `json:"name"`
	LastRunAt  time.Time `json:"last_run_at"`
	LastError  string    `json:"last_error,omitempty"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
}

type statusTracker struct {
	mu     sync.Mutex
	byName map[string]*LoopStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{byName: make(map[string]*LoopStatus)}
}

func (t *statusTracker) record(name string, at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byName[name]
	if !ok {
		s = &LoopStatus{Name: name}
		t.byName[name] = s
	}
	s.LastRunAt = at
	s.RunCount++
	if err != nil {
		s.LastError = err.Error()
		s.ErrorCount++
	} else {
		s.LastError = ""
	}
}

// Snapshot returns the current status of every loop that has run at least
// once.
func (t *statusTracker) Snapshot() []LoopStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LoopStatus, 0, len(t.byName))
	for _, s := range t.byName {
		out = append(out, *s)
	}
	return out
}

// Status returns a snapshot of every loop's last-run status.
func (w *Worker) Status() []LoopStatus {
	return w.status.Snapshot()
}
