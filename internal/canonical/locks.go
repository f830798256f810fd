package canonical

import "sync"

// Locks serializes writes per run. Different runs never contend.
type Locks struct {
	mu   sync.Mutex
	runs map[string]*sync.Mutex
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{runs: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the run's lock is held and returns its release.
func (l *Locks) Acquire(runID string) func() {
	l.mu.Lock()
	m, ok := l.runs[runID]
	if !ok {
		m = &sync.Mutex{}
		l.runs[runID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
