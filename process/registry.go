package process

import (
	"sync"

	"golang.org/x/sys/unix"
)

// registryEntry is a non-owning back-reference to a running Process: its
// pid and identity, never the Process itself.
type registryEntry struct {
	id  uint64
	pid int
}

// Registry tracks the pids of running processes so they can all be
// signaled at once, typically from an interrupt handler.
//
// Entries are only appended and removed. KillAll touches nothing but the
// pids, so it is safe to call while processes are being started, reaped or
// closed on other goroutines.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make([]registryEntry, 0, 16)}
}

// add registers pid for the process identified by id, replacing a previous
// entry for the same process.
func (r *Registry) add(id uint64, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].id == id {
			r.entries[i].pid = pid
			return
		}
	}
	r.entries = append(r.entries, registryEntry{id: id, pid: pid})
}

// remove drops the entry for the process identified by id, if any.
func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// removeIf runs gone with the registry locked and drops the entry for id
// when it returns true.
func (r *Registry) removeIf(id uint64, gone func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gone() {
		r.removeLocked(id)
	}
}

func (r *Registry) removeLocked(id uint64) {
	for i := range r.entries {
		if r.entries[i].id == id {
			last := len(r.entries) - 1
			r.entries[i] = r.entries[last]
			r.entries = r.entries[:last]
			return
		}
	}
}

// KillAll sends sig to every registered pid and returns how many signals
// were delivered. Pids that no longer exist are skipped.
func (r *Registry) KillAll(sig unix.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for _, e := range r.entries {
		if unix.Kill(e.pid, sig) == nil {
			sent++
		}
	}
	return sent
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Pids returns a snapshot of the registered pids.
func (r *Registry) Pids() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pids := make([]int, len(r.entries))
	for i, e := range r.entries {
		pids[i] = e.pid
	}
	return pids
}
