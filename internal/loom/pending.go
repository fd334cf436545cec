package loom

import (
	"sort"
	"sync"
	"time"
)

// PendingTask tracks one dispatched unit of work awaiting a finish or
// exception report.
type PendingTask struct {
	TaskID       uint64
	Param        []byte
	OnResult     Callback
	DispatchedAt time.Time
}

// PendingSet stores pending tasks by task id. At most one entry exists per
// id; an entry is removed exactly once, on finish, exception, or dispose.
type PendingSet struct {
	mu    sync.RWMutex
	items map[uint64]PendingTask
}

func NewPendingSet() *PendingSet {
	return &PendingSet{
		items: make(map[uint64]PendingTask),
	}
}

// Put records one pending task. It refuses the zero id and duplicates.
func (p *PendingSet) Put(task PendingTask) bool {
	if task.TaskID == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[task.TaskID]; ok {
		return false
	}
	p.items[task.TaskID] = task
	return true
}

// Take removes and returns the task for taskID.
func (p *PendingSet) Take(taskID uint64) (PendingTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.items[taskID]
	if ok {
		delete(p.items, taskID)
	}
	return task, ok
}

// Get returns the task for taskID without removing it.
func (p *PendingSet) Get(taskID uint64) (PendingTask, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task, ok := p.items[taskID]
	return task, ok
}

// Len reports how many tasks are in flight.
func (p *PendingSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Clear drops every pending task without resolving it and reports how many
// were dropped.
func (p *PendingSet) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.items)
	p.items = make(map[uint64]PendingTask)
	return n
}

// List returns pending tasks ordered by task id.
func (p *PendingSet) List() []PendingTask {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PendingTask, 0, len(p.items))
	for _, task := range p.items {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TaskID < out[j].TaskID
	})
	return out
}
