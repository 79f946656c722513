// Package mem provides in-memory implementations of mta interfaces,
// suitable for testing and development but not production use.
package mem

import (
	"context"
	"sync"
	"time"

	"github.com/mtacore/outbound"
)

// Queue is an in-memory mta.Queue. Tasks are pushed onto a per-route
// FIFO with Enqueue and popped by NextTask; verdicts reported via
// Report are recorded for later inspection by tests.
type Queue struct {
	mu       sync.Mutex
	pending  map[string][]*mta.Task
	verdicts []ReportedVerdict
	metrics  QueueMetrics
}

// ReportedVerdict is one recorded call to Report.
type ReportedVerdict struct {
	TaskID   mta.TaskID
	Envelope *mta.Envelope
	At       time.Time
}

// QueueMetrics tracks simple counters for test assertions.
type QueueMetrics struct {
	TasksEnqueued int
	TasksHandedOut int
	VerdictsReported int
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string][]*mta.Task)}
}

// Enqueue adds a task to be delivered for route.Name.
func (q *Queue) Enqueue(routeName string, task *mta.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[routeName] = append(q.pending[routeName], task)
	q.metrics.TasksEnqueued++
}

// NextTask returns the next queued task for route, or nil if none remain.
func (q *Queue) NextTask(_ context.Context, route mta.Route) (*mta.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.pending[route.Name]
	if len(tasks) == 0 {
		return nil, nil
	}

	task := tasks[0]
	q.pending[route.Name] = tasks[1:]
	q.metrics.TasksHandedOut++
	return task, nil
}

// Report records a verdict for later inspection.
func (q *Queue) Report(_ context.Context, taskID mta.TaskID, envelope *mta.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.verdicts = append(q.verdicts, ReportedVerdict{TaskID: taskID, Envelope: envelope, At: time.Now()})
	q.metrics.VerdictsReported++
}

// Verdicts returns every verdict reported so far, in order.
func (q *Queue) Verdicts() []ReportedVerdict {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ReportedVerdict, len(q.verdicts))
	copy(out, q.verdicts)
	return out
}

// Metrics returns a snapshot of the queue's counters.
func (q *Queue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.metrics
}

// Pending reports how many tasks remain queued for routeName.
func (q *Queue) Pending(routeName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[routeName])
}

var _ mta.Queue = (*Queue)(nil)
