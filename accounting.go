package mta

import "context"

// accounting tracks per-task envelope settlement and reports verdicts
// to the Queue collaborator as they're decided, rather than batching
// them until the whole task completes. This mirrors the "split
// connect_error/session_error sinks" design: delivery outcomes and
// connection-level outcomes are reported through different paths.
type accounting struct {
	queue   Queue
	metrics *Metrics
}

func newAccounting(queue Queue, metrics *Metrics) *accounting {
	return &accounting{queue: queue, metrics: metrics}
}

// attachTask registers a task as owned by the current session.
func (a *accounting) attachTask(t *Task) {
	a.metrics.taskAttached()
	a.metrics.envelopeOpened(len(t.Envelopes))
}

// settle records a verdict for one envelope and reports it to the
// queue immediately.
func (a *accounting) settle(ctx context.Context, t *Task, e *Envelope, verdict Verdict, reason string) {
	e.Verdict = verdict
	e.Reason = reason
	a.metrics.envelopeSettled(1)
	if a.queue != nil {
		a.queue.Report(ctx, t.ID, e)
	}
}

// flushTask marks every still-pending envelope in t with verdict and
// reason, reports them, and releases the task's accounting slot. This
// is the outbound analogue of the teacher's message-received
// finalization step, generalized to a batch of recipients instead of
// one inbound message.
func (a *accounting) flushTask(ctx context.Context, t *Task, verdict Verdict, reason string) {
	for _, e := range t.Pending() {
		a.settle(ctx, t, e, verdict, reason)
	}
	a.metrics.taskFlushed()
}

// bodyStarted and bodyEnded bracket the DATA/body phase, used
// by the mta_task_running gauge to distinguish tasks mid-transfer
// from tasks merely queued on an open session.
func (a *accounting) bodyStarted() { a.metrics.taskRunningStarted() }
func (a *accounting) bodyEnded()   { a.metrics.taskRunningEnded() }
