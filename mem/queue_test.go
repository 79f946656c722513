package mem_test

import (
	"context"
	"testing"

	mta "github.com/mtacore/outbound"
	"github.com/mtacore/outbound/mem"
)

func buildTask(t *testing.T, id string) *mta.Task {
	t.Helper()
	b := mta.NewTaskBuilder(id).SetSender("sender@example.com")
	b.AddRecipient("rcpt@example.com")
	if _, err := b.Write([]byte("hello\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	task, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return task
}

func TestQueueEnqueueAndNextTaskIsFIFO(t *testing.T) {
	q := mem.NewQueue()
	route := mta.Route{Name: "mx.example.com"}

	first := buildTask(t, "msg-1")
	second := buildTask(t, "msg-2")
	q.Enqueue(route.Name, first)
	q.Enqueue(route.Name, second)

	if q.Pending(route.Name) != 2 {
		t.Fatalf("Pending() = %d, want 2", q.Pending(route.Name))
	}

	got, err := q.NextTask(context.Background(), route)
	if err != nil {
		t.Fatalf("NextTask: %v", err)
	}
	if got != first {
		t.Error("expected NextTask to return the first-enqueued task")
	}
	if q.Pending(route.Name) != 1 {
		t.Errorf("Pending() = %d, want 1 after popping one", q.Pending(route.Name))
	}
}

func TestQueueNextTaskEmptyReturnsNil(t *testing.T) {
	q := mem.NewQueue()
	task, err := q.NextTask(context.Background(), mta.Route{Name: "unknown.example.com"})
	if err != nil || task != nil {
		t.Fatalf("NextTask() = (%v, %v), want (nil, nil)", task, err)
	}
}

func TestQueueReportRecordsVerdicts(t *testing.T) {
	q := mem.NewQueue()
	task := buildTask(t, "msg-1")
	env := task.Envelopes[0]
	env.Verdict = mta.VerdictOk

	q.Report(context.Background(), task.ID, env)

	verdicts := q.Verdicts()
	if len(verdicts) != 1 {
		t.Fatalf("expected 1 recorded verdict, got %d", len(verdicts))
	}
	if verdicts[0].TaskID != task.ID || verdicts[0].Envelope != env {
		t.Errorf("got %+v", verdicts[0])
	}
}

func TestQueueMetricsTrackActivity(t *testing.T) {
	q := mem.NewQueue()
	route := mta.Route{Name: "mx.example.com"}
	task := buildTask(t, "msg-1")

	q.Enqueue(route.Name, task)
	if _, err := q.NextTask(context.Background(), route); err != nil {
		t.Fatalf("NextTask: %v", err)
	}
	q.Report(context.Background(), task.ID, task.Envelopes[0])

	m := q.Metrics()
	if m.TasksEnqueued != 1 || m.TasksHandedOut != 1 || m.VerdictsReported != 1 {
		t.Errorf("got %+v", m)
	}
}
