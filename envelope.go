package mta

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the outcome of attempting delivery of one envelope.
type Verdict int

const (
	// VerdictPending indicates the envelope has not yet been attempted
	// in the current session.
	VerdictPending Verdict = iota

	// VerdictOk indicates the peer accepted the recipient for
	// delivery.
	VerdictOk

	// VerdictTempFail indicates a transient (4xx) failure; the queue
	// should retry later.
	VerdictTempFail

	// VerdictPermFail indicates a permanent (5xx) failure; the queue
	// should bounce.
	VerdictPermFail

	// VerdictLoop indicates the message was rejected locally because
	// it exceeded the configured hop limit, without ever reaching the
	// peer.
	VerdictLoop
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "Pending"
	case VerdictOk:
		return "Ok"
	case VerdictTempFail:
		return "TempFail"
	case VerdictPermFail:
		return "PermFail"
	case VerdictLoop:
		return "Loop"
	default:
		return "Unknown"
	}
}

// EnvelopeID uniquely identifies one recipient within a task.
type EnvelopeID = string

// TaskID uniquely identifies a batch of envelopes sharing one sender
// and one message body.
type TaskID = string

// Envelope is a single recipient's delivery record within a Task.
// Its Verdict and Reason fields are written exactly once, when the
// session engine processes the corresponding RCPT/DATA response.
type Envelope struct {
	ID        EnvelopeID
	Recipient string
	Verdict   Verdict
	Reason    string // peer's reply text, or a local error description
}

// NewEnvelope creates a pending envelope for recipient.
func NewEnvelope(recipient string) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Verdict:   VerdictPending,
	}
}

// Task is a batch of envelopes that share a sender and a message
// body, to be delivered (or reported as failed) together over one
// outbound session. A task's content handle must support seeking, so
// the loop detector's header scan and the body streamer's full pass
// can both read it from the start.
type Task struct {
	ID        TaskID
	MessageID string
	Sender    string
	Envelopes []*Envelope
	Content   ContentHandle

	// DeclaredSize is the SIZE parameter value advertised in MAIL
	// FROM, 0 if unknown.
	DeclaredSize int64

	queuedAt time.Time
}

// NewTask creates a task for sender with the given content handle.
func NewTask(messageID, sender string, content ContentHandle) *Task {
	return &Task{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Sender:    sender,
		Content:   content,
		queuedAt:  time.Now(),
	}
}

// AddRecipient appends a pending envelope for recipient and returns it.
func (t *Task) AddRecipient(recipient string) *Envelope {
	e := NewEnvelope(recipient)
	t.Envelopes = append(t.Envelopes, e)
	return e
}

// Pending returns the envelopes that have not yet received a verdict.
func (t *Task) Pending() []*Envelope {
	var pending []*Envelope
	for _, e := range t.Envelopes {
		if e.Verdict == VerdictPending {
			pending = append(pending, e)
		}
	}
	return pending
}

// AllSettled reports whether every envelope in the task has a
// non-pending verdict.
func (t *Task) AllSettled() bool {
	return len(t.Pending()) == 0
}

// FailRemaining marks every still-pending envelope with verdict and
// reason, for a task aborted before all recipients could be attempted
// individually. It only updates the envelopes: it does not report them
// to a Queue or release the task's accounting, and the Engine does not
// call it (it settles envelopes through its accounting instead).
func (t *Task) FailRemaining(verdict Verdict, reason string) {
	for _, e := range t.Envelopes {
		if e.Verdict == VerdictPending {
			e.Verdict = verdict
			e.Reason = reason
		}
	}
}
