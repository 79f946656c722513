package mta

import (
	"bytes"
	"errors"
)

// Builder errors.
var (
	// ErrNoSender indicates Finalize was called before SetSender.
	ErrNoSender = errors.New("mta: no sender set")

	// ErrNoRecipients indicates Finalize was called with zero recipients.
	ErrNoRecipients = errors.New("mta: no recipients")

	// ErrNoData indicates Finalize was called before any body data was written.
	ErrNoData = errors.New("mta: no message data")
)

// TaskBuilder assembles a Task incrementally: a producer (typically a
// Queue implementation reading from durable storage) sets the sender,
// adds recipients, writes the message body, then finalizes. This
// mirrors how a queued message is assembled before being handed to a
// session for delivery.
type TaskBuilder struct {
	messageID  string
	sender     *string
	recipients []string
	data       bytes.Buffer
}

// NewTaskBuilder creates a builder for messageID.
func NewTaskBuilder(messageID string) *TaskBuilder {
	return &TaskBuilder{messageID: messageID}
}

// SetSender sets the envelope sender (reverse-path).
func (b *TaskBuilder) SetSender(sender string) *TaskBuilder {
	b.sender = &sender
	return b
}

// AddRecipient adds a forward-path recipient.
func (b *TaskBuilder) AddRecipient(recipient string) *TaskBuilder {
	b.recipients = append(b.recipients, recipient)
	return b
}

// Write appends message body bytes (headers and content, CRLF or LF
// terminated lines; the body streamer normalizes terminators).
func (b *TaskBuilder) Write(p []byte) (int, error) {
	return b.data.Write(p)
}

// Finalize validates the accumulated state and returns a ready-to-use Task.
func (b *TaskBuilder) Finalize() (*Task, error) {
	if b.sender == nil {
		return nil, ErrNoSender
	}
	if len(b.recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if b.data.Len() == 0 {
		return nil, ErrNoData
	}

	content := bytes.NewReader(b.data.Bytes())
	task := NewTask(b.messageID, *b.sender, content)
	for _, r := range b.recipients {
		task.AddRecipient(r)
	}
	return task, nil
}
