// Package harness provides a test harness for outbound SMTP sessions.
// It drives an Engine against a scripted "remote server" without any
// real network sockets.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mtacore/outbound"
	"github.com/mtacore/outbound/mem"
)

// Harness wires an Engine up to a scripted peer: Reply and ReplyLine
// play the lines the remote server replies with, and ExpectCommand
// and Transcript capture the commands the engine actually issued, so
// a test can assert on the
// full transcript of an S1-S6 style scenario.
type Harness struct {
	Config mta.SessionConfig
	Route  mta.Route
	Engine *mta.Engine

	Queue        *mem.Queue
	RouteManager *mem.RouteManager
	Resolver     *mem.Resolver

	// ServerIn is written by the harness to feed scripted replies to
	// the engine; ServerOut is read by the harness to capture the
	// commands the engine sent.
	ServerIn  *PipeBuffer
	ServerOut *PipeBuffer

	Transcript *Transcript

	mu     sync.Mutex
	runErr error
	done   chan struct{}
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithRoute overrides the default route under test.
func WithRoute(route mta.Route) HarnessOption {
	return func(h *Harness) { h.Route = route }
}

// WithSessionConfig overrides the default session configuration.
func WithSessionConfig(config mta.SessionConfig) HarnessOption {
	return func(h *Harness) { h.Config = config }
}

// NewHarness creates a harness with an in-memory Queue, RouteManager,
// and Resolver wired into a default route that does not use implicit
// TLS and has the opportunistic security policy.
func NewHarness(opts ...HarnessOption) *Harness {
	queue := mem.NewQueue()
	routeManager := mem.NewRouteManager()
	resolver := mem.NewResolver()

	h := &Harness{
		Config: mta.SessionConfig{
			Logger:        mta.NullLogger{},
			Queue:         queue,
			RouteManager:  routeManager,
			Resolver:      resolver,
			CertAuthority: mta.NullCertAuthority{},
			Limits:        mta.DefaultSessionLimits(),
		},
		Route: mta.Route{
			Name:     "mx.example.com",
			Addr:     "mx.example.com:25",
			HeloName: "client.example.com",
			Policy:   mta.SecurityOpportunistic,
		},
		Queue:        queue,
		RouteManager: routeManager,
		Resolver:     resolver,
		ServerIn:     NewPipeBuffer(),
		ServerOut:    NewPipeBuffer(),
		Transcript:   NewTranscript(),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Enqueue adds a task for the harness's route to deliver.
func (h *Harness) Enqueue(task *mta.Task) {
	h.Queue.Enqueue(h.Route.Name, task)
}

// Start constructs the Engine over a pipe connection wired to the
// scripted server buffers and runs it in the background.
func (h *Harness) Start(ctx context.Context) {
	conn := mta.WrapPipe(h.ServerIn, h.ServerOut)
	h.Engine = mta.NewEngine(conn, h.Route, h.Config)

	go func() {
		err := h.Engine.Run(ctx)
		h.mu.Lock()
		h.runErr = err
		h.mu.Unlock()
		close(h.done)
	}()
}

// Wait blocks until the engine's Run call returns, or ctx is done.
func (h *Harness) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReplyLine feeds one scripted reply line (without CRLF) to the
// engine, as if the remote server had sent it.
func (h *Harness) ReplyLine(line string) {
	data := line + "\r\n"
	h.ServerIn.Write([]byte(data))
	h.Transcript.RecordServer(data)
}

// Reply feeds a complete (possibly multi-line) reply, e.g.
// Reply(250, "first", "second") renders "250-first\r\n250 second\r\n".
func (h *Harness) Reply(code int, lines ...string) {
	if len(lines) == 0 {
		lines = []string{""}
	}
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		h.ReplyLine(fmt.Sprintf("%d%s%s", code, sep, line))
	}
}

// ExpectCommand reads the next command line the engine sent and
// checks its verb, returning the full line.
func (h *Harness) ExpectCommand(ctx context.Context, verb string) (string, error) {
	line, err := h.ServerOut.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	h.Transcript.RecordClient(line)
	if !strings.HasPrefix(strings.ToUpper(line), verb) {
		return line, fmt.Errorf("expected %s, got %q", verb, line)
	}
	return line, nil
}

// ExpectAnyCommand reads the next command line without checking its verb.
func (h *Harness) ExpectAnyCommand(ctx context.Context) (string, error) {
	line, err := h.ServerOut.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	h.Transcript.RecordClient(line)
	return line, nil
}

// Close tears down the harness's pipe buffers.
func (h *Harness) Close() {
	h.ServerIn.Close()
	h.ServerOut.Close()
	if h.Engine != nil {
		h.Engine.Close()
	}
}

// PipeBuffer is a thread-safe buffer simulating one direction of a
// connection, with deadline-aware reads so SetReadDeadline calls
// from the engine behave like a real socket. It has no write
// deadline; SetWriteDeadline on a PipeConn over it has no effect.
type PipeBuffer struct {
	mu           sync.Mutex
	cond         *sync.Cond
	buf          bytes.Buffer
	closed       bool
	readDeadline time.Time
}

// NewPipeBuffer creates a new pipe buffer.
func NewPipeBuffer() *PipeBuffer {
	p := &PipeBuffer{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write writes data to the buffer.
func (p *PipeBuffer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, fmt.Errorf("harness: write to closed pipe")
	}

	n, err := p.buf.Write(data)
	p.cond.Broadcast()
	return n, err
}

// Read reads data from the buffer with deadline support.
func (p *PipeBuffer) Read(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := p.readDeadline

	for p.buf.Len() == 0 && !p.closed {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, mta.ErrDeadlineExceeded
		}
		if !deadline.IsZero() {
			timeout := time.Until(deadline)
			if timeout <= 0 {
				return 0, mta.ErrDeadlineExceeded
			}
			go func() {
				time.Sleep(timeout)
				p.cond.Broadcast()
			}()
		}
		p.cond.Wait()

		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, mta.ErrDeadlineExceeded
		}
	}

	if p.buf.Len() == 0 && p.closed {
		return 0, fmt.Errorf("harness: read from closed pipe")
	}

	return p.buf.Read(data)
}

// SetReadDeadline sets the deadline for future Read calls.
func (p *PipeBuffer) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readDeadline = t
	p.cond.Broadcast()
	return nil
}

// ReadLine reads one CRLF- or LF-terminated line from the buffer.
func (p *PipeBuffer) ReadLine(ctx context.Context) (string, error) {
	var line bytes.Buffer

	for {
		select {
		case <-ctx.Done():
			return line.String(), ctx.Err()
		default:
		}

		p.mu.Lock()
		for p.buf.Len() == 0 && !p.closed {
			p.cond.Wait()
		}

		if p.buf.Len() == 0 && p.closed {
			p.mu.Unlock()
			return line.String(), fmt.Errorf("harness: read from closed pipe")
		}

		b, err := p.buf.ReadByte()
		p.mu.Unlock()

		if err != nil {
			return line.String(), err
		}

		line.WriteByte(b)

		if b == '\n' {
			return strings.TrimRight(line.String(), "\r\n"), nil
		}
	}
}

// Close closes the buffer.
func (p *PipeBuffer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Transcript records a full SMTP conversation for debugging failed
// test assertions.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

// TranscriptEntry is a single entry in the transcript.
type TranscriptEntry struct {
	Time      time.Time
	Direction TranscriptDirection
	Data      string
}

// TranscriptDirection indicates client or server.
type TranscriptDirection int

const (
	DirectionClient TranscriptDirection = iota
	DirectionServer
)

// NewTranscript creates a new transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// RecordClient records a command the engine sent.
func (t *Transcript) RecordClient(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{Time: time.Now(), Direction: DirectionClient, Data: data})
}

// RecordServer records a reply the script fed to the engine.
func (t *Transcript) RecordServer(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{Time: time.Now(), Direction: DirectionServer, Data: data})
}

// String returns the transcript as a human-readable string.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, e := range t.entries {
		if e.Direction == DirectionClient {
			b.WriteString("C: ")
		} else {
			b.WriteString("S: ")
		}
		b.WriteString(strings.TrimRight(e.Data, "\r\n"))
		b.WriteString("\n")
	}
	return b.String()
}
