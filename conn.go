package mta

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrDeadlineExceeded is returned when a read/write deadline is exceeded.
var ErrDeadlineExceeded = errors.New("mta: deadline exceeded")

// Conn wraps a connection with deadline support and a client-side TLS
// upgrade capability. This abstraction lets the session engine work
// with both net.Conn and io.Reader/io.Writer pairs (for tests)
// uniformly.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the deadline for future Write calls.
	SetWriteDeadline(t time.Time) error

	// UpgradeTLS performs a client-side TLS handshake over the
	// connection using the provided config. Returns the negotiated
	// connection state.
	UpgradeTLS(config *tls.Config) (TLSConnectionState, error)

	// TLSConnectionState returns the TLS state if TLS is active, nil
	// otherwise.
	TLSConnectionState() *TLSConnectionState
}

// NetConn wraps a net.Conn to implement Conn for real network use.
type NetConn struct {
	conn     net.Conn
	tlsState *TLSConnectionState
}

// WrapNetConn wraps a net.Conn.
func WrapNetConn(conn net.Conn) *NetConn {
	return &NetConn{conn: conn}
}

func (c *NetConn) Read(p []byte) (n int, err error)  { return c.conn.Read(p) }
func (c *NetConn) Write(p []byte) (n int, err error) { return c.conn.Write(p) }
func (c *NetConn) Close() error                      { return c.conn.Close() }

func (c *NetConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *NetConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// UpgradeTLS performs the client-side STARTTLS handshake. The caller
// supplies config.ServerName for certificate verification; chain
// verification itself may additionally be delegated to a
// CertAuthority collaborator (see tls.go).
func (c *NetConn) UpgradeTLS(config *tls.Config) (TLSConnectionState, error) {
	tlsConn := tls.Client(c.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return TLSConnectionState{}, &TLSError{
			Phase:   TLSErrorPhaseHandshake,
			Cause:   err,
			Message: "TLS handshake failed",
		}
	}

	cs := tlsConn.ConnectionState()
	state := TLSConnectionState{
		Version:          cs.Version,
		CipherSuite:      cs.CipherSuite,
		ServerName:       cs.ServerName,
		PeerCertificates: len(cs.PeerCertificates) > 0,
		VerifiedChains:   len(cs.VerifiedChains) > 0,
	}

	c.conn = tlsConn
	c.tlsState = &state
	return state, nil
}

func (c *NetConn) TLSConnectionState() *TLSConnectionState {
	return c.tlsState
}

// PipeConn wraps io.Reader/io.Writer pairs for testing against a
// scripted remote-server simulation (see harness/).
type PipeConn struct {
	reader       io.Reader
	writer       io.Writer
	readDeadline time.Time
	mu           sync.Mutex
	closed       bool

	tlsUpgrader func(*tls.Config) (io.Reader, io.Writer, TLSConnectionState, error)
	tlsState    *TLSConnectionState
}

// WrapPipe wraps an io.Reader and io.Writer as a Conn.
func WrapPipe(r io.Reader, w io.Writer) *PipeConn {
	return &PipeConn{reader: r, writer: w}
}

// SetTLSUpgrader sets a custom TLS upgrade function for testing.
func (c *PipeConn) SetTLSUpgrader(fn func(*tls.Config) (io.Reader, io.Writer, TLSConnectionState, error)) {
	c.tlsUpgrader = fn
}

func (c *PipeConn) Read(p []byte) (n int, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	deadline := c.readDeadline
	c.mu.Unlock()

	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, ErrDeadlineExceeded
	}

	return c.reader.Read(p)
}

func (c *PipeConn) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	c.mu.Unlock()
	return c.writer.Write(p)
}

func (c *PipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	if closer, ok := c.reader.(io.Closer); ok {
		closer.Close()
	}
	if closer, ok := c.writer.(io.Closer); ok {
		closer.Close()
	}
	return nil
}

func (c *PipeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t

	if dl, ok := c.reader.(interface{ SetReadDeadline(time.Time) error }); ok {
		return dl.SetReadDeadline(t)
	}
	return nil
}

func (c *PipeConn) SetWriteDeadline(t time.Time) error {
	if dl, ok := c.writer.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return dl.SetWriteDeadline(t)
	}
	return nil
}

func (c *PipeConn) UpgradeTLS(config *tls.Config) (TLSConnectionState, error) {
	if c.tlsUpgrader != nil {
		r, w, state, err := c.tlsUpgrader(config)
		if err != nil {
			return TLSConnectionState{}, err
		}
		c.reader = r
		c.writer = w
		c.tlsState = &state
		return state, nil
	}
	return TLSConnectionState{}, &TLSError{
		Phase:   TLSErrorPhaseHandshake,
		Message: "TLS upgrade not supported on pipe connection",
	}
}

func (c *PipeConn) TLSConnectionState() *TLSConnectionState {
	return c.tlsState
}

// BufferedConn wraps a Conn with buffered reading, and supports
// resetting the buffer after a STARTTLS upgrade discards any bytes
// buffered from the plaintext stream.
type BufferedConn struct {
	Conn
	reader *bufio.Reader
}

// NewBufferedConn creates a buffered connection.
func NewBufferedConn(conn Conn) *BufferedConn {
	return &BufferedConn{
		Conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// ReadLine reads a line with deadline support.
func (c *BufferedConn) ReadLine(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.SetReadDeadline(time.Now().Add(timeout))
		defer c.SetReadDeadline(time.Time{})
	}
	return c.reader.ReadBytes('\n')
}

// Reader returns the buffered reader.
func (c *BufferedConn) Reader() *bufio.Reader {
	return c.reader
}

// ResetReader discards any buffered plaintext bytes and starts
// reading fresh from the (now TLS-wrapped) underlying Conn. This must
// be called immediately after UpgradeTLS succeeds.
func (c *BufferedConn) ResetReader() {
	c.reader = bufio.NewReader(c.Conn)
}
