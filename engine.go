package mta

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// connectError wraps a failure that happened before the session
// reached Ready (banner, EHLO, STARTTLS, AUTH). The supervisor treats
// these as connection-level failures: a task attached later never
// happened, so nothing needs flushing beyond route-level feedback.
type connectError struct{ err error }

func (e *connectError) Error() string { return e.err.Error() }
func (e *connectError) Unwrap() error { return e.err }

// sessionError wraps a failure that happened after Ready, i.e. once a
// mail transaction was already underway. The supervisor still retries
// the route, but any task in flight had its still-pending envelopes
// flushed as TempFail before the error was returned.
type sessionError struct{ err error }

func (e *sessionError) Error() string { return e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithSessionID overrides the generated session id, useful in tests
// that assert on a specific id.
func WithSessionID(id SessionID) EngineOption {
	return func(e *Engine) { e.sessionID = id }
}

// WithAttempt records which reconnect attempt (0-based) this engine
// instance represents, exposed to SessionHooks through Attempt().
func WithAttempt(attempt int) EngineOption {
	return func(e *Engine) { e.attempt = attempt }
}

// Engine drives one outbound SMTP session end to end: banner, EHLO,
// optional STARTTLS and AUTH, then as many tasks as the Queue
// collaborator supplies, ending with QUIT.
type Engine struct {
	conn   *BufferedConn
	route  Route
	config SessionConfig
	logger Logger
	hooks  SessionHooks

	sm  *StateMachine
	cb  commandBuilder
	acc *accounting

	sessionID SessionID
	attempt   int

	tlsActive     bool
	authenticated bool
	caps          Capabilities

	mu     sync.Mutex
	closed bool
}

// NewEngine constructs an Engine for one connection attempt against
// route, communicating over conn (already dialed, and already
// TLS-wrapped by the caller if the route uses implicit TLS).
func NewEngine(conn Conn, route Route, config SessionConfig, opts ...EngineOption) *Engine {
	if config.Hooks == nil {
		config.Hooks = NullSessionHooks{}
	}
	logger := config.Logger
	if logger == nil {
		logger = NullLogger{}
	}

	e := &Engine{
		conn:      NewBufferedConn(conn),
		route:     route,
		config:    config,
		logger:    logger,
		hooks:     config.Hooks,
		sm:        NewStateMachine(),
		cb:        newCommandBuilder(),
		acc:       newAccounting(config.Queue, config.Metrics),
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithSession(e.sessionID)
	return e
}

// ID returns the session id.
func (e *Engine) ID() SessionID { return e.sessionID }

// State returns the current protocol state.
func (e *Engine) State() State { return e.sm.State() }

// Route returns the route this engine is delivering for.
func (e *Engine) Route() Route { return e.route }

// Attempt returns the 0-based reconnect attempt number.
func (e *Engine) Attempt() int { return e.attempt }

// TLSActive reports whether the connection is currently TLS-secured.
func (e *Engine) TLSActive() bool { return e.tlsActive }

// Authenticated reports whether AUTH succeeded on this connection.
func (e *Engine) Authenticated() bool { return e.authenticated }

var _ SessionInfo = (*Engine)(nil)

func (e *Engine) commandTimeout() time.Duration {
	if e.config.Limits.CommandTimeout > 0 {
		return e.config.Limits.CommandTimeout
	}
	return DefaultSessionLimits().CommandTimeout
}

func (e *Engine) dataTimeout() time.Duration {
	if e.config.Limits.DataTimeout > 0 {
		return e.config.Limits.DataTimeout
	}
	return DefaultSessionLimits().DataTimeout
}

func (e *Engine) maxHops() int {
	if e.route.MaxHops > 0 {
		return e.route.MaxHops
	}
	if e.config.Limits.MaxHops > 0 {
		return e.config.Limits.MaxHops
	}
	return DefaultMaxHops
}

// Run drives the session to completion: banner, negotiation, as many
// tasks as the queue supplies, then QUIT. It returns a *connectError
// or *sessionError on failure so the supervisor can classify the
// retry, or nil once the session closed normally.
func (e *Engine) Run(ctx context.Context) error {
	e.config.Metrics.sessionStarted()
	defer e.config.Metrics.sessionEnded()

	e.hooks.OnConnect(ctx, e)
	reason := DisconnectNormal
	defer func() {
		e.hooks.OnDisconnect(ctx, e, reason)
		e.conn.Close()
	}()

	if err := e.sm.Transition(StateBanner); err != nil {
		reason = DisconnectProtocolError
		return &connectError{err}
	}
	if _, err := e.readReply(ctx); err != nil {
		reason = DisconnectTransportError
		return &connectError{err}
	}

	if err := e.negotiate(ctx); err != nil {
		reason = DisconnectNegotiationFailure
		e.sm.Abort()
		return err
	}

	tasksRun := 0
	for {
		if e.config.Limits.MaxTasksPerConnection > 0 && tasksRun >= e.config.Limits.MaxTasksPerConnection {
			break
		}

		task, err := e.nextTask(ctx)
		if err != nil {
			reason = DisconnectTransportError
			e.sm.Abort()
			return &connectError{err}
		}
		if task == nil {
			break
		}
		tasksRun++

		if err := e.runTask(ctx, task); err != nil {
			if len(task.Pending()) > 0 {
				e.acc.flushTask(ctx, task, VerdictTempFail, err.Error())
			}
			reason = DisconnectProtocolError
			e.sm.Abort()
			return err
		}
	}

	if err := e.quit(ctx); err != nil {
		reason = DisconnectTransportError
		return &sessionError{err}
	}

	return nil
}

func (e *Engine) nextTask(ctx context.Context) (*Task, error) {
	if e.config.Queue == nil {
		return nil, nil
	}
	return e.config.Queue.NextTask(ctx, e.route)
}

// negotiate performs EHLO/HELO fallback, STARTTLS if applicable, and
// AUTH PLAIN if credentials are configured, leaving the state machine
// in Ready on success.
func (e *Engine) negotiate(ctx context.Context) error {
	caps, err := e.sendEhlo(ctx, e.route.HeloName)
	usedHelo := false
	if err != nil {
		if heloErr := e.sendHelo(ctx, e.route.HeloName); heloErr != nil {
			return &connectError{heloErr}
		}
		usedHelo = true
		caps = Capabilities{}
	}
	e.caps = caps
	e.hooks.OnEhlo(ctx, caps, e)

	if !usedHelo {
		mode, err := ResolveTLSMode(e.route.Policy, e.route.Implicit, caps.StartTls)
		if err != nil {
			return &connectError{err}
		}

		switch mode {
		case ModeStartTls:
			if err := e.startTLS(ctx); err != nil {
				return &connectError{err}
			}
			caps, err = e.sendEhlo(ctx, e.route.HeloName)
			if err != nil {
				return &connectError{err}
			}
			e.caps = caps
		case ModeImplicit:
			// already wrapped in TLS by the caller before this Engine
			// was constructed; nothing further to negotiate.
			e.tlsActive = e.conn.TLSConnectionState() != nil
		case ModePlaintext:
			// nothing to do
		}
	} else {
		mode, err := ResolveTLSMode(e.route.Policy, e.route.Implicit, false)
		if err != nil || mode == ModeStartTls {
			return &connectError{errors.New("mta: security policy requires STARTTLS, but peer fell back to HELO")}
		}
	}

	if e.route.AuthPlainBlob != "" {
		if !e.tlsActive {
			return &connectError{errors.New("mta: refusing AUTH PLAIN before TLS is established")}
		}
		if err := e.authPlain(ctx, e.route.AuthPlainBlob); err != nil {
			return &connectError{err}
		}
	}

	if err := e.sm.Transition(StateReady); err != nil {
		return &connectError{err}
	}
	return nil
}

func (e *Engine) sendEhlo(ctx context.Context, hostname string) (Capabilities, error) {
	if err := e.sm.Transition(StateEhlo); err != nil {
		return Capabilities{}, err
	}
	line, err := e.cb.Ehlo(hostname)
	if err != nil {
		return Capabilities{}, err
	}
	if err := e.write(ctx, line); err != nil {
		return Capabilities{}, err
	}
	reply, err := e.readReply(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	if !reply.Code.IsPositive() {
		return Capabilities{}, fmt.Errorf("mta: EHLO rejected: %d %s", reply.Code, reply.Text())
	}
	return parseCapabilities(reply), nil
}

func (e *Engine) sendHelo(ctx context.Context, hostname string) error {
	if err := e.sm.Transition(StateHelo); err != nil {
		return err
	}
	line, err := e.cb.Helo(hostname)
	if err != nil {
		return err
	}
	if err := e.write(ctx, line); err != nil {
		return err
	}
	reply, err := e.readReply(ctx)
	if err != nil {
		return err
	}
	if !reply.Code.IsPositive() {
		return fmt.Errorf("mta: HELO rejected: %d %s", reply.Code, reply.Text())
	}
	return nil
}

// parseCapabilities scans an EHLO reply's continuation lines for the
// extensions this engine cares about.
func parseCapabilities(reply Reply) Capabilities {
	var caps Capabilities
	for _, line := range reply.Lines {
		switch {
		case matchesKeyword(line, "STARTTLS"):
			caps.StartTls = true
		case matchesKeyword(line, "PIPELINING"):
			caps.Pipelining = true
		case matchesKeyword(line, "AUTH"):
			caps.Auth = true
		case matchesKeyword(line, "SIZE"):
			caps.Size = parseSizeArgument(line)
		}
	}
	return caps
}

func matchesKeyword(line, keyword string) bool {
	if len(line) < len(keyword) {
		return false
	}
	for i := 0; i < len(keyword); i++ {
		a, b := line[i], keyword[i]
		if 'a' <= a && a <= 'z' {
			a -= 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return len(line) == len(keyword) || line[len(keyword)] == ' '
}

func parseSizeArgument(line string) int64 {
	var n int64
	i := len("SIZE")
	for i < len(line) && line[i] == ' ' {
		i++
	}
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		n = n*10 + int64(line[i]-'0')
		i++
	}
	return n
}

func (e *Engine) startTLS(ctx context.Context) error {
	if err := e.sm.Transition(StateStartTls); err != nil {
		return err
	}
	if err := e.write(ctx, e.cb.StartTls()); err != nil {
		return err
	}
	reply, err := e.readReply(ctx)
	if err != nil {
		return err
	}
	if !reply.Code.IsPositive() {
		return fmt.Errorf("mta: STARTTLS rejected: %d %s", reply.Code, reply.Text())
	}

	tlsConfig, err := buildClientTLSConfig(ctx, e.route, e.config.CertAuthority)
	if err != nil {
		return err
	}
	if _, err := e.conn.UpgradeTLS(tlsConfig); err != nil {
		return err
	}
	e.conn.ResetReader()
	e.tlsActive = true

	if state := e.conn.TLSConnectionState(); state != nil {
		e.hooks.OnTLSUpgrade(ctx, *state, e)
	}
	return nil
}

// buildClientTLSConfig assembles the client-side tls.Config for route,
// presenting a client certificate from the CertAuthority collaborator
// if TlsInit supplies one, and delegating chain verification to
// VerifyCert when a real CertAuthority is configured
// (InsecureSkipVerify plus a manual VerifyPeerCertificate callback,
// since crypto/tls has no hook to substitute a whole trust store at
// handshake time). Shared by the STARTTLS upgrade path (engine.go)
// and the implicit-TLS dial path (supervisor.go).
func buildClientTLSConfig(ctx context.Context, route Route, ca CertAuthority) (*tls.Config, error) {
	config := &tls.Config{
		ServerName: route.Name,
		MinVersion: MinTLSVersion(),
	}

	if ca == nil {
		ca = NullCertAuthority{}
	}

	certPEM, keyPEM, err := ca.TlsInit(ctx, route.Name)
	if err != nil {
		return nil, &TLSError{Phase: TLSErrorPhaseConfig, Cause: err, Message: "client certificate setup failed"}
	}
	if certPEM != nil && keyPEM != nil {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, &TLSError{Phase: TLSErrorPhaseConfig, Cause: err, Message: "client certificate parse failed"}
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if _, ok := ca.(NullCertAuthority); !ok {
		config.InsecureSkipVerify = true
		config.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			ok, err := ca.VerifyCert(ctx, rawCerts)
			if err != nil {
				return &TLSError{Phase: TLSErrorPhaseVerify, Cause: err, Message: "certificate verification failed"}
			}
			if !ok {
				return &TLSError{Phase: TLSErrorPhaseVerify, Message: "certificate not trusted"}
			}
			return nil
		}
	}

	return config, nil
}

func (e *Engine) authPlain(ctx context.Context, blob string) error {
	if err := e.sm.Transition(StateAuth); err != nil {
		return err
	}
	line, err := e.cb.AuthPlain(blob)
	if err != nil {
		return err
	}
	if err := e.write(ctx, line); err != nil {
		return err
	}
	reply, err := e.readReply(ctx)
	if err != nil {
		return err
	}
	if !reply.Code.IsPositive() {
		return fmt.Errorf("mta: AUTH PLAIN rejected: %d %s", reply.Code, reply.Text())
	}
	e.authenticated = true
	return nil
}

// runTask drives one task's MAIL/RCPT/DATA cycle, settling every
// envelope's verdict before returning, and leaves the connection back
// in Ready for the next task: directly from Eom on a completed
// transaction, or via RSET from recoverToReady if MAIL, every RCPT,
// or DATA failed before reaching Eom. It only returns an error
// (always a *sessionError) on a transport failure mid-transaction;
// peer rejections are recorded as verdicts, not returned as errors.
func (e *Engine) runTask(ctx context.Context, task *Task) error {
	e.acc.attachTask(task)
	e.hooks.OnTaskStart(ctx, task, e)
	defer e.hooks.OnTaskDone(ctx, task, e)

	if err := detectLoop(task.Content, e.maxHops()); err != nil {
		e.acc.flushTask(ctx, task, VerdictLoop, err.Error())
		return nil
	}
	if err := rewind(task.Content); err != nil {
		return &sessionError{err}
	}

	if err := e.sm.Transition(StateMail); err != nil {
		return &sessionError{err}
	}
	line, err := e.cb.MailFrom(task.Sender, task.DeclaredSize)
	if err != nil {
		e.acc.flushTask(ctx, task, VerdictPermFail, err.Error())
		return e.recoverToReady(ctx)
	}
	if err := e.write(ctx, line); err != nil {
		return &sessionError{err}
	}
	reply, err := e.readReply(ctx)
	if err != nil {
		return &sessionError{err}
	}
	if !reply.Code.IsPositive() {
		verdict := verdictFromCode(reply.Code)
		e.acc.flushTask(ctx, task, verdict, reply.Text())
		return e.recoverToReady(ctx)
	}

	accepted := 0
	for _, env := range task.Envelopes {
		if err := e.sm.Transition(StateRcpt); err != nil {
			return &sessionError{err}
		}
		line, err := e.cb.RcptTo(env.Recipient)
		if err != nil {
			e.acc.settle(ctx, task, env, VerdictPermFail, err.Error())
			e.hooks.OnEnvelopeSettled(ctx, task, env, e)
			continue
		}
		if err := e.write(ctx, line); err != nil {
			return &sessionError{err}
		}
		rcptReply, err := e.readReply(ctx)
		if err != nil {
			return &sessionError{err}
		}
		if rcptReply.Code.IsPositive() {
			accepted++
			continue
		}
		e.acc.settle(ctx, task, env, verdictFromCode(rcptReply.Code), rcptReply.Text())
		e.hooks.OnEnvelopeSettled(ctx, task, env, e)
	}

	if accepted == 0 {
		e.acc.flushTask(ctx, task, VerdictPermFail, "no recipient accepted")
		return e.recoverToReady(ctx)
	}

	if err := e.sm.Transition(StateData); err != nil {
		return &sessionError{err}
	}
	if err := e.write(ctx, e.cb.Data()); err != nil {
		return &sessionError{err}
	}
	dataReply, err := e.readReply(ctx)
	if err != nil {
		return &sessionError{err}
	}
	if dataReply.Code != 354 {
		e.flushPendingAccepted(ctx, task, verdictFromCode(dataReply.Code), dataReply.Text())
		return e.recoverToReady(ctx)
	}

	if err := e.sm.Transition(StateBody); err != nil {
		return &sessionError{err}
	}
	e.acc.bodyStarted()
	e.conn.SetWriteDeadline(time.Now().Add(e.dataTimeout()))
	_, streamErr := newBodyStreamer(e.conn).StreamFrom(task.Content)
	e.conn.SetWriteDeadline(time.Time{})
	e.acc.bodyEnded()
	if streamErr != nil {
		return &sessionError{streamErr}
	}

	if err := e.sm.Transition(StateEom); err != nil {
		return &sessionError{err}
	}
	eomReply, err := e.readReply(ctx)
	if err != nil {
		return &sessionError{err}
	}
	verdict := verdictFromCode(eomReply.Code)
	e.flushPendingAccepted(ctx, task, verdict, eomReply.Text())

	if e.config.RouteManager != nil {
		if verdict == VerdictOk {
			e.config.RouteManager.RouteOK(e.route)
		} else {
			e.config.RouteManager.RouteError(e.route, fmt.Errorf("mta: %d %s", eomReply.Code, eomReply.Text()))
		}
	}

	// Eom always returns straight to Ready, whether the peer accepted
	// or rejected the message: unlike the Mail/Rcpt/Data failure
	// paths, no RSET is sent here.
	if err := e.sm.Transition(StateReady); err != nil {
		return &sessionError{err}
	}
	return nil
}

// flushPendingAccepted settles every envelope still pending (i.e. the
// ones the peer accepted at RCPT) with the single verdict decided by
// the DATA phase's final reply, since SMTP reports one outcome for
// the whole transaction rather than per recipient at that point.
func (e *Engine) flushPendingAccepted(ctx context.Context, task *Task, verdict Verdict, reason string) {
	for _, env := range task.Pending() {
		e.acc.settle(ctx, task, env, verdict, reason)
		e.hooks.OnEnvelopeSettled(ctx, task, env, e)
	}
	e.acc.flushTask(ctx, task, verdict, reason)
}

func verdictFromCode(code ReplyCode) Verdict {
	switch {
	case code.IsPositive():
		return VerdictOk
	case code.IsPermanent():
		return VerdictPermFail
	default:
		return VerdictTempFail
	}
}

// recoverToReady issues RSET to clear the transaction state so the
// connection can be reused for the next task, leaving the state
// machine back in Ready.
func (e *Engine) recoverToReady(ctx context.Context) error {
	if e.sm.State() == StateReady {
		return nil
	}
	if err := e.sm.Transition(StateRset); err != nil {
		return &sessionError{err}
	}
	if err := e.write(ctx, e.cb.Rset()); err != nil {
		return &sessionError{err}
	}
	if _, err := e.readReply(ctx); err != nil {
		return &sessionError{err}
	}
	if err := e.sm.Transition(StateReady); err != nil {
		return &sessionError{err}
	}
	return nil
}

func (e *Engine) quit(ctx context.Context) error {
	if err := e.sm.Transition(StateQuit); err != nil {
		return err
	}
	if err := e.write(ctx, e.cb.Quit()); err != nil {
		return err
	}
	if _, err := e.readReply(ctx); err != nil {
		return err
	}
	return e.sm.Close()
}

func (e *Engine) write(ctx context.Context, line CommandLine) error {
	e.conn.SetWriteDeadline(time.Now().Add(e.commandTimeout()))
	defer e.conn.SetWriteDeadline(time.Time{})
	_, err := e.conn.Write([]byte(line))
	e.logger.Debug(ctx, "sent command", Attr(AttrCommand, line), Attr(AttrState, e.sm.State().String()))
	return err
}

func (e *Engine) readReply(ctx context.Context) (Reply, error) {
	e.conn.SetReadDeadline(time.Now().Add(e.commandTimeout()))
	defer e.conn.SetReadDeadline(time.Time{})
	reply, err := readReply(e.conn.Reader())
	if err != nil {
		e.logger.Warn(ctx, "reply read failed", Attr(AttrError, err.Error()), Attr(AttrState, e.sm.State().String()))
		return Reply{}, err
	}
	e.logger.Debug(ctx, "received reply", Attr(AttrReplyCode, int(reply.Code)), Attr(AttrState, e.sm.State().String()))
	return reply, nil
}

// Close tears down the session's connection immediately. Calls after
// the first return nil. The Supervisor does not call it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}
