// Package mta provides the outbound SMTP delivery session engine.
//
// mta drives a single TCP/TLS SMTP conversation to a remote receiving
// server on behalf of a queued message, and reports per-recipient
// delivery verdicts back to its caller. It is a client-side protocol
// engine, not a mail server.
package mta

// State represents the current state of an outbound SMTP session.
// The SMTP protocol is stateful; the client may only issue certain
// commands once the peer has reached the matching state.
type State int

const (
	// StateInit is the state before a TCP connection exists.
	StateInit State = iota

	// StateBanner indicates the TCP (or implicit TLS) connection is up
	// and the session is waiting for the peer's 220 greeting.
	StateBanner

	// StateEhlo indicates EHLO has been sent and the session is
	// waiting for the capability response.
	StateEhlo

	// StateHelo indicates a fallback HELO has been sent after the peer
	// rejected EHLO, and the session is waiting for its response.
	StateHelo

	// StateStartTls indicates STARTTLS has been sent and the session
	// is waiting for the go-ahead before beginning the handshake.
	StateStartTls

	// StateAuth indicates AUTH PLAIN has been sent and the session is
	// waiting for the authentication result.
	StateAuth

	// StateReady indicates the session has completed negotiation
	// (EHLO/HELO, optional STARTTLS, optional AUTH) and is ready to
	// begin a mail transaction for the current task.
	StateReady

	// StateMail indicates MAIL FROM has been sent for the current
	// envelope and the session awaits its response.
	StateMail

	// StateRcpt indicates RCPT TO has been sent for the current
	// recipient and the session awaits its response.
	StateRcpt

	// StateData indicates DATA has been sent and the session awaits
	// the 354 intermediate response before streaming the body.
	StateData

	// StateBody indicates the message body is being streamed to the
	// peer, dot-stuffed, terminated by the bare "." line.
	StateBody

	// StateEom indicates the end-of-data terminator has been sent and
	// the session awaits the peer's final per-transaction response.
	StateEom

	// StateRset indicates RSET has been sent to clear a transaction
	// that failed at MAIL, RCPT or DATA, and awaits its reply.
	StateRset

	// StateQuit indicates QUIT has been sent and the session awaits
	// the closing 221 response before tearing down the connection.
	StateQuit

	// StateClosed indicates the session ended normally.
	StateClosed

	// StateAborted indicates the session was torn down abnormally,
	// due to a transport error, protocol violation, or negotiation
	// failure.
	StateAborted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateBanner:
		return "Banner"
	case StateEhlo:
		return "Ehlo"
	case StateHelo:
		return "Helo"
	case StateStartTls:
		return "StartTls"
	case StateAuth:
		return "Auth"
	case StateReady:
		return "Ready"
	case StateMail:
		return "Mail"
	case StateRcpt:
		return "Rcpt"
	case StateData:
		return "Data"
	case StateBody:
		return "Body"
	case StateEom:
		return "Eom"
	case StateRset:
		return "Rset"
	case StateQuit:
		return "Quit"
	case StateClosed:
		return "Closed"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true if this state represents a final state from
// which no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateAborted
}

// IsReady reports whether the session has completed negotiation and
// may begin issuing MAIL for a task. This mirrors the "not yet Ready"
// predicate used to decide whether a transport error is reconnectable.
func (s State) IsReady() bool {
	switch s {
	case StateReady, StateMail, StateRcpt, StateData, StateBody, StateEom, StateRset:
		return true
	default:
		return false
	}
}

// SecurityPolicy controls how (and whether) the session uses TLS.
// Exactly one of these flags is expected to be set at a time; the
// TLS controller (tls.go) resolves the effective mode from this and
// the peer's advertised capabilities.
type SecurityPolicy int

const (
	// SecurityOpportunistic uses implicit TLS if the route says so,
	// otherwise attempts STARTTLS if offered, and falls back to
	// plaintext if not. This is the default policy.
	SecurityOpportunistic SecurityPolicy = iota

	// SecurityForceAnySsl requires some form of TLS (implicit or
	// STARTTLS) but does not care which.
	SecurityForceAnySsl

	// SecurityForceSmtps requires implicit TLS from the first byte
	// (SMTPS, traditionally port 465).
	SecurityForceSmtps

	// SecurityForceTls requires TLS: STARTTLS on a plaintext route,
	// or implicit TLS on a route configured for it. Plaintext does not
	// satisfy this policy.
	SecurityForceTls

	// SecurityForcePlain forbids TLS entirely, even if offered.
	SecurityForcePlain

	// SecurityWantSecure prefers TLS but tolerates plaintext instead
	// of failing the session outright.
	SecurityWantSecure
)

// String returns a human-readable policy name.
func (p SecurityPolicy) String() string {
	switch p {
	case SecurityOpportunistic:
		return "Opportunistic"
	case SecurityForceAnySsl:
		return "ForceAnySsl"
	case SecurityForceSmtps:
		return "ForceSmtps"
	case SecurityForceTls:
		return "ForceTls"
	case SecurityForcePlain:
		return "ForcePlain"
	case SecurityWantSecure:
		return "WantSecure"
	default:
		return "Unknown"
	}
}

// CredentialFlags records what authentication material is available
// for this route.
type CredentialFlags int

const (
	// CredentialNone indicates no credentials are configured; AUTH is
	// never attempted.
	CredentialNone CredentialFlags = 0

	// CredentialAuthPlain indicates an AUTH PLAIN blob is available
	// and should be used once TLS is established.
	CredentialAuthPlain CredentialFlags = 1 << iota
)

// Capabilities records the ESMTP extensions the peer advertised in
// its EHLO response.
type Capabilities struct {
	StartTls   bool
	Pipelining bool
	Auth       bool
	Size       int64 // advertised SIZE value, 0 if not advertised or absent
}

// StateTransition represents a transition from one state to another.
type StateTransition struct {
	From    State
	To      State
	Command CommandVerb
	Success bool
}

// StateTransitionError indicates an invalid state transition was
// attempted, or a command was issued from a state that does not
// permit it.
type StateTransitionError struct {
	Current   State
	Attempted State
	Command   CommandVerb
	Message   string
}

func (e *StateTransitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "invalid state transition from " + e.Current.String() + " to " + e.Attempted.String()
}
