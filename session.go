package mta

import (
	"context"
	"time"
)

// SessionConfig configures one outbound delivery session.
type SessionConfig struct {
	// Logger receives session log events. If nil, logging is disabled.
	Logger Logger

	// Metrics receives the named gauge updates. If nil, metrics are
	// disabled (a zero-value *Metrics is nil-safe).
	Metrics *Metrics

	// Queue supplies tasks and receives verdicts.
	Queue Queue

	// RouteManager receives route/source-level feedback.
	RouteManager RouteManager

	// Resolver performs PTR lookups; Engine and Supervisor do not
	// call it.
	Resolver Resolver

	// CertAuthority verifies peer certificate chains and supplies
	// client certificates. If nil, NullCertAuthority is used (trust
	// whatever crypto/tls itself decided via tls.Config.RootCAs).
	CertAuthority CertAuthority

	// Limits contains resource limits and timeouts for this session.
	Limits SessionLimits

	// Hooks provides optional session lifecycle callbacks.
	Hooks SessionHooks
}

// SessionLimits contains resource limits and timeouts.
type SessionLimits struct {
	// CommandTimeout bounds waiting for a single reply.
	CommandTimeout time.Duration

	// DataTimeout bounds streaming one task's body.
	DataTimeout time.Duration

	// MaxHops overrides DefaultMaxHops if non-zero.
	MaxHops int

	// MaxTasksPerConnection limits how many tasks one session
	// attempts before issuing QUIT, 0 means unlimited. A session that
	// stops at this limit ends normally, and the Supervisor does not
	// dial again after it.
	MaxTasksPerConnection int
}

// DefaultSessionLimits returns conservative default limits.
func DefaultSessionLimits() SessionLimits {
	return SessionLimits{
		CommandTimeout: 5 * time.Minute,
		DataTimeout:    10 * time.Minute,
		MaxHops:        DefaultMaxHops,
	}
}

// SessionHooks provides callbacks for session lifecycle events.
type SessionHooks interface {
	OnConnect(ctx context.Context, info SessionInfo)
	OnDisconnect(ctx context.Context, info SessionInfo, reason DisconnectReason)
	OnEhlo(ctx context.Context, caps Capabilities, info SessionInfo)
	OnTLSUpgrade(ctx context.Context, state TLSConnectionState, info SessionInfo)
	OnTaskStart(ctx context.Context, task *Task, info SessionInfo)
	OnEnvelopeSettled(ctx context.Context, task *Task, envelope *Envelope, info SessionInfo)
	OnTaskDone(ctx context.Context, task *Task, info SessionInfo)
}

// NullSessionHooks is a no-op implementation of SessionHooks.
type NullSessionHooks struct{}

func (NullSessionHooks) OnConnect(_ context.Context, _ SessionInfo)                  {}
func (NullSessionHooks) OnDisconnect(_ context.Context, _ SessionInfo, _ DisconnectReason) {}
func (NullSessionHooks) OnEhlo(_ context.Context, _ Capabilities, _ SessionInfo)     {}
func (NullSessionHooks) OnTLSUpgrade(_ context.Context, _ TLSConnectionState, _ SessionInfo) {}
func (NullSessionHooks) OnTaskStart(_ context.Context, _ *Task, _ SessionInfo)       {}
func (NullSessionHooks) OnEnvelopeSettled(_ context.Context, _ *Task, _ *Envelope, _ SessionInfo) {}
func (NullSessionHooks) OnTaskDone(_ context.Context, _ *Task, _ SessionInfo)        {}

var _ SessionHooks = NullSessionHooks{}

// DisconnectReason indicates why a session ended.
type DisconnectReason int

const (
	DisconnectNormal DisconnectReason = iota
	DisconnectTimeout
	DisconnectTransportError
	DisconnectProtocolError
	DisconnectNegotiationFailure
	DisconnectServerShutdown
)

// String returns a human-readable disconnect reason.
func (d DisconnectReason) String() string {
	switch d {
	case DisconnectNormal:
		return "Normal"
	case DisconnectTimeout:
		return "Timeout"
	case DisconnectTransportError:
		return "TransportError"
	case DisconnectProtocolError:
		return "ProtocolError"
	case DisconnectNegotiationFailure:
		return "NegotiationFailure"
	case DisconnectServerShutdown:
		return "ServerShutdown"
	default:
		return "Unknown"
	}
}

// SessionInfo provides read-only information about a running session,
// handed to hooks and collaborators for logging and policy decisions.
type SessionInfo interface {
	ID() SessionID
	State() State
	Route() Route
	Attempt() int
	TLSActive() bool
	Authenticated() bool
}

// SessionID uniquely identifies one outbound session.
type SessionID = string
