package mta

import "context"

// Route describes the destination and policy for one outbound
// session: where to connect, how to secure the connection, and what
// credentials (if any) to present.
type Route struct {
	// Name identifies the route for logging and RouteOK/RouteError
	// feedback; typically the destination hostname.
	Name string

	// Addr is the address to dial, host:port.
	Addr string

	// Implicit indicates the route uses implicit TLS (SMTPS) rather
	// than STARTTLS.
	Implicit bool

	// Policy is the security policy to enforce for this route.
	Policy SecurityPolicy

	// AuthPlainBlob is the pre-formed base64 SASL PLAIN payload to
	// send via AUTH PLAIN once TLS is established. Empty means no
	// AUTH attempt.
	AuthPlainBlob string

	// HeloName is the hostname this session presents in EHLO/HELO.
	HeloName string

	// MaxHops overrides DefaultMaxHops for loop detection; 0 means
	// use the default.
	MaxHops int
}

// Queue is the collaborator that supplies tasks to deliver and
// receives per-envelope verdicts once a session settles them.
type Queue interface {
	// NextTask returns the next batch of envelopes to attempt for
	// route, or nil if the queue is currently empty for that route.
	NextTask(ctx context.Context, route Route) (*Task, error)

	// Report records the verdict for one envelope.
	Report(ctx context.Context, taskID TaskID, envelope *Envelope)
}

// RouteManager is the collaborator that selects routes for delivery
// and receives feedback about how a session's attempts against a
// route went, so future attempts can be informed by it.
type RouteManager interface {
	// RouteOK records that a route accepted at least one envelope
	// successfully.
	RouteOK(route Route)

	// RouteError records a route-level failure (e.g. all envelopes in
	// a task tempfailed, or the connection could not be secured per
	// policy).
	RouteError(route Route, err error)

	// SourceError records a failure attributable to the local
	// network path rather than the peer (e.g. EADDRNOTAVAIL binding
	// the source address configured for this route).
	SourceError(route Route, err error)
}

// Resolver is the collaborator that performs PTR lookups. It can be
// set on SessionConfig, but neither Engine nor Supervisor calls it, so
// a PTR failure never affects a session.
type Resolver interface {
	PTR(ctx context.Context, addr string) (string, error)
}
