package mta

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// SupervisorConfig configures the reconnect ladder around one route.
type SupervisorConfig struct {
	SessionConfig

	// Dialer dials the route's address. If nil, a net.Dialer with a
	// 30s timeout is used.
	Dialer *net.Dialer

	// MaxAttempts bounds how many times a route is dialed before
	// giving up and reporting a RouteError, 0 means unlimited.
	MaxAttempts int

	// Backoff computes how long to wait before attempt n (0-based).
	// If nil, DefaultReconnectBackoff is used.
	Backoff func(attempt int) time.Duration
}

// DefaultReconnectBackoff grows linearly from 30s, capped at 15
// minutes, the same shape OpenSMTPD's mta_session uses for its
// connection retry ladder.
func DefaultReconnectBackoff(attempt int) time.Duration {
	d := time.Duration(attempt+1) * 30 * time.Second
	if cap := 15 * time.Minute; d > cap {
		d = cap
	}
	return d
}

// Supervisor owns the dial-negotiate-deliver-reconnect loop for a
// single route: it keeps creating sessions against the route until
// one session ends normally, a non-retryable error occurs, or
// MaxAttempts is exhausted.
type Supervisor struct {
	route  Route
	config SupervisorConfig
}

// NewSupervisor creates a supervisor for route.
func NewSupervisor(route Route, config SupervisorConfig) *Supervisor {
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{Timeout: 30 * time.Second}
	}
	if config.Backoff == nil {
		config.Backoff = DefaultReconnectBackoff
	}
	return &Supervisor{route: route, config: config}
}

// Run drives the reconnect ladder until one session ends normally, a
// non-retryable failure occurs, or MaxAttempts is exhausted. It
// returns that error, or nil once a session ended normally; such a
// session may have stopped at MaxTasksPerConnection with tasks still
// queued.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := s.config.Logger
	if logger == nil {
		logger = NullLogger{}
	}

	for attempt := 0; ; attempt++ {
		if s.config.MaxAttempts > 0 && attempt >= s.config.MaxAttempts {
			err := fmt.Errorf("mta: route %s exhausted %d connection attempts", s.route.Name, s.config.MaxAttempts)
			s.reportRouteError(err)
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			if isSourceError(err) {
				if s.config.RouteManager != nil {
					s.config.RouteManager.SourceError(s.route, err)
				}
				return err
			}

			logger.Warn(ctx, "dial failed, will retry",
				Attr(AttrError, err.Error()), Attr(AttrAttempt, attempt))
			if !s.sleep(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}

		engine := NewEngine(conn, s.route, s.config.SessionConfig, WithAttempt(attempt))
		runErr := engine.Run(ctx)
		if runErr == nil {
			return nil
		}

		if !isRetryableSessionError(runErr) {
			s.reportRouteError(runErr)
			return runErr
		}

		logger.Warn(ctx, "session failed, will retry",
			Attr(AttrError, runErr.Error()), Attr(AttrAttempt, attempt))
		if !s.sleep(ctx, attempt) {
			return ctx.Err()
		}
	}
}

func (s *Supervisor) reportRouteError(err error) {
	if s.config.RouteManager != nil {
		s.config.RouteManager.RouteError(s.route, err)
	}
}

func (s *Supervisor) sleep(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(s.config.Backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// dial establishes the TCP connection for route, wrapping it in TLS
// immediately if the route uses implicit TLS (SMTPS).
func (s *Supervisor) dial(ctx context.Context) (Conn, error) {
	rawConn, err := s.config.Dialer.DialContext(ctx, "tcp", s.route.Addr)
	if err != nil {
		return nil, err
	}

	conn := WrapNetConn(rawConn)
	if !s.route.Implicit {
		return conn, nil
	}

	tlsConfig, err := buildClientTLSConfig(ctx, s.route, s.config.CertAuthority)
	if err != nil {
		conn.Close()
		return nil, err
	}
	tlsConfig.ServerName = serverNameFor(s.route)
	if _, err := conn.UpgradeTLS(tlsConfig); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func serverNameFor(route Route) string {
	if host, _, err := net.SplitHostPort(route.Addr); err == nil {
		return host
	}
	return route.Name
}

// isSourceError reports whether err indicates a failure attributable
// to the local network path (e.g. the source address configured for
// this route is not available), which the supervisor never retries:
// it is a configuration problem, not a transient peer condition.
func isSourceError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EADDRNOTAVAIL
	}
	return false
}

// isRetryableSessionError reports whether a session failure should be
// retried by redialing. connectError and sessionError both retry
// unless the underlying cause is a local source error.
func isRetryableSessionError(err error) bool {
	var ce *connectError
	if errors.As(err, &ce) {
		return !isSourceError(ce.err)
	}
	var se *sessionError
	if errors.As(err, &se) {
		return !isSourceError(se.err)
	}
	return true
}
