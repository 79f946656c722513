package mta

import (
	"context"
	"crypto/tls"
)

// TLSMode is the resolved transport-security mode for one connection
// attempt, derived from the session's SecurityPolicy, the peer's
// advertised capabilities, and the route's configuration.
type TLSMode int

const (
	// ModePlaintext sends the whole conversation unencrypted.
	ModePlaintext TLSMode = iota

	// ModeStartTls negotiates TLS via STARTTLS after EHLO.
	ModeStartTls

	// ModeImplicit wraps the TCP connection in TLS before any SMTP
	// bytes are exchanged (SMTPS, traditionally port 465).
	ModeImplicit
)

// String returns a human-readable mode name.
func (m TLSMode) String() string {
	switch m {
	case ModePlaintext:
		return "Plaintext"
	case ModeStartTls:
		return "StartTls"
	case ModeImplicit:
		return "Implicit"
	default:
		return "Unknown"
	}
}

// ErrSecurityPolicyViolation indicates the negotiated transport could
// not satisfy the configured SecurityPolicy (e.g. ForceTls but the
// peer never advertised STARTTLS).
type ErrSecurityPolicyViolation struct {
	Policy SecurityPolicy
	Reason string
}

func (e *ErrSecurityPolicyViolation) Error() string {
	return "mta: security policy " + e.Policy.String() + " not satisfiable: " + e.Reason
}

// ResolveTLSMode decides the transport-security mode for a connection
// attempt. routeWantsImplicit reflects the route's configured
// transport (e.g. port 465); peerOffersStartTls reflects the EHLO
// capability scan and is only meaningful once the banner/EHLO
// exchange has happened (so during the first attempt on a route
// configured for implicit TLS, routeWantsImplicit alone decides it).
func ResolveTLSMode(policy SecurityPolicy, routeWantsImplicit bool, peerOffersStartTls bool) (TLSMode, error) {
	switch policy {
	case SecurityForcePlain:
		if routeWantsImplicit {
			return ModePlaintext, &ErrSecurityPolicyViolation{Policy: policy, Reason: "route requires implicit TLS"}
		}
		return ModePlaintext, nil

	case SecurityForceSmtps:
		if !routeWantsImplicit {
			return ModePlaintext, &ErrSecurityPolicyViolation{Policy: policy, Reason: "route is not configured for implicit TLS"}
		}
		return ModeImplicit, nil

	case SecurityForceTls:
		if routeWantsImplicit {
			return ModeImplicit, nil
		}
		if !peerOffersStartTls {
			return ModePlaintext, &ErrSecurityPolicyViolation{Policy: policy, Reason: "peer did not advertise STARTTLS"}
		}
		return ModeStartTls, nil

	case SecurityForceAnySsl:
		if routeWantsImplicit {
			return ModeImplicit, nil
		}
		if peerOffersStartTls {
			return ModeStartTls, nil
		}
		return ModePlaintext, &ErrSecurityPolicyViolation{Policy: policy, Reason: "neither implicit TLS nor STARTTLS is available"}

	case SecurityWantSecure:
		if routeWantsImplicit {
			return ModeImplicit, nil
		}
		if peerOffersStartTls {
			return ModeStartTls, nil
		}
		return ModePlaintext, nil

	case SecurityOpportunistic:
		fallthrough
	default:
		if routeWantsImplicit {
			return ModeImplicit, nil
		}
		if peerOffersStartTls {
			return ModeStartTls, nil
		}
		return ModePlaintext, nil
	}
}

// TLSConnectionState contains information about the negotiated TLS
// connection, independent of the concrete crypto/tls types so tests
// can construct one without a real handshake.
type TLSConnectionState struct {
	Version          uint16
	CipherSuite      uint16
	ServerName       string
	PeerCertificates bool
	VerifiedChains   bool
}

// VersionString returns a human-readable version string.
func (s TLSConnectionState) VersionString() string {
	switch s.Version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// CipherSuiteString returns a human-readable cipher suite name.
func (s TLSConnectionState) CipherSuiteString() string {
	return tls.CipherSuiteName(s.CipherSuite)
}

// TLSError represents a TLS-related error.
type TLSError struct {
	Phase   TLSErrorPhase
	Cause   error
	Message string
}

// TLSErrorPhase indicates the phase of TLS handling where an error occurred.
type TLSErrorPhase = string

const (
	TLSErrorPhaseConfig      TLSErrorPhase = "Config"
	TLSErrorPhaseHandshake   TLSErrorPhase = "Handshake"
	TLSErrorPhaseCertificate TLSErrorPhase = "Certificate"
	TLSErrorPhaseVerify      TLSErrorPhase = "Verify"
)

func (e *TLSError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TLSError) Unwrap() error {
	return e.Cause
}

// MinTLSVersion returns the minimum TLS version the session will accept.
func MinTLSVersion() uint16 {
	return tls.VersionTLS12
}

// CertAuthority is the out-of-process certificate/key helper and
// peer-chain verifier collaborator. It is modeled as an interface
// rather than an actual subprocess channel, since process isolation
// of certificate handling is outside this module's scope; a
// LocalCertAuthority implementation is provided for direct use.
type CertAuthority interface {
	// TlsInit returns the PEM-encoded client certificate and key to
	// present for mutual TLS, if any is configured for name. Implementations that
	// never present a client certificate may return (nil, nil, nil).
	TlsInit(ctx context.Context, name string) (cert []byte, key []byte, err error)

	// VerifyCert verifies a peer certificate chain (DER-encoded,
	// leaf first) and reports whether it is trusted.
	VerifyCert(ctx context.Context, chain [][]byte) (verified bool, err error)
}
