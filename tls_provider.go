package mta

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
)

// LocalCertAuthority is a CertAuthority implementation that verifies
// peer chains in-process against the system root pool (or a supplied
// pool), and optionally presents a static client certificate. This is
// the collaborator a deployment uses when it does not need the CA
// helper to run as an isolated process.
type LocalCertAuthority struct {
	roots      *x509.CertPool
	clientCert tls.Certificate
	haveClient bool
}

// NewLocalCertAuthority creates a CertAuthority that verifies against
// roots. A nil pool means the system pool.
func NewLocalCertAuthority(roots *x509.CertPool) *LocalCertAuthority {
	return &LocalCertAuthority{roots: roots}
}

// WithClientCertificate configures a static client certificate to
// present for mutual TLS.
func (a *LocalCertAuthority) WithClientCertificate(cert tls.Certificate) *LocalCertAuthority {
	a.clientCert = cert
	a.haveClient = true
	return a
}

// TlsInit returns the configured client certificate's leaf and its
// private key, both PEM-encoded, if a client certificate is configured.
func (a *LocalCertAuthority) TlsInit(_ context.Context, _ string) ([]byte, []byte, error) {
	if !a.haveClient {
		return nil, nil, nil
	}
	if len(a.clientCert.Certificate) == 0 {
		return nil, nil, &TLSError{Phase: TLSErrorPhaseCertificate, Message: "client certificate has no leaf"}
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(a.clientCert.PrivateKey)
	if err != nil {
		return nil, nil, &TLSError{Phase: TLSErrorPhaseCertificate, Cause: err, Message: "client certificate key cannot be encoded"}
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.clientCert.Certificate[0]})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// VerifyCert verifies a DER-encoded peer chain (leaf first) against
// the configured root pool.
func (a *LocalCertAuthority) VerifyCert(_ context.Context, chain [][]byte) (bool, error) {
	if len(chain) == 0 {
		return false, &TLSError{Phase: TLSErrorPhaseVerify, Message: "empty certificate chain"}
	}

	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return false, &TLSError{Phase: TLSErrorPhaseVerify, Cause: err, Message: "failed to parse leaf certificate"}
	}

	intermediates := x509.NewCertPool()
	for _, der := range chain[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         a.roots,
		Intermediates: intermediates,
	}

	if _, err := leaf.Verify(opts); err != nil {
		return false, &TLSError{Phase: TLSErrorPhaseVerify, Cause: err, Message: "certificate chain verification failed"}
	}

	return true, nil
}

// NullCertAuthority never presents a client certificate and trusts
// the Go runtime's default verification (performed by crypto/tls
// itself via tls.Config.RootCAs). Useful for tests and for
// deployments that don't need an extra verification pass.
type NullCertAuthority struct{}

func (NullCertAuthority) TlsInit(_ context.Context, _ string) ([]byte, []byte, error) {
	return nil, nil, nil
}

func (NullCertAuthority) VerifyCert(_ context.Context, _ [][]byte) (bool, error) {
	return true, nil
}

var (
	_ CertAuthority = (*LocalCertAuthority)(nil)
	_ CertAuthority = NullCertAuthority{}
)
