package httpsession

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

// ErrNoTrustEvaluator is returned when a ServerTrustManager that requires
// all hosts to be evaluated sees a host with no registered evaluator. The
// handshake is aborted.
var ErrNoTrustEvaluator = errors.New("httpsession: no trust evaluator registered for host")

// TrustError reports a failed server trust evaluation. The task whose
// handshake failed completes with this error wrapped in the transport error.
type TrustError struct {
	Host string
	Err  error
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("httpsession: server trust evaluation failed for %q: %v", e.Host, e.Err)
}

func (e *TrustError) Unwrap() error { return e.Err }

// TrustEvaluator judges a server's TLS credentials for a host. A non-nil
// return aborts the handshake, which cancels the running task.
type TrustEvaluator interface {
	Evaluate(state tls.ConnectionState, host string) error
}

// TrustEvaluatorFunc adapts a function to a TrustEvaluator.
type TrustEvaluatorFunc func(state tls.ConnectionState, host string) error

// Evaluate implements TrustEvaluator.
func (f TrustEvaluatorFunc) Evaluate(state tls.ConnectionState, host string) error {
	return f(state, host)
}

// StandardTrustEvaluator performs ordinary X.509 chain validation against
// the host. This is what hosts without an explicit evaluator get.
type StandardTrustEvaluator struct {
	// Roots overrides the trusted root pool. Nil uses the system roots.
	Roots *x509.CertPool
}

// Evaluate implements TrustEvaluator.
func (e StandardTrustEvaluator) Evaluate(state tls.ConnectionState, host string) error {
	leaf, intermediates, err := peerChain(state)
	if err != nil {
		return err
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         e.Roots,
		Intermediates: intermediates,
	})
	return err
}

// PinnedCertificatesEvaluator accepts only chains containing one of the
// pinned certificates, compared by raw DER bytes.
type PinnedCertificatesEvaluator struct {
	// Certificates are the pinned certificates.
	Certificates []*x509.Certificate
	// AcceptSelfSigned skips chain validation, trusting the pinned
	// certificates directly. Required when pinning self-signed certificates.
	AcceptSelfSigned bool
}

// Evaluate implements TrustEvaluator.
func (e PinnedCertificatesEvaluator) Evaluate(state tls.ConnectionState, host string) error {
	if !e.AcceptSelfSigned {
		if err := (StandardTrustEvaluator{}).Evaluate(state, host); err != nil {
			return err
		}
	}
	for _, peer := range state.PeerCertificates {
		for _, pinned := range e.Certificates {
			if bytes.Equal(peer.Raw, pinned.Raw) {
				return nil
			}
		}
	}
	return errors.New("no pinned certificate in peer chain")
}

// PinnedKeysEvaluator accepts only chains containing a certificate whose
// public key matches one of the pinned fingerprints. Key pinning survives
// certificate rotation as long as the key pair is reused.
type PinnedKeysEvaluator struct {
	// Fingerprints are hex SHA-256 digests of accepted SubjectPublicKeyInfo
	// structures, as produced by SPKIFingerprint.
	Fingerprints []string
	// SkipChainValidation trusts any chain containing a pinned key without
	// validating the chain itself.
	SkipChainValidation bool
}

// Evaluate implements TrustEvaluator.
func (e PinnedKeysEvaluator) Evaluate(state tls.ConnectionState, host string) error {
	if !e.SkipChainValidation {
		if err := (StandardTrustEvaluator{}).Evaluate(state, host); err != nil {
			return err
		}
	}
	for _, peer := range state.PeerCertificates {
		if slices.Contains(e.Fingerprints, SPKIFingerprint(peer)) {
			return nil
		}
	}
	return errors.New("no pinned public key in peer chain")
}

// SPKIFingerprint returns the hex SHA-256 digest of the certificate's
// SubjectPublicKeyInfo, for use with PinnedKeysEvaluator.
func SPKIFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

// DisabledTrustEvaluator accepts any credentials without inspection. Only
// ever use it against hosts you control, such as local test servers.
type DisabledTrustEvaluator struct{}

// Evaluate implements TrustEvaluator.
func (DisabledTrustEvaluator) Evaluate(tls.ConnectionState, string) error { return nil }

// CompositeTrustEvaluator requires every inner evaluator to accept.
type CompositeTrustEvaluator struct {
	Evaluators []TrustEvaluator
}

// Evaluate implements TrustEvaluator.
func (e CompositeTrustEvaluator) Evaluate(state tls.ConnectionState, host string) error {
	for _, inner := range e.Evaluators {
		if err := inner.Evaluate(state, host); err != nil {
			return err
		}
	}
	return nil
}

// ServerTrustManager maps hosts to trust evaluators. Install one on a
// session with WithServerTrustManager; evaluation then replaces the
// transport's built-in certificate verification for every connection the
// session opens.
type ServerTrustManager struct {
	// AllHostsMustBeEvaluated aborts handshakes to hosts with no registered
	// evaluator instead of falling back to standard validation.
	AllHostsMustBeEvaluated bool

	evaluators map[string]TrustEvaluator
}

// NewServerTrustManager creates a manager from a host-to-evaluator map.
// Hosts are matched by exact name, without port.
func NewServerTrustManager(allHostsMustBeEvaluated bool, evaluators map[string]TrustEvaluator) *ServerTrustManager {
	copied := make(map[string]TrustEvaluator, len(evaluators))
	for host, ev := range evaluators {
		copied[host] = ev
	}
	return &ServerTrustManager{
		AllHostsMustBeEvaluated: allHostsMustBeEvaluated,
		evaluators:              copied,
	}
}

// EvaluatorFor returns the evaluator registered for host. With no
// registration it returns standard validation, or ErrNoTrustEvaluator when
// AllHostsMustBeEvaluated is set.
func (m *ServerTrustManager) EvaluatorFor(host string) (TrustEvaluator, error) {
	if ev, ok := m.evaluators[host]; ok {
		return ev, nil
	}
	if m.AllHostsMustBeEvaluated {
		return nil, &TrustError{Host: host, Err: ErrNoTrustEvaluator}
	}
	return StandardTrustEvaluator{}, nil
}

// VerifyConnection evaluates a completed handshake. It has the signature of
// tls.Config.VerifyConnection; the session installs it with certificate
// verification handed over entirely to the manager.
func (m *ServerTrustManager) VerifyConnection(state tls.ConnectionState) error {
	host := state.ServerName
	ev, err := m.EvaluatorFor(host)
	if err != nil {
		return err
	}
	if err := ev.Evaluate(state, host); err != nil {
		return &TrustError{Host: host, Err: err}
	}
	return nil
}

// peerChain splits the peer certificates into the leaf and a pool of
// intermediates.
func peerChain(state tls.ConnectionState) (*x509.Certificate, *x509.CertPool, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, nil, errors.New("peer presented no certificates")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	return state.PeerCertificates[0], intermediates, nil
}
