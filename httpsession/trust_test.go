package httpsession

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trustSerial int64

// selfSignedCert mints a throwaway CA-style certificate for host, usable
// both as a leaf and as its own trust root.
func selfSignedCert(t *testing.T, host string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	trustSerial++
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(trustSerial),
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func peerState(host string, certs ...*x509.Certificate) tls.ConnectionState {
	return tls.ConnectionState{ServerName: host, PeerCertificates: certs}
}

func TestStandardTrustEvaluator(t *testing.T) {
	cert := selfSignedCert(t, "api.example.com")
	roots := x509.NewCertPool()
	roots.AddCert(cert)

	t.Run("given a chain anchored in the roots, then evaluation passes", func(t *testing.T) {
		ev := StandardTrustEvaluator{Roots: roots}
		assert.NoError(t, ev.Evaluate(peerState("api.example.com", cert), "api.example.com"))
	})

	t.Run("given an empty root pool, then evaluation fails", func(t *testing.T) {
		ev := StandardTrustEvaluator{Roots: x509.NewCertPool()}
		assert.Error(t, ev.Evaluate(peerState("api.example.com", cert), "api.example.com"))
	})

	t.Run("given a host the certificate does not cover, then evaluation fails", func(t *testing.T) {
		ev := StandardTrustEvaluator{Roots: roots}
		assert.Error(t, ev.Evaluate(peerState("other.example.com", cert), "other.example.com"))
	})

	t.Run("given no peer certificates, then evaluation fails", func(t *testing.T) {
		ev := StandardTrustEvaluator{Roots: roots}
		assert.Error(t, ev.Evaluate(peerState("api.example.com"), "api.example.com"))
	})
}

func TestPinnedCertificatesEvaluator(t *testing.T) {
	pinned := selfSignedCert(t, "api.example.com")
	other := selfSignedCert(t, "api.example.com")

	t.Run("given the pinned certificate in the chain, then evaluation passes", func(t *testing.T) {
		ev := PinnedCertificatesEvaluator{Certificates: []*x509.Certificate{pinned}, AcceptSelfSigned: true}
		assert.NoError(t, ev.Evaluate(peerState("api.example.com", pinned), "api.example.com"))
	})

	t.Run("given a different certificate, then evaluation fails", func(t *testing.T) {
		ev := PinnedCertificatesEvaluator{Certificates: []*x509.Certificate{pinned}, AcceptSelfSigned: true}

		err := ev.Evaluate(peerState("api.example.com", other), "api.example.com")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no pinned certificate")
	})

	t.Run("given chain validation required, then an untrusted chain fails before pinning", func(t *testing.T) {
		ev := PinnedCertificatesEvaluator{Certificates: []*x509.Certificate{pinned}}
		assert.Error(t, ev.Evaluate(peerState("api.example.com", pinned), "api.example.com"))
	})
}

func TestPinnedKeysEvaluator(t *testing.T) {
	pinned := selfSignedCert(t, "api.example.com")
	other := selfSignedCert(t, "api.example.com")

	t.Run("given a matching key fingerprint, then evaluation passes", func(t *testing.T) {
		ev := PinnedKeysEvaluator{
			Fingerprints:        []string{SPKIFingerprint(pinned)},
			SkipChainValidation: true,
		}
		assert.NoError(t, ev.Evaluate(peerState("api.example.com", pinned), "api.example.com"))
	})

	t.Run("given a different key, then evaluation fails", func(t *testing.T) {
		ev := PinnedKeysEvaluator{
			Fingerprints:        []string{SPKIFingerprint(pinned)},
			SkipChainValidation: true,
		}

		err := ev.Evaluate(peerState("api.example.com", other), "api.example.com")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no pinned public key")
	})
}

func TestSPKIFingerprint(t *testing.T) {
	t.Run("given a certificate, then the fingerprint is a stable hex digest", func(t *testing.T) {
		cert := selfSignedCert(t, "api.example.com")

		fp := SPKIFingerprint(cert)

		assert.Len(t, fp, 64)
		assert.Equal(t, fp, SPKIFingerprint(cert))
		assert.NotEqual(t, fp, SPKIFingerprint(selfSignedCert(t, "api.example.com")))
	})
}

func TestDisabledTrustEvaluator(t *testing.T) {
	t.Run("given any credentials, then evaluation passes", func(t *testing.T) {
		assert.NoError(t, DisabledTrustEvaluator{}.Evaluate(tls.ConnectionState{}, "anything"))
	})
}

func TestCompositeTrustEvaluator(t *testing.T) {
	cert := selfSignedCert(t, "api.example.com")

	t.Run("given all inner evaluators accept, then evaluation passes", func(t *testing.T) {
		ev := CompositeTrustEvaluator{Evaluators: []TrustEvaluator{
			DisabledTrustEvaluator{},
			PinnedCertificatesEvaluator{Certificates: []*x509.Certificate{cert}, AcceptSelfSigned: true},
		}}
		assert.NoError(t, ev.Evaluate(peerState("api.example.com", cert), "api.example.com"))
	})

	t.Run("given one inner evaluator rejects, then its error surfaces", func(t *testing.T) {
		rejection := errors.New("revoked")
		ev := CompositeTrustEvaluator{Evaluators: []TrustEvaluator{
			DisabledTrustEvaluator{},
			TrustEvaluatorFunc(func(tls.ConnectionState, string) error { return rejection }),
		}}
		assert.ErrorIs(t, ev.Evaluate(peerState("api.example.com", cert), "api.example.com"), rejection)
	})
}

func TestServerTrustManager(t *testing.T) {
	cert := selfSignedCert(t, "pinned.example.com")

	manager := NewServerTrustManager(false, map[string]TrustEvaluator{
		"pinned.example.com": PinnedCertificatesEvaluator{
			Certificates:     []*x509.Certificate{cert},
			AcceptSelfSigned: true,
		},
	})

	t.Run("given a registered host, then its evaluator is used", func(t *testing.T) {
		ev, err := manager.EvaluatorFor("pinned.example.com")

		require.NoError(t, err)
		assert.IsType(t, PinnedCertificatesEvaluator{}, ev)
	})

	t.Run("given an unregistered host, then standard validation is the fallback", func(t *testing.T) {
		ev, err := manager.EvaluatorFor("other.example.com")

		require.NoError(t, err)
		assert.IsType(t, StandardTrustEvaluator{}, ev)
	})

	t.Run("given all hosts must be evaluated, then unregistered hosts are refused", func(t *testing.T) {
		strict := NewServerTrustManager(true, map[string]TrustEvaluator{
			"pinned.example.com": DisabledTrustEvaluator{},
		})

		_, err := strict.EvaluatorFor("other.example.com")

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoTrustEvaluator)
		var terr *TrustError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "other.example.com", terr.Host)
	})

	t.Run("given a handshake for the pinned host, then VerifyConnection routes by server name", func(t *testing.T) {
		assert.NoError(t, manager.VerifyConnection(peerState("pinned.example.com", cert)))
	})

	t.Run("given a failing evaluation, then the trust error names the host", func(t *testing.T) {
		imposter := selfSignedCert(t, "pinned.example.com")

		err := manager.VerifyConnection(peerState("pinned.example.com", imposter))

		var terr *TrustError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "pinned.example.com", terr.Host)
	})
}
