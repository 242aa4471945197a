package transport

import "crypto/x509"

// TrustCallback decides whether a server certificate chain should be
// trusted, letting the host application pin certificates or accept a
// self-signed deployment (§6.2 "TLS trust callback" collaborator).
// rawCerts is the raw ASN.1 chain as handed to
// tls.Config.VerifyPeerCertificate.
type TrustCallback func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// TrustManager holds the trust callback given to NewTrustManager. A
// TrustManager with a nil callback (including the zero value) rejects
// every handshake of a DefaultTransport built WithTrustManager.
type TrustManager struct {
	callback TrustCallback
}

// NewTrustManager builds a TrustManager around the given callback.
func NewTrustManager(cb TrustCallback) *TrustManager {
	return &TrustManager{callback: cb}
}

func (m *TrustManager) verifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if m.callback == nil {
		return errNoTrustCallback
	}
	return m.callback(rawCerts, verifiedChains)
}

var errNoTrustCallback = trustError("no trust callback registered")

type trustError string

func (e trustError) Error() string { return string(e) }
