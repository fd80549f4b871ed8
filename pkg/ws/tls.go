package ws

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"slices"
)

// ClientTLSConfig строит конфигурацию mTLS клиента.
// Доверенные корни - только CA из bundle, системное хранилище не используется.
// expectedName (опционально) - ожидаемое имя в листовом сертификате сервера
// (CommonName или DNS SAN).
func (b *Bundle) ClientTLSConfig(serverName, expectedName string) (*tls.Config, error) {
	if b == nil {
		return nil, credentialError("build tls config", "", fmt.Errorf("bundle is nil"))
	}

	certificate, err := tls.X509KeyPair(b.CertificatePEM, b.PrivateKeyPEM)
	if err != nil {
		return nil, credentialError("parse key pair", "", err)
	}

	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(b.CAPEM) {
		return nil, credentialError("parse ca certificate", "", fmt.Errorf("no certificates found"))
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      rootCAs,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}

	if expectedName != "" {
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyPeerName(cs, expectedName)
		}
	}

	return cfg, nil
}

func verifyPeerName(cs tls.ConnectionState, expectedName string) error {
	if len(cs.PeerCertificates) == 0 {
		return ErrPeerNameMismatch
	}

	leaf := cs.PeerCertificates[0]
	if leaf.Subject.CommonName == expectedName || slices.Contains(leaf.DNSNames, expectedName) {
		return nil
	}

	return fmt.Errorf("%w: got %q", ErrPeerNameMismatch, leaf.Subject.CommonName)
}
