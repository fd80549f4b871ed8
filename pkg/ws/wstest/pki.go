// Package wstest предоставляет тестовый mTLS WebSocket сервер и PKI
// для проверки клиента из пакета ws, по аналогии с net/http/httptest.
package wstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LLIEPJIOK/service-mesh/wssmoke/pkg/ws"
)

// PKI содержит CA и выпущенные им сертификаты сервера и клиента.
type PKI struct {
	CACertPEM []byte
	CACert    *x509.Certificate
	CAKey     *ecdsa.PrivateKey
	RootCAs   *x509.CertPool

	ServerCertPEM []byte
	ServerKeyPEM  []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// Files - пути к записанным на диск клиентским учётным данным.
type Files struct {
	Dir      string
	CertFile string
	KeyFile  string
	CAFile   string
}

func NewPKI(t testing.TB) *PKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Test CA",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create CA certificate: %v", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("failed to parse CA certificate: %v", err)
	}

	caCertPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caCertDER})

	rootCAs := x509.NewCertPool()
	rootCAs.AppendCertsFromPEM(caCertPEM)

	pki := &PKI{
		CACertPEM: caCertPEM,
		CACert:    caCert,
		CAKey:     caKey,
		RootCAs:   rootCAs,
	}

	pki.ServerCertPEM, pki.ServerKeyPEM = pki.Issue(t, "localhost", x509.ExtKeyUsageServerAuth)
	pki.ClientCertPEM, pki.ClientKeyPEM = pki.Issue(t, "smoke-client", x509.ExtKeyUsageClientAuth)

	return pki
}

// Issue выпускает листовой сертификат, подписанный CA.
// SAN всегда содержит localhost и 127.0.0.1.
func (p *PKI) Issue(t testing.TB, commonName string, usage x509.ExtKeyUsage) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{usage},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, p.CACert, &privateKey.PublicKey, p.CAKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM
}

// Bundle возвращает клиентский bundle в памяти.
func (p *PKI) Bundle() *ws.Bundle {
	return &ws.Bundle{
		CertificatePEM: p.ClientCertPEM,
		PrivateKeyPEM:  p.ClientKeyPEM,
		CAPEM:          p.CACertPEM,
	}
}

// WriteFiles записывает client.crt, client.key и ca.crt в dir.
func (p *PKI) WriteFiles(t testing.TB, dir string) Files {
	t.Helper()

	files := Files{
		Dir:      dir,
		CertFile: filepath.Join(dir, "client.crt"),
		KeyFile:  filepath.Join(dir, "client.key"),
		CAFile:   filepath.Join(dir, "ca.crt"),
	}

	writes := []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{files.CertFile, p.ClientCertPEM, 0o644},
		{files.KeyFile, p.ClientKeyPEM, 0o600},
		{files.CAFile, p.CACertPEM, 0o644},
	}

	for _, w := range writes {
		if err := os.WriteFile(w.path, w.data, w.mode); err != nil {
			t.Fatalf("failed to write %s: %v", w.path, err)
		}
	}

	return files
}

func (p *PKI) serverTLSConfig(t testing.TB) *tls.Config {
	t.Helper()

	certificate, err := tls.X509KeyPair(p.ServerCertPEM, p.ServerKeyPEM)
	if err != nil {
		t.Fatalf("failed to load server key pair: %v", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientCAs:    p.RootCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}
