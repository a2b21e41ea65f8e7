package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const certValidity = 365 * 24 * time.Hour

// CertManager loads or generates a private CA plus server and client
// certificates under a directory.
type CertManager struct {
	certDir    string
	caCert     *x509.Certificate
	caKey      *ecdsa.PrivateKey
	caPool     *x509.CertPool
	serverCert tls.Certificate
	clientCert tls.Certificate
}

// NewCertManager creates a new certificate manager
func NewCertManager(certDir string) (*CertManager, error) {
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cert directory: %w", err)
	}

	cm := &CertManager{certDir: certDir}
	if err := cm.setupCA(); err != nil {
		return nil, fmt.Errorf("failed to setup CA: %w", err)
	}

	var err error
	cm.serverCert, err = cm.leaf("server", x509.ExtKeyUsageServerAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server cert: %w", err)
	}
	cm.clientCert, err = cm.leaf("client", x509.ExtKeyUsageClientAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to setup client cert: %w", err)
	}
	return cm, nil
}

// CAFile is the PEM file clients should trust.
func (cm *CertManager) CAFile() string {
	return filepath.Join(cm.certDir, "ca-cert.pem")
}

// ClientCertFiles returns the client certificate and key paths.
func (cm *CertManager) ClientCertFiles() (certFile, keyFile string) {
	return filepath.Join(cm.certDir, "client-cert.pem"), filepath.Join(cm.certDir, "client-key.pem")
}

// GetServerTLSConfig returns the server config; with requireClientCert the
// server verifies client certificates against the CA.
func (cm *CertManager) GetServerTLSConfig(requireClientCert bool) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cm.serverCert},
		ClientCAs:    cm.caPool,
		MinVersion:   tls.VersionTLS12,
	}
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// GetClientTLSConfig returns a client config trusting the CA and presenting
// the client certificate.
func (cm *CertManager) GetClientTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cm.clientCert},
		RootCAs:      cm.caPool,
		MinVersion:   tls.VersionTLS12,
	}
}

func (cm *CertManager) setupCA() error {
	certPath := filepath.Join(cm.certDir, "ca-cert.pem")
	keyPath := filepath.Join(cm.certDir, "ca-key.pem")

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	switch {
	case err == nil:
		key, ok := pair.PrivateKey.(*ecdsa.PrivateKey)
		if !ok {
			return fmt.Errorf("CA key in %s is not ECDSA", keyPath)
		}
		cm.caKey = key
		cm.caCert, err = x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return fmt.Errorf("parse CA cert: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}
		tmpl := template("Hypnos CA")
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		if err != nil {
			return err
		}
		if err := writePair(certPath, keyPath, der, key); err != nil {
			return err
		}
		cm.caKey = key
		cm.caCert, err = x509.ParseCertificate(der)
		if err != nil {
			return err
		}
	default:
		return err
	}

	cm.caPool = x509.NewCertPool()
	cm.caPool.AddCert(cm.caCert)
	return nil
}

// leaf loads <name>-cert.pem/<name>-key.pem or issues a new pair from the CA.
func (cm *CertManager) leaf(name string, usage x509.ExtKeyUsage) (tls.Certificate, error) {
	certPath := filepath.Join(cm.certDir, name+"-cert.pem")
	keyPath := filepath.Join(cm.certDir, name+"-key.pem")

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return pair, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := template("hypnos-" + name)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{usage}
	if usage == x509.ExtKeyUsageServerAuth {
		tmpl.DNSNames = []string{"localhost"}
		tmpl.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, cm.caCert, &key.PublicKey, cm.caKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	if err := writePair(certPath, keyPath, der, key); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(certPath, keyPath)
}

func template(commonName string) *x509.Certificate {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Hypnos"},
			CommonName:   commonName,
		},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(certValidity),
	}
}

func writePair(certPath, keyPath string, der []byte, key *ecdsa.PrivateKey) error {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", certPath, err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", keyPath, err)
	}
	return nil
}
