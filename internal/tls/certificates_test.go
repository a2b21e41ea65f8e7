package tls

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestCertificateGeneration(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewCertManager(dir)
	if err != nil {
		t.Fatalf("NewCertManager: %v", err)
	}

	for _, name := range []string{"ca-cert.pem", "ca-key.pem", "server-cert.pem", "server-key.pem", "client-cert.pem", "client-key.pem"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if cm.CAFile() != filepath.Join(dir, "ca-cert.pem") {
		t.Errorf("CAFile() = %q", cm.CAFile())
	}

	server := cm.GetServerTLSConfig(true)
	if server.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x", server.MinVersion)
	}
	if server.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v", server.ClientAuth)
	}
	if cm.GetServerTLSConfig(false).ClientAuth != tls.NoClientCert {
		t.Error("client certs should be optional unless required")
	}
}

func TestCertificatesReloaded(t *testing.T) {
	dir := t.TempDir()
	first, err := NewCertManager(dir)
	if err != nil {
		t.Fatalf("NewCertManager: %v", err)
	}
	second, err := NewCertManager(dir)
	if err != nil {
		t.Fatalf("second NewCertManager: %v", err)
	}
	if !first.caCert.Equal(second.caCert) {
		t.Error("existing CA should be loaded, not regenerated")
	}
}

func TestMutualTLS(t *testing.T) {
	cm, err := NewCertManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewCertManager: %v", err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Neo, awake")
	}))
	srv.TLS = cm.GetServerTLSConfig(true)
	srv.StartTLS()
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cm.GetClientTLSConfig()}}
	defer client.CloseIdleConnections()

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("mTLS request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Neo, awake" {
		t.Errorf("body = %q", body)
	}

	noCert := cm.GetClientTLSConfig()
	noCert.Certificates = nil
	bare := &http.Client{Transport: &http.Transport{TLSClientConfig: noCert}}
	defer bare.CloseIdleConnections()
	if resp, err := bare.Get(srv.URL); err == nil {
		resp.Body.Close()
		t.Error("request without client certificate should fail")
	}
}
