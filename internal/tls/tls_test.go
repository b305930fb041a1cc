package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	standardtls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes an ECDSA P-256 self-signed certificate and its key
// as PEM files and returns their paths.
func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mail.test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"mail.test"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o600); err != nil {
		t.Fatalf("failed to write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return certFile, keyFile
}

func TestClientConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig(ClientOptions{ServerName: "smtp.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("ServerName: got %q", cfg.ServerName)
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", cfg.MinVersion, standardtls.VersionTLS12)
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs should be nil so the system pool is used")
	}
	if len(cfg.Certificates) != 0 {
		t.Errorf("Certificates: got %d, want 0", len(cfg.Certificates))
	}
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should default to false")
	}
}

func TestClientConfig_CAAndClientCert(t *testing.T) {
	t.Parallel()

	certFile, keyFile := writeSelfSigned(t)

	cfg, err := ClientConfig(ClientOptions{
		ServerName: "mail.test",
		CAFile:     certFile,
		CertFile:   certFile,
		KeyFile:    keyFile,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs should be set from the CA file")
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("Certificates: got %d, want 1", len(cfg.Certificates))
	}

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "mail.test", Roots: cfg.RootCAs}); err != nil {
		t.Errorf("certificate should verify against the loaded CA pool: %v", err)
	}
}

func TestClientConfig_InsecureSkipVerify(t *testing.T) {
	t.Parallel()

	opts := ClientOptions{InsecureSkipVerify: true}
	if !opts.Enabled() {
		t.Error("Enabled: got false, want true")
	}
	cfg, err := ClientConfig(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify: got false, want true")
	}
}

func TestClientOptions_Enabled(t *testing.T) {
	t.Parallel()

	if (ClientOptions{ServerName: "smtp.example.com"}).Enabled() {
		t.Error("server name alone should not enable custom TLS")
	}
	if !(ClientOptions{CAFile: "/ca.pem"}).Enabled() {
		t.Error("CA file should enable custom TLS")
	}
}

func TestClientConfig_CAFileNotFound(t *testing.T) {
	t.Parallel()

	if _, err := ClientConfig(ClientOptions{CAFile: "/nonexistent/ca.pem"}); err == nil {
		t.Error("expected error for missing CA file, got nil")
	}
}

func TestClientConfig_CAFileWithoutCertificates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := ClientConfig(ClientOptions{CAFile: path}); err == nil {
		t.Error("expected error for CA file without certificates, got nil")
	}
}

func TestClientConfig_CertWithoutKey(t *testing.T) {
	t.Parallel()

	certFile, _ := writeSelfSigned(t)
	if _, err := ClientConfig(ClientOptions{CertFile: certFile}); err == nil {
		t.Error("expected error for cert without key, got nil")
	}
}

func TestClientConfig_KeyPairNotFound(t *testing.T) {
	t.Parallel()

	_, err := ClientConfig(ClientOptions{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	if err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
}
