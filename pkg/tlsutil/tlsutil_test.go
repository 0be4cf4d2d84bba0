package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	// Generate private key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Create certificate template
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	// Create self-signed certificate
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	// Encode certificate to PEM
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	// Encode private key to PEM
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM
}

// setupTestFiles creates temporary cert/key files for testing
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string, cleanup func()) {
	t.Helper()

	tmpDir := t.TempDir()

	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(tmpDir, "cert.pem")
	keyFile = filepath.Join(tmpDir, "key.pem")
	caFile = filepath.Join(tmpDir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644)) // Use same cert as CA for testing

	cleanup = func() {
		_ = os.RemoveAll(tmpDir)
	}

	return certFile, keyFile, caFile, cleanup
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile, caFile, cleanup := setupTestFiles(t)
	defer cleanup()

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
		checkFn func(*testing.T, *tls.Config)
	}{
		{
			name: "default config with system CA pool",
			cfg:  ClientConfig{},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.NotNil(t, tlsCfg.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
				assert.False(t, tlsCfg.InsecureSkipVerify)
				assert.Empty(t, tlsCfg.Certificates)
			},
		},
		{
			name: "with additional CA file",
			cfg:  ClientConfig{CAFiles: []string{caFile}},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.NotNil(t, tlsCfg.RootCAs)
			},
		},
		{
			name: "with TLS 1.3",
			cfg:  ClientConfig{MinVersion: "1.3"},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), tlsCfg.MinVersion)
			},
		},
		{
			name: "with InsecureSkipVerify",
			cfg:  ClientConfig{InsecureSkipVerify: true},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.True(t, tlsCfg.InsecureSkipVerify)
			},
		},
		{
			name: "with client certificate",
			cfg:  ClientConfig{CAFiles: []string{caFile}, CertFile: certFile, KeyFile: keyFile},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				require.Len(t, tlsCfg.Certificates, 1)
				assert.NotEmpty(t, tlsCfg.Certificates[0].Certificate)
			},
		},
		{
			name:    "missing CA file",
			cfg:     ClientConfig{CAFiles: []string{"/nonexistent/ca.pem"}},
			wantErr: true,
		},
		{
			name:    "missing client key",
			cfg:     ClientConfig{CertFile: certFile, KeyFile: "/nonexistent/key.pem"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientTLSConfig(tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				assert.True(t, errors.IsFatal(err))
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)

			if tt.checkFn != nil {
				tt.checkFn(t, got)
			}
		})
	}
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}

func TestFromProperties(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"url":                      "https://example.com",
		"tls.ca_files":             "/etc/a.pem, /etc/b.pem",
		"tls.insecure_skip_verify": "true",
		"tls.min_version":          "1.3",
		"tls.cert_file":            "/etc/c.pem",
		"tls.key_file":             "/etc/c.key",
	})
	require.NoError(t, err)
	assert.Equal(t, ClientConfig{
		CAFiles:            []string{"/etc/a.pem", "/etc/b.pem"},
		InsecureSkipVerify: true,
		MinVersion:         "1.3",
		CertFile:           "/etc/c.pem",
		KeyFile:            "/etc/c.key",
	}, cfg)
	assert.False(t, cfg.IsZero())

	cfg, err = FromProperties(map[string]string{"url": "https://example.com"})
	require.NoError(t, err)
	assert.True(t, cfg.IsZero())

	_, err = FromProperties(map[string]string{"tls.insecure_skip_verify": "sometimes"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = FromProperties(map[string]string{"tls.cert_file": "/etc/c.pem"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
