// Package tlsutil builds client TLS configurations for sinks and
// communicators that dial out over TLS.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c360/orchd/errors"
)

// ClientConfig holds TLS settings for outgoing connections. The system CA
// bundle is always trusted; CAFiles are additional trusted CAs.
type ClientConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"` // Client certificate for mTLS
	KeyFile            string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`   // Client private key for mTLS
}

// IsZero reports whether no TLS setting is present.
func (c ClientConfig) IsZero() bool {
	return len(c.CAFiles) == 0 && !c.InsecureSkipVerify && c.MinVersion == "" &&
		c.CertFile == "" && c.KeyFile == ""
}

// FromProperties reads tls.ca_files, tls.insecure_skip_verify,
// tls.min_version, tls.cert_file and tls.key_file from template properties.
func FromProperties(props map[string]string) (ClientConfig, error) {
	var cfg ClientConfig
	for _, f := range strings.Split(props["tls.ca_files"], ",") {
		if f = strings.TrimSpace(f); f != "" {
			cfg.CAFiles = append(cfg.CAFiles, f)
		}
	}
	if v := props["tls.insecure_skip_verify"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.WrapInvalid(
				fmt.Errorf("%w: tls.insecure_skip_verify=%q", errors.ErrInvalidConfig, v),
				"tlsutil", "FromProperties", "parse insecure_skip_verify")
		}
		cfg.InsecureSkipVerify = b
	}
	cfg.MinVersion = props["tls.min_version"]
	cfg.CertFile = props["tls.cert_file"]
	cfg.KeyFile = props["tls.key_file"]

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return cfg, errors.WrapInvalid(
			fmt.Errorf("%w: tls.cert_file and tls.key_file must be set together", errors.ErrInvalidConfig),
			"tlsutil", "FromProperties", "check client certificate")
	}
	return cfg, nil
}

// LoadClientTLSConfig creates a tls.Config for HTTP/WebSocket/NATS clients.
// Setting both CertFile and KeyFile enables mTLS.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	// Start with system CA pool
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil",
				"LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile),
			)
		}
	}
	tlsConfig.RootCAs = rootCAs

	// Note: Setting this is intentional via config
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.CertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
