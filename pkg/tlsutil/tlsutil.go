// Package tlsutil builds crypto/tls configurations for broker connections
// and the status endpoint, including mutual TLS and ACME-managed server
// certificates.
package tlsutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/pkg/acme"
)

// Server certificate sources
const (
	ModeManual = "manual"
	ModeACME   = "acme"
)

// ClientConfig configures TLS towards the broker. The system roots are
// always trusted; CAFiles add to them.
type ClientConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	CAFiles    []string `yaml:"ca_files,omitempty" json:"ca_files,omitempty"`
	CertFile   string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile    string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	ServerName string   `yaml:"server_name,omitempty" json:"server_name,omitempty"`
	MinVersion string   `yaml:"min_version,omitempty" json:"min_version,omitempty"`
	// InsecureSkipVerify is for development brokers with throwaway certs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// ServerConfig configures TLS on the status endpoint.
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Mode       string `yaml:"mode,omitempty" json:"mode,omitempty"`
	CertFile   string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	MinVersion string `yaml:"min_version,omitempty" json:"min_version,omitempty"`

	// Client certificate verification.
	ClientCAFiles     []string `yaml:"client_ca_files,omitempty" json:"client_ca_files,omitempty"`
	RequireClientCert bool     `yaml:"require_client_cert,omitempty" json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `yaml:"allowed_client_cns,omitempty" json:"allowed_client_cns,omitempty"`

	ACME acme.Config `yaml:"acme,omitempty" json:"acme,omitempty"`
}

// Validate checks that the chosen mode has what it needs.
func (c ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Mode {
	case "", ModeManual:
		if c.CertFile == "" || c.KeyFile == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: cert_file and key_file are required", errors.ErrInvalidConfig),
				"tlsutil", "Validate", "check manual mode")
		}
		return nil
	case ModeACME:
		return c.ACME.Validate()
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: unknown tls mode %q", errors.ErrInvalidConfig, c.Mode),
			"tlsutil", "Validate", "check mode")
	}
}

// LoadClientConfig returns nil when TLS is disabled.
func LoadClientConfig(c ClientConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if err := appendPEMFiles(roots, c.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load CA files")
	}

	cfg := &tls.Config{
		RootCAs:            roots,
		ServerName:         c.ServerName,
		MinVersion:         parseVersion(c.MinVersion),
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in through configuration
	}
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// LoadServerConfig loads a manual-mode server configuration. It returns
// nil when TLS is disabled.
func LoadServerConfig(c ServerConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseVersion(c.MinVersion),
	}
	if err := applyClientAuth(cfg, c); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ServeConfig returns the server configuration for either mode. In ACME
// mode the certificate is obtained before returning and renewed in the
// background until ctx is cancelled; a failure falls back to CertFile and
// KeyFile when both are set.
func ServeConfig(ctx context.Context, c ServerConfig, logger *slog.Logger) (*tls.Config, error) {
	if !c.Enabled || c.Mode != ModeACME {
		return LoadServerConfig(c)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := acmeConfig(ctx, c, logger)
	if err == nil {
		return cfg, nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, err
	}
	logger.Warn("ACME unavailable, using configured certificate", "error", err)
	return LoadServerConfig(c)
}

func acmeConfig(ctx context.Context, c ServerConfig, logger *slog.Logger) (*tls.Config, error) {
	client, err := acme.NewClient(c.ACME, logger)
	if err != nil {
		return nil, err
	}
	cert, _, err := client.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	var current atomic.Pointer[tls.Certificate]
	current.Store(cert)

	cfg := &tls.Config{
		MinVersion: parseVersion(c.MinVersion),
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return current.Load(), nil
		},
	}
	if err := applyClientAuth(cfg, c); err != nil {
		return nil, err
	}
	go client.RunRenewal(ctx, time.Hour, func(next *tls.Certificate) { current.Store(next) })
	return cfg, nil
}

func applyClientAuth(cfg *tls.Config, c ServerConfig) error {
	if len(c.ClientCAFiles) == 0 {
		return nil
	}
	pool := x509.NewCertPool()
	if err := appendPEMFiles(pool, c.ClientCAFiles); err != nil {
		return errors.WrapFatal(err, "tlsutil", "applyClientAuth", "load client CA files")
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	if c.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if len(c.AllowedClientCNs) > 0 {
		allowed := c.AllowedClientCNs
		cfg.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyClientCN(chains, allowed)
		}
	}
	return nil
}

func verifyClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}
	cn := chains[0][0].Subject.CommonName
	for _, a := range allowed {
		if cn == a {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not allowed", cn)
}

func appendPEMFiles(pool *x509.CertPool, files []string) error {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if !pool.AppendCertsFromPEM(data) {
			return fmt.Errorf("no certificates in %s", f)
		}
	}
	return nil
}

// parseVersion maps "1.2" and "1.3"; anything else is TLS 1.2.
func parseVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
