// Package acme obtains and renews the status endpoint's certificate from
// an ACME directory such as step-ca.
package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/c360/countertop/errors"
)

// Challenge types
const (
	ChallengeHTTP01    = "http-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

// DefaultRenewBefore is how long before expiry a certificate is renewed.
const DefaultRenewBefore = 8 * time.Hour

// Config configures the ACME account and the certificate it requests.
type Config struct {
	DirectoryURL  string        `yaml:"directory_url" json:"directory_url"`
	Email         string        `yaml:"email" json:"email"`
	Domains       []string      `yaml:"domains,omitempty" json:"domains,omitempty"`
	ChallengeType string        `yaml:"challenge_type,omitempty" json:"challenge_type,omitempty"`
	RenewBefore   time.Duration `yaml:"renew_before,omitempty" json:"renew_before,omitempty"`
	StoragePath   string        `yaml:"storage_path" json:"storage_path"`
	// CABundle is trusted when talking to a private directory.
	CABundle string `yaml:"ca_bundle,omitempty" json:"ca_bundle,omitempty"`
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	switch {
	case c.DirectoryURL == "":
		return invalid("directory_url is required")
	case c.Email == "":
		return invalid("email is required")
	case len(c.Domains) == 0:
		return invalid("at least one domain is required")
	case c.StoragePath == "":
		return invalid("storage_path is required")
	}
	switch c.ChallengeType {
	case "":
		c.ChallengeType = ChallengeHTTP01
	case ChallengeHTTP01, ChallengeTLSALPN01:
	default:
		return invalid(fmt.Sprintf("challenge_type must be %q or %q", ChallengeHTTP01, ChallengeTLSALPN01))
	}
	if c.RenewBefore <= 0 {
		c.RenewBefore = DefaultRenewBefore
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "acme.Config", "Validate", "check config")
}

// Account is the persisted ACME registration. It implements
// registration.User.
type Account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

// GetEmail implements registration.User.
func (a *Account) GetEmail() string { return a.Email }

// GetRegistration implements registration.User.
func (a *Account) GetRegistration() *registration.Resource { return a.Registration }

// GetPrivateKey implements registration.User.
func (a *Account) GetPrivateKey() crypto.PrivateKey { return a.key }

// Client holds a registered ACME account. Certificates and the account
// live under Config.StoragePath.
type Client struct {
	cfg     Config
	lego    *lego.Client
	account *Account
	logger  *slog.Logger
}

// NewClient validates cfg, loads or creates the account and registers it
// with the directory when needed.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o700); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "NewClient", "create storage directory")
	}

	c := &Client{cfg: cfg, logger: logger.With("component", "acme")}
	account, err := loadAccount(cfg)
	if err != nil {
		return nil, err
	}
	c.account = account
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) path(name string) string { return filepath.Join(c.cfg.StoragePath, name) }

// loadAccount reads the stored account, or generates a key for a new one.
func loadAccount(cfg Config) (*Account, error) {
	accountPath := filepath.Join(cfg.StoragePath, "account.json")
	data, err := os.ReadFile(accountPath)
	if os.IsNotExist(err) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, errors.WrapFatal(err, "acme.Client", "loadAccount", "generate account key")
		}
		account := &Account{Email: cfg.Email, key: key}
		return account, saveAccount(cfg.StoragePath, account)
	}
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "loadAccount", "read account")
	}

	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "loadAccount", "decode account")
	}
	keyPEM, err := os.ReadFile(filepath.Join(cfg.StoragePath, "account.key"))
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "loadAccount", "read account key")
	}
	if account.key, err = certcrypto.ParsePEMPrivateKey(keyPEM); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "loadAccount", "parse account key")
	}
	return &account, nil
}

func saveAccount(dir string, account *Account) error {
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "encode account")
	}
	if err := os.WriteFile(filepath.Join(dir, "account.json"), data, 0o600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "write account")
	}
	if err := os.WriteFile(filepath.Join(dir, "account.key"), certcrypto.PEMEncode(account.key), 0o600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "write account key")
	}
	return nil
}

func (c *Client) connect() error {
	lc := lego.NewConfig(c.account)
	lc.CADirURL = c.cfg.DirectoryURL
	lc.Certificate.KeyType = certcrypto.EC256

	if c.cfg.CABundle != "" {
		pem, err := os.ReadFile(c.cfg.CABundle)
		if err != nil {
			return errors.WrapFatal(err, "acme.Client", "connect", "read CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return errors.WrapInvalid(fmt.Errorf("no certificates in %s", c.cfg.CABundle), "acme.Client", "connect", "parse CA bundle")
		}
		lc.HTTPClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
		}
	}

	client, err := lego.NewClient(lc)
	if err != nil {
		return errors.WrapTransient(err, "acme.Client", "connect", "create lego client")
	}

	switch c.cfg.ChallengeType {
	case ChallengeTLSALPN01:
		err = client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer("", "443"))
	default:
		err = client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80"))
	}
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "connect", "set "+c.cfg.ChallengeType+" provider")
	}

	if c.account.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return errors.WrapTransient(err, "acme.Client", "connect", "register account")
		}
		c.account.Registration = reg
		if err := saveAccount(c.cfg.StoragePath, c.account); err != nil {
			return err
		}
	}
	c.lego = client
	return nil
}

// Obtain requests a new certificate for the configured domains.
func (c *Client) Obtain(_ context.Context) (*tls.Certificate, error) {
	res, err := c.lego.Certificate.Obtain(certificate.ObtainRequest{Domains: c.cfg.Domains, Bundle: true})
	if err != nil {
		return nil, errors.WrapTransient(err, "acme.Client", "Obtain", "obtain certificate")
	}
	c.logger.Info("certificate obtained", "domains", c.cfg.Domains)
	return c.store(res)
}

// Current returns the stored certificate and whether it is due for
// renewal. A missing certificate returns nil and true.
func (c *Client) Current() (*tls.Certificate, bool, error) {
	return stored(c.path("certificate.pem"), c.path("certificate.key"), c.cfg.RenewBefore, time.Now())
}

func stored(certPath, keyPath string, renewBefore time.Duration, now time.Time) (*tls.Certificate, bool, error) {
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return nil, true, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "Current", "load certificate")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "Current", "parse certificate")
	}
	return &cert, !now.Before(leaf.NotAfter.Add(-renewBefore)), nil
}

// Ensure returns a usable certificate, renewing or obtaining one when the
// stored certificate is missing or close to expiry.
func (c *Client) Ensure(ctx context.Context) (*tls.Certificate, bool, error) {
	cert, due, err := c.Current()
	if err != nil || !due {
		return cert, false, err
	}
	if cert == nil {
		cert, err = c.Obtain(ctx)
		return cert, err == nil, err
	}

	pem, err := os.ReadFile(c.path("certificate.pem"))
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "Ensure", "read certificate")
	}
	res, err := c.lego.Certificate.Renew(certificate.Resource{Domain: c.cfg.Domains[0], Certificate: pem}, true, false, "")
	if err != nil {
		return nil, false, errors.WrapTransient(err, "acme.Client", "Ensure", "renew certificate")
	}
	c.logger.Info("certificate renewed", "domains", c.cfg.Domains)
	cert, err = c.store(res)
	return cert, err == nil, err
}

func (c *Client) store(res *certificate.Resource) (*tls.Certificate, error) {
	if err := os.WriteFile(c.path("certificate.pem"), res.Certificate, 0o644); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "store", "write certificate")
	}
	if err := os.WriteFile(c.path("certificate.key"), res.PrivateKey, 0o600); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "store", "write private key")
	}
	cert, err := tls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "store", "load certificate")
	}
	return &cert, nil
}

// RunRenewal checks the certificate every interval until ctx is cancelled
// and hands each renewed certificate to onRenew. Failures are logged and
// retried on the next tick.
func (c *Client) RunRenewal(ctx context.Context, interval time.Duration, onRenew func(*tls.Certificate)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cert, renewed, err := c.Ensure(ctx)
			if err != nil {
				c.logger.Warn("certificate renewal failed", "error", err, "domains", c.cfg.Domains)
				continue
			}
			if renewed && onRenew != nil {
				onRenew(cert)
			}
		}
	}
}
