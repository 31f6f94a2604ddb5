package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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

	"github.com/c360/countertop/errors"
)

func validConfig() Config {
	return Config{
		DirectoryURL: "https://step-ca:9000/acme/acme/directory",
		Email:        "ops@countertop.local",
		Domains:      []string{"countertop.local"},
		StoragePath:  "/tmp/acme-test",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "tls-alpn-01", mutate: func(c *Config) { c.ChallengeType = ChallengeTLSALPN01 }},
		{name: "missing directory", mutate: func(c *Config) { c.DirectoryURL = "" }, errMsg: "directory_url is required"},
		{name: "missing email", mutate: func(c *Config) { c.Email = "" }, errMsg: "email is required"},
		{name: "missing domains", mutate: func(c *Config) { c.Domains = nil }, errMsg: "at least one domain"},
		{name: "missing storage", mutate: func(c *Config) { c.StoragePath = "" }, errMsg: "storage_path is required"},
		{name: "dns-01", mutate: func(c *Config) { c.ChallengeType = "dns-01" }, errMsg: "challenge_type must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRenewBefore, cfg.RenewBefore)
	assert.Equal(t, ChallengeHTTP01, cfg.ChallengeType)
}

func TestLoadAccount_CreatesAndReloads(t *testing.T) {
	cfg := validConfig()
	cfg.StoragePath = t.TempDir()

	first, err := loadAccount(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Email, first.GetEmail())
	assert.Nil(t, first.GetRegistration())
	require.NotNil(t, first.GetPrivateKey())

	second, err := loadAccount(cfg)
	require.NoError(t, err)
	key, ok := first.GetPrivateKey().(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, key.Equal(second.GetPrivateKey()))
}

func writeCert(t *testing.T, dir string, notAfter time.Time) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "countertop.local"},
		NotBefore:    notAfter.Add(-48 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "certificate.pem")
	keyPath := filepath.Join(dir, "certificate.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestStored_RenewalWindow(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "certificate.pem")
	keyPath := filepath.Join(dir, "certificate.key")

	cert, due, err := stored(certPath, keyPath, time.Hour, time.Now())
	require.NoError(t, err)
	assert.Nil(t, cert)
	assert.True(t, due)

	now := time.Now()
	writeCert(t, dir, now.Add(10*time.Hour))

	cert, due, err = stored(certPath, keyPath, 8*time.Hour, now)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.False(t, due)

	_, due, err = stored(certPath, keyPath, 8*time.Hour, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, due)
}
