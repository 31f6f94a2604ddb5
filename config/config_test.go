package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/countertop/errors"
)

// inDir runs the test with dir as working directory so relative layer
// paths pass the traversal check.
func inDir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BrokerMemory, cfg.Broker.Kind)
	assert.Equal(t, 30*time.Second, cfg.Broker.Retention)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoader_YAMLLayers(t *testing.T) {
	dir := t.TempDir()
	base := write(t, dir, "base.yaml", `
broker:
  kind: nats
  urls: [nats://a:4222, nats://b:4222]
  retention: 45s
log:
  level: debug
appliances:
  - class: TextFile
    label: reader
    config:
      path: ./input.txt
      line_duration_ms: 250
  - class: SentenceSplitter
    output_type_filter: [TEXT.SENTENCE]
`)
	override := write(t, dir, "prod.yaml", `
broker:
  urls: [nats://prod:4222]
http:
  addr: ""
`)

	l := NewLoader()
	l.lookupEnv = noEnv
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerNATS, cfg.Broker.Kind)
	assert.Equal(t, []string{"nats://prod:4222"}, cfg.Broker.URLs)
	assert.Equal(t, 45*time.Second, cfg.Broker.Retention)
	assert.Equal(t, "countertop", cfg.Broker.ClientID)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "", cfg.HTTP.Addr)

	require.Len(t, cfg.Appliances, 2)
	s := cfg.Appliances[0].Settings()
	assert.Equal(t, "reader", s.Label)
	assert.Equal(t, "./input.txt", s.Config["path"])
	assert.Equal(t, 250, s.Config["line_duration_ms"])
	assert.Equal(t, []string{"TEXT.SENTENCE"}, cfg.Appliances[1].OutputTypeFilter)
}

func TestLoader_JSONLayer(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "config.json", `{"broker": {"kind": "memory", "retention": "2m"}, "lock_file": "/tmp/ct.lock"}`)

	l := NewLoader()
	l.lookupEnv = noEnv
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Broker.Retention)
	assert.Equal(t, "/tmp/ct.lock", cfg.LockFile)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"COUNTERTOP_BROKER_KIND":      "nats",
		"COUNTERTOP_BROKER_URLS":      "nats://x:4222, nats://y:4222,",
		"COUNTERTOP_BROKER_RETENTION": "10s",
		"COUNTERTOP_STORE_ENABLED":    "true",
		"COUNTERTOP_LOG_FORMAT":       "json",
	}
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.Broker.URLs)
	assert.Equal(t, 10*time.Second, cfg.Broker.Retention)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)

	env["COUNTERTOP_BROKER_RETENTION"] = "soon"
	_, err = l.Load()
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := write(t, dir, "test.env", "COUNTERTOP_ENVFILE_TEST_HTTP_ADDR=:9999\n")
	t.Cleanup(func() { _ = os.Unsetenv("COUNTERTOP_ENVFILE_TEST_HTTP_ADDR") })

	l := NewLoader()
	l.envPrefix = "COUNTERTOP_ENVFILE_TEST"
	l.AddEnvFile(envFile)
	l.AddEnvFile(filepath.Join(dir, "missing.env"))

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
}

func TestLoader_RejectsBadPaths(t *testing.T) {
	dir := t.TempDir()
	inDir(t, dir)
	write(t, dir, "config.toml", "x = 1")

	l := NewLoader()
	l.lookupEnv = noEnv

	_, err := l.LoadFile("config.toml")
	assert.Error(t, err)

	_, err = l.LoadFile("../outside.yaml")
	assert.Error(t, err)

	_, err = l.LoadFile("missing.yaml")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown broker", func(c *Config) { c.Broker.Kind = "kafka" }},
		{"nats without urls", func(c *Config) { c.Broker.Kind = BrokerNATS; c.Broker.URLs = nil }},
		{"zero retention", func(c *Config) { c.Broker.Retention = 0 }},
		{"bad codec", func(c *Config) { c.Broker.Codec = "protobuf" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"store on memory broker", func(c *Config) { c.Store.Enabled = true }},
		{"appliance without class", func(c *Config) { c.Appliances = []ApplianceConfig{{Label: "x"}} }},
		{"duplicate label", func(c *Config) {
			c.Appliances = []ApplianceConfig{{Class: "A", Label: "x"}, {Class: "B", Label: "x"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)

	got := sc.Get()
	got.Broker.URLs[0] = "mutated"
	assert.NotEqual(t, "mutated", sc.Get().Broker.URLs[0])

	bad := Default()
	bad.Broker.Kind = "kafka"
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	next := Default()
	next.HTTP.Addr = ":9090"
	require.NoError(t, sc.Update(next))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, ":9090", sc.Get().HTTP.Addr)
		}()
	}
	wg.Wait()
}

func TestConfig_CloneKeepsDurations(t *testing.T) {
	cfg := Default()
	cfg.Broker.Retention = 90 * time.Second
	cfg.Appliances = []ApplianceConfig{{Class: "LogSink", Config: map[string]any{"level": "debug"}}}

	clone := cfg.Clone()
	assert.Equal(t, cfg, clone)
	assert.Contains(t, cfg.String(), "retention: 1m30s")
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("COUNTERTOP_LOG_LEVEL", "debug"))
	assert.Error(t, checkEnvValue("COUNTERTOP_LOG_LEVEL", "de\x00bug"))
	assert.Error(t, checkEnvValue("COUNTERTOP_LOG_LEVEL", strings.Repeat("x", maxEnvVarLen+1)))
}
