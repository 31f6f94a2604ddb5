package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/pkg/tlsutil"
)

// Broker kinds
const (
	BrokerNATS   = "nats"
	BrokerMemory = "memory"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COUNTERTOP"

// Config is the complete application configuration.
type Config struct {
	Broker     BrokerConfig      `yaml:"broker" json:"broker"`
	Log        LogConfig         `yaml:"log" json:"log"`
	HTTP       HTTPConfig        `yaml:"http" json:"http"`
	Store      StoreConfig       `yaml:"store" json:"store"`
	Appliances []ApplianceConfig `yaml:"appliances,omitempty" json:"appliances"`
	LockFile   string            `yaml:"lock_file" json:"lock_file,omitempty"`
}

// BrokerConfig selects and configures the topic broker.
type BrokerConfig struct {
	Kind      string        `yaml:"kind" json:"kind"`
	URLs      []string      `yaml:"urls,omitempty" json:"urls,omitempty"`
	Retention time.Duration `yaml:"retention" json:"retention"`
	ClientID  string        `yaml:"client_id" json:"client_id,omitempty"`
	Codec     string        `yaml:"codec" json:"codec,omitempty"`
	Token     string        `yaml:"token,omitempty" json:"-"`

	TLS tlsutil.ClientConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // auto, json or console
	File       string `yaml:"file" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days,omitempty"`
}

// HTTPConfig configures the status endpoint. An empty Addr disables it.
type HTTPConfig struct {
	Addr string               `yaml:"addr" json:"addr"`
	TLS  tlsutil.ServerConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// StoreConfig configures topology snapshot persistence.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bucket  string `yaml:"bucket" json:"bucket,omitempty"`
}

// ApplianceConfig is one appliance entry: a registered class plus the
// settings its station is created with.
type ApplianceConfig struct {
	Label            string         `yaml:"label" json:"label,omitempty"`
	Class            string         `yaml:"class" json:"class"`
	InputTypeFilter  []string       `yaml:"input_type_filter,omitempty" json:"input_type_filter,omitempty"`
	OutputTypeFilter []string       `yaml:"output_type_filter,omitempty" json:"output_type_filter,omitempty"`
	Config           map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Settings converts the entry into appliance settings.
func (a ApplianceConfig) Settings() appliance.Settings {
	return appliance.Settings{
		Label:            a.Label,
		InputTypeFilter:  slices.Clone(a.InputTypeFilter),
		OutputTypeFilter: slices.Clone(a.OutputTypeFilter),
		Config:           a.Config,
	}
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Kind:      BrokerMemory,
			URLs:      []string{"nats://localhost:4222"},
			Retention: broker.DefaultRetention,
			ClientID:  "countertop",
			Codec:     "binary",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Store: StoreConfig{
			Bucket: "countertop_topologies",
		},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg; nil means defaults.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks the configuration and reports the first problem found.
func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerMemory:
	case BrokerNATS:
		if len(c.Broker.URLs) == 0 {
			return invalid("broker.urls is required for the nats broker")
		}
	default:
		return invalid("broker.kind %q is not one of %q, %q", c.Broker.Kind, BrokerNATS, BrokerMemory)
	}
	if c.Broker.Retention <= 0 {
		return invalid("broker.retention must be positive, got %s", c.Broker.Retention)
	}
	switch c.Broker.Codec {
	case "", "binary", "avro", "text", "json":
	default:
		return invalid("broker.codec %q is not supported", c.Broker.Codec)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "auto", "json", "console":
	default:
		return invalid("log.format %q is not one of auto, json, console", c.Log.Format)
	}

	if c.Broker.TLS.Enabled && c.Broker.Kind != BrokerNATS {
		return invalid("broker.tls requires the nats broker")
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "validate http.tls")
	}

	if c.Store.Enabled {
		if c.Broker.Kind != BrokerNATS {
			return invalid("store.enabled requires the nats broker")
		}
		if c.Store.Bucket == "" {
			return invalid("store.bucket is required when the store is enabled")
		}
	}

	labels := make(map[string]bool)
	for i, a := range c.Appliances {
		if a.Class == "" {
			return invalid("appliances[%d].class is required", i)
		}
		if a.Label == "" {
			continue
		}
		if labels[a.Label] {
			return invalid("appliances[%d].label %q is used twice", i, a.Label)
		}
		labels[a.Label] = true
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"config", "Validate", "validate configuration")
}

// String returns a YAML representation of the config
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Loader merges configuration layers: defaults, then each file layer in
// order, then an optional .env file, then COUNTERTOP_* environment
// variables.
type Loader struct {
	layers     []string
	envFiles   []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a YAML or JSON configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddEnvFile loads path as a .env file before environment overrides are
// applied. Variables already set in the environment win. A missing file
// is ignored.
func (l *Loader) AddEnvFile(path string) {
	l.envFiles = append(l.envFiles, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Wrap(err, "config", "Load", "load "+path)
		}
		if cfg, err = mergeFromMap(cfg, raw); err != nil {
			return nil, errors.Wrap(err, "config", "Load", "merge "+path)
		}
	}

	for _, path := range l.envFiles {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.WrapInvalid(err, "config", "Load", "read env file "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a configuration file as a generic map. JSON is valid YAML,
// so both go through the YAML decoder.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "config", "loadRaw", "parse "+path)
	}
	return raw, nil
}

// mergeFromMap overrides the fields of base present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseYAML, err := yaml.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := yaml.Unmarshal(baseYAML, &baseMap); err != nil {
		return nil, err
	}

	mergedYAML, err := yaml.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := yaml.Unmarshal(mergedYAML, &merged); err != nil {
		return nil, errors.WrapInvalid(err, "config", "mergeFromMap", "decode merged configuration")
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking
// precedence. Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies COUNTERTOP_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BROKER_KIND":      &cfg.Broker.Kind,
		"BROKER_CLIENT_ID": &cfg.Broker.ClientID,
		"BROKER_CODEC":     &cfg.Broker.Codec,
		"BROKER_TOKEN":     &cfg.Broker.Token,
		"LOG_LEVEL":        &cfg.Log.Level,
		"LOG_FORMAT":       &cfg.Log.Format,
		"LOG_FILE":         &cfg.Log.File,
		"HTTP_ADDR":        &cfg.HTTP.Addr,
		"STORE_BUCKET":     &cfg.Store.Bucket,
		"LOCK_FILE":        &cfg.LockFile,
	}
	for suffix, dst := range strs {
		if val, ok, err := l.env(suffix); err != nil {
			return err
		} else if ok {
			*dst = val
		}
	}

	if val, ok, err := l.env("BROKER_URLS"); err != nil {
		return err
	} else if ok {
		cfg.Broker.URLs = splitList(val)
	}

	if val, ok, err := l.env("BROKER_RETENTION"); err != nil {
		return err
	} else if ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.WrapInvalid(err, "config", "applyEnvOverrides", l.envPrefix+"_BROKER_RETENTION")
		}
		cfg.Broker.Retention = d
	}

	if val, ok, err := l.env("STORE_ENABLED"); err != nil {
		return err
	} else if ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "config", "applyEnvOverrides", l.envPrefix+"_STORE_ENABLED")
		}
		cfg.Store.Enabled = b
	}
	return nil
}

func (l *Loader) env(suffix string) (string, bool, error) {
	key := l.envPrefix + "_" + suffix
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := checkEnvValue(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "config", "applyEnvOverrides", "read "+key)
	}
	return val, true, nil
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
