// Package config centralizes runtime configuration for notaryd. It loads a
// JSON or YAML configuration file and exposes a process-wide configuration
// with sensible defaults. Development builds use the defaults when the file
// is not present. Operators place a file at /etc/notary/config.json or
// point CONFIG_FILE at another path; NOTARY_* environment variables
// override individual fields.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"notary.mini/notary/internal/notary"
)

// DefaultPath is used when CONFIG_FILE is not set.
const DefaultPath = "/etc/notary/config.json"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Ledger holds the fixed contract parameters. Zero fields take defaults,
// except the pointer fields where only an absent value does.
type Ledger struct {
	FingerprintSize      int    `json:"fingerprint_size" yaml:"fingerprint_size"`
	MaxMetadataSize      *int   `json:"max_metadata_size" yaml:"max_metadata_size"`
	SignatureScheme      string `json:"signature_scheme" yaml:"signature_scheme"`
	FingerprintAlgorithm string `json:"fingerprint_algorithm" yaml:"fingerprint_algorithm"`
	SignMetadata         *bool  `json:"sign_metadata" yaml:"sign_metadata"`
}

// Config holds configurable options for the notary node.
type Config struct {
	KeyFile        string `json:"key_file" yaml:"key_file"`
	Backend        string `json:"backend" yaml:"backend"`
	DBFile         string `json:"db_file" yaml:"db_file"`
	PostgresDSN    string `json:"postgres_dsn" yaml:"postgres_dsn"`
	PostgresTable  string `json:"postgres_table" yaml:"postgres_table"`
	ABCISocket     string `json:"abci_socket" yaml:"abci_socket"`
	TendermintHome string `json:"tendermint_home" yaml:"tendermint_home"`
	TendermintRPC  string `json:"tendermint_rpc" yaml:"tendermint_rpc"`
	// RunTendermint starts a local tendermint process against ABCISocket.
	RunTendermint bool `json:"run_tendermint" yaml:"run_tendermint"`
	// FeedAddr is the listen address of the event feed; "off" disables it.
	FeedAddr string `json:"feed_addr" yaml:"feed_addr"`
	Ledger   Ledger `json:"ledger" yaml:"ledger"`
}

var cfg *Config

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	p := notary.DefaultParams()
	maxMetadata, signMetadata := p.MaxMetadataSize, p.SignMetadata
	return &Config{
		KeyFile:       "notary_key.pem",
		Backend:       BackendSQLite,
		DBFile:        "notary.db",
		PostgresTable: "notary_kv",
		ABCISocket:    "unix://notary.sock",
		TendermintRPC: "http://localhost:26657",
		FeedAddr:      ":8080",
		Ledger: Ledger{
			FingerprintSize:      p.FingerprintSize,
			MaxMetadataSize:      &maxMetadata,
			SignatureScheme:      p.SignatureScheme,
			FingerprintAlgorithm: p.FingerprintAlgorithm,
			SignMetadata:         &signMetadata,
		},
	}
}

// LoadConfig reads the file at path, YAML for .yaml/.yml and JSON
// otherwise. A missing file or empty path yields the defaults; a file that
// cannot be parsed is an error. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()
	c := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			c = def
		case err != nil:
			return nil, fmt.Errorf("config load: %w", err)
		default:
			if err := unmarshal(path, b, c); err != nil {
				return nil, fmt.Errorf("config unmarshal %s: %w", path, err)
			}
		}
	} else {
		c = def
	}

	merge(c, def)
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

func unmarshal(path string, b []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, c)
	default:
		return json.Unmarshal(b, c)
	}
}

// merge fills zero-value fields of c from def.
func merge(c, def *Config) {
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.PostgresTable == "" {
		c.PostgresTable = def.PostgresTable
	}
	if c.ABCISocket == "" {
		c.ABCISocket = def.ABCISocket
	}
	if c.TendermintRPC == "" {
		c.TendermintRPC = def.TendermintRPC
	}
	if c.FeedAddr == "" {
		c.FeedAddr = def.FeedAddr
	}
	if c.Ledger.FingerprintSize == 0 {
		c.Ledger.FingerprintSize = def.Ledger.FingerprintSize
	}
	if c.Ledger.MaxMetadataSize == nil {
		v := *def.Ledger.MaxMetadataSize
		c.Ledger.MaxMetadataSize = &v
	}
	if c.Ledger.SignatureScheme == "" {
		c.Ledger.SignatureScheme = def.Ledger.SignatureScheme
	}
	if c.Ledger.FingerprintAlgorithm == "" {
		c.Ledger.FingerprintAlgorithm = def.Ledger.FingerprintAlgorithm
	}
	if c.Ledger.SignMetadata == nil {
		v := *def.Ledger.SignMetadata
		c.Ledger.SignMetadata = &v
	}
}

// applyEnvOverrides overrides fields from NOTARY_ environment variables.
func applyEnvOverrides(c *Config) error {
	strs := map[string]*string{
		"NOTARY_KEY_FILE":              &c.KeyFile,
		"NOTARY_BACKEND":               &c.Backend,
		"NOTARY_DB_FILE":               &c.DBFile,
		"NOTARY_POSTGRES_DSN":          &c.PostgresDSN,
		"NOTARY_POSTGRES_TABLE":        &c.PostgresTable,
		"NOTARY_ABCI_SOCKET":           &c.ABCISocket,
		"NOTARY_TENDERMINT_HOME":       &c.TendermintHome,
		"NOTARY_TENDERMINT_RPC":        &c.TendermintRPC,
		"NOTARY_FEED_ADDR":             &c.FeedAddr,
		"NOTARY_SIGNATURE_SCHEME":      &c.Ledger.SignatureScheme,
		"NOTARY_FINGERPRINT_ALGORITHM": &c.Ledger.FingerprintAlgorithm,
	}
	for key, field := range strs {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"NOTARY_FINGERPRINT_SIZE":  &c.Ledger.FingerprintSize,
		"NOTARY_MAX_METADATA_SIZE": c.Ledger.MaxMetadataSize,
	}
	for key, field := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*field = n
		}
	}

	bools := map[string]*bool{
		"NOTARY_RUN_TENDERMINT": &c.RunTendermint,
		"NOTARY_SIGN_METADATA":  c.Ledger.SignMetadata,
	}
	for key, field := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*field = b
		}
	}
	return nil
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("backend %q requires postgres_dsn", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// Params converts the ledger section into contract parameters.
func (c *Config) Params() notary.Params {
	p := notary.Params{
		FingerprintSize:      c.Ledger.FingerprintSize,
		MaxMetadataSize:      notary.DefaultParams().MaxMetadataSize,
		SignatureScheme:      c.Ledger.SignatureScheme,
		FingerprintAlgorithm: c.Ledger.FingerprintAlgorithm,
		SignMetadata:         true,
	}
	if c.Ledger.MaxMetadataSize != nil {
		p.MaxMetadataSize = *c.Ledger.MaxMetadataSize
	}
	if c.Ledger.SignMetadata != nil {
		p.SignMetadata = *c.Ledger.SignMetadata
	}
	return p
}

// FeedEnabled reports whether the event feed should be served.
func (c *Config) FeedEnabled() bool {
	return c.FeedAddr != "off"
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		cfg = Defaults()
	}
	return cfg
}

// Path returns the configuration file selected by CONFIG_FILE.
func Path() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return DefaultPath
}
