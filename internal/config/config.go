// Package config implements the YAML-driven node and aggregator
// configuration, grounded on the teacher library's own config package
// (protocols/lss/config):
// typed structs, validated at load time with errors rather than panics,
// rather than the free-form JSON configJSON the teacher used for its
// on-disk key material — this module's config carries no secrets beyond
// an optional PIN, so a straightforward yaml.v3 struct mapping is enough.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeyProviderConfig selects and parameterizes one internal/hsm backend.
type KeyProviderConfig struct {
	Type          string `yaml:"type"` // "software", "pkcs11", "cloudkms"
	PKCS11Library string `yaml:"pkcs11_library,omitempty"`
	Slot          uint   `yaml:"slot,omitempty"`
	Pin           string `yaml:"pin,omitempty"`
	KeyLabel      string `yaml:"key_label,omitempty"`
	MaxAttempts   int    `yaml:"max_attempts,omitempty"`
}

// StorageConfig selects and parameterizes one internal/store backend.
type StorageConfig struct {
	Backend       string   `yaml:"backend"` // "file", "etcd"
	Path          string   `yaml:"path,omitempty"`
	EtcdEndpoints []string `yaml:"etcd_endpoints,omitempty"`
}

// ServerConfig is the HTTP bind address shared by nodes and aggregators.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures the zap logger every component constructs at
// start.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "console"
}

// NodeConfig is the per-node configuration: node identity, threshold
// parameters, storage, key provider, and the HTTP server the node
// exposes its surfaces on.
type NodeConfig struct {
	NodeIndex   int               `yaml:"node_index"`
	MaxSigners  int               `yaml:"max_signers"`
	MinSigners  int               `yaml:"min_signers"`
	Storage     StorageConfig     `yaml:"storage"`
	KeyProvider KeyProviderConfig `yaml:"key_provider"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// LoadNodeConfig reads and validates a node configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the recognized-option constraints: a node index
// within the deployment, 1 <= min_signers <= max_signers, and a known
// storage/key-provider backend.
func (c *NodeConfig) Validate() error {
	if c.NodeIndex < 0 {
		return fmt.Errorf("config: node_index must be >= 0")
	}
	if c.MaxSigners <= 0 {
		return fmt.Errorf("config: max_signers must be > 0")
	}
	if c.MinSigners <= 0 || c.MinSigners > c.MaxSigners {
		return fmt.Errorf("config: min_signers must be in [1, max_signers]")
	}
	if c.NodeIndex >= c.MaxSigners {
		return fmt.Errorf("config: node_index %d out of range for max_signers %d", c.NodeIndex, c.MaxSigners)
	}
	switch c.Storage.Backend {
	case "", "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for the file backend")
		}
	case "etcd":
		if len(c.Storage.EtcdEndpoints) == 0 {
			return fmt.Errorf("config: storage.etcd_endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.KeyProvider.Type {
	case "", "software":
	case "pkcs11":
		if c.KeyProvider.PKCS11Library == "" || c.KeyProvider.KeyLabel == "" {
			return fmt.Errorf("config: key_provider.pkcs11_library and key_label are required for the pkcs11 backend")
		}
	case "cloudkms":
		if c.KeyProvider.KeyLabel == "" {
			return fmt.Errorf("config: key_provider.key_label is required for the cloudkms backend")
		}
	default:
		return fmt.Errorf("config: unknown key_provider.type %q", c.KeyProvider.Type)
	}
	return nil
}

// SignerNode is one entry in an aggregator's configured roster.
type SignerNode struct {
	Index int    `yaml:"index"`
	URL   string `yaml:"url"`
}

// AggregatorConfig is the aggregator configuration: the signer roster,
// the signing threshold, and the HTTP server the address and signing
// aggregators expose.
type AggregatorConfig struct {
	SignerNodes []SignerNode `yaml:"signer_nodes"`
	Threshold   int          `yaml:"threshold"`
	Server      ServerConfig `yaml:"server"`
	Log         LogConfig    `yaml:"log"`
}

// LoadAggregatorConfig reads and validates an aggregator configuration
// file.
func LoadAggregatorConfig(path string) (*AggregatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg AggregatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AggregatorConfig) Validate() error {
	if len(c.SignerNodes) == 0 {
		return fmt.Errorf("config: signer_nodes must not be empty")
	}
	if c.Threshold <= 0 || c.Threshold > len(c.SignerNodes) {
		return fmt.Errorf("config: threshold must be in [1, len(signer_nodes)]")
	}
	seen := make(map[int]bool, len(c.SignerNodes))
	for _, n := range c.SignerNodes {
		if n.URL == "" {
			return fmt.Errorf("config: signer_nodes[%d].url is required", n.Index)
		}
		if seen[n.Index] {
			return fmt.Errorf("config: duplicate signer_nodes index %d", n.Index)
		}
		seen[n.Index] = true
	}
	return nil
}
