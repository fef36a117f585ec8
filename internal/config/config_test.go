package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfrost/custody/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadNodeConfigValid(t *testing.T) {
	path := writeConfig(t, `
node_index: 0
max_signers: 3
min_signers: 2
storage:
  backend: file
  path: /tmp/custody-store
key_provider:
  type: software
  pin: "1234"
  key_label: node-0
server:
  host: 0.0.0.0
  port: 8000
log:
  level: info
  format: json
`)
	cfg, err := config.LoadNodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.NodeIndex)
	assert.Equal(t, 3, cfg.MaxSigners)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestLoadNodeConfigRejectsOutOfRangeThreshold(t *testing.T) {
	path := writeConfig(t, `
node_index: 0
max_signers: 3
min_signers: 5
storage:
  backend: file
  path: /tmp/custody-store
`)
	_, err := config.LoadNodeConfig(path)
	assert.Error(t, err)
}

func TestLoadNodeConfigRejectsNodeIndexOutOfRange(t *testing.T) {
	path := writeConfig(t, `
node_index: 5
max_signers: 3
min_signers: 2
storage:
  backend: file
  path: /tmp/custody-store
`)
	_, err := config.LoadNodeConfig(path)
	assert.Error(t, err)
}

func TestLoadNodeConfigRejectsUnknownStorageBackend(t *testing.T) {
	path := writeConfig(t, `
node_index: 0
max_signers: 3
min_signers: 2
storage:
  backend: s3
`)
	_, err := config.LoadNodeConfig(path)
	assert.Error(t, err)
}

func TestLoadNodeConfigRejectsIncompletePKCS11(t *testing.T) {
	path := writeConfig(t, `
node_index: 0
max_signers: 3
min_signers: 2
storage:
  backend: file
  path: /tmp/custody-store
key_provider:
  type: pkcs11
`)
	_, err := config.LoadNodeConfig(path)
	assert.Error(t, err)
}

func TestLoadAggregatorConfigValid(t *testing.T) {
	path := writeConfig(t, `
signer_nodes:
  - index: 0
    url: http://node0:8000
  - index: 1
    url: http://node1:8000
  - index: 2
    url: http://node2:8000
threshold: 2
server:
  host: 0.0.0.0
  port: 9000
`)
	cfg, err := config.LoadAggregatorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Threshold)
	assert.Len(t, cfg.SignerNodes, 3)
}

func TestLoadAggregatorConfigRejectsDuplicateIndex(t *testing.T) {
	path := writeConfig(t, `
signer_nodes:
  - index: 0
    url: http://node0:8000
  - index: 0
    url: http://node1:8000
threshold: 1
`)
	_, err := config.LoadAggregatorConfig(path)
	assert.Error(t, err)
}

func TestLoadAggregatorConfigRejectsThresholdAboveRoster(t *testing.T) {
	path := writeConfig(t, `
signer_nodes:
  - index: 0
    url: http://node0:8000
threshold: 2
`)
	_, err := config.LoadAggregatorConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadNodeConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
