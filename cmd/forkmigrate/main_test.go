package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/config"
	"github.com/nexusmutual/forkmigrate/migration"
)

func exec(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := exec(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "forkmigrate "+version+" (commit "+commit+")\n", out)
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := exec(t, "deploy")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestInvalidConfig(t *testing.T) {
	code, _, errOut := exec(t, "categories", "--dialect", "ganache")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "ganache")

	code, _, errOut = exec(t, "categories", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "config: read")
}

func TestCategories(t *testing.T) {
	code, out, errOut := exec(t, "categories")
	require.Equal(t, 0, code, errOut)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "41 Set Asset Swap Details (proposal category 4)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0x"))
	assert.Equal(t, "42 Add new internal contracts (proposal category 3)", lines[2])
	assert.Equal(t, "43 Remove contracts (proposal category 3)", lines[4])
}

func TestCategories_FromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
44:
  name: Set cover product
  memberRoleToVote: 1
  majorityVotePerc: 60
  quorumPerc: 15
  allowedToCreateProposal: [2]
  closingTime: 604800
  contractName: CO
  incentives: [0, 0, 60, 0]
  functionHash: setProducts(uint256)
`), 0o644))
	cfgFile := filepath.Join(t.TempDir(), "forkmigrate.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("governance:\n  categoriesFile: "+file+"\n"), 0o644))

	code, out, errOut := exec(t, "categories", "--config", cfgFile)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "44 Set cover product (proposal category 3)")
}

func TestSuites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "contracts", "Pool.sol", "Pool.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(`{"contractName":"Pool","sourceName":"contracts/Pool.sol","abi":[],"bytecode":"0x6080","linkReferences":{}}`), 0o644))

	code, out, errOut := exec(t, "suites", "--artifacts", dir)
	require.Equal(t, 0, code, errOut)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 13)
	assert.Equal(t, migration.SuiteName+" (24 steps)", lines[0])
	assert.Equal(t, "Pool (2 steps)", lines[1])
	assert.Equal(t, "TokenController (not built)", lines[2])
	assert.Equal(t, "StakingPool (not built)", lines[12])
}

func TestTelemetryConfig_UsesChainName(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Endpoint = "localhost:4317"

	tc := telemetryConfig(cfg, chain.NetworkName(987654321987))
	assert.Equal(t, "chain-987654321987", tc.Network)
	assert.NotEqual(t, cfg.Registry.Network, tc.Network)
	assert.Equal(t, "localhost:4317", tc.Endpoint)
	assert.Empty(t, cfg.Telemetry.Network)
}

func TestUnit(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "contracts", "Pool.sol", "Pool.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(`{"contractName":"Pool","sourceName":"contracts/Pool.sol","abi":[],"bytecode":"0x6080","linkReferences":{}}`), 0o644))

	// Pool is compiled but its constructor does not match.
	code, out, _ := exec(t, "unit", "--artifacts", dir, "Pool", "Claims")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "  - Claims (no suite)")
	assert.Contains(t, out, "is compiled")
}
