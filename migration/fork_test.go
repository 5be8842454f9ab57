//go:build fork

package migration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusmutual/forkmigrate/artifacts"
	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/config"
	"github.com/nexusmutual/forkmigrate/harness"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/registry"
	"github.com/nexusmutual/forkmigrate/scripts"
	"github.com/nexusmutual/forkmigrate/telemetry"
)

// TestFork runs the whole migration against a live mainnet fork:
//
//	FORK_RPC_URL=http://127.0.0.1:8545 ARTIFACTS_DIR=../contracts/artifacts \
//	  go test -tags fork -run TestFork -timeout 30m ./migration
func TestFork(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	if os.Getenv(config.EnvForkRPCURL) == "" {
		t.Skip("FORK_RPC_URL not set")
	}
	if dir := os.Getenv("ARTIFACTS_DIR"); dir != "" {
		cfg.ArtifactsDir = dir
	}
	cfg.FundMembers = "1000"
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	dialect, err := chain.ParseDialect(cfg.Dialect)
	require.NoError(t, err)
	client, err := chain.Dial(ctx, cfg.RPCURL, dialect, chain.WithPollInterval(cfg.PollInterval))
	require.NoError(t, err)
	defer client.Close()

	reg, err := registry.Fetch(ctx, telemetry.HTTPClient(cfg.Registry.Timeout), cfg.Registry.URL, cfg.Registry.Network, registry.NewBackOff())
	require.NoError(t, err)
	store, err := artifacts.Open(cfg.ArtifactsDir)
	require.NoError(t, err)

	l := log.New(log.ParseLevel("debug"))
	e := NewEnv(client, reg, store, scripts.NewRunner(cfg.Scripts, cfg.ScriptProviderURL(), l), cfg).WithLogger(l)
	report := harness.NewRunner(l).Run(ctx, Suite(e))
	t.Log("\n" + report.Summary())
	require.NoError(t, report.Err())
}
