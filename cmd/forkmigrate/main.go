// Command forkmigrate runs the Nexus Mutual v1 to v2 migration against a
// forked mainnet node, followed by the module unit suites.
//
// Usage:
//
//	forkmigrate migrate [flags]
//	forkmigrate unit [module...]
//	forkmigrate suites
//	forkmigrate registry
//	forkmigrate categories
//	forkmigrate version
//
// Flags:
//
//	--config         YAML configuration file
//	--rpc            Forked node JSON-RPC URL (default: http://127.0.0.1:8545)
//	--dialect        Node dialect: hardhat, anvil (default: hardhat)
//	--artifacts      Compiled contract artifacts directory
//	--registry       Version-data registry URL
//	--log-level      Log level: debug, info, warn, error (default: info)
//	--metrics.addr   Serve Prometheus metrics on this address while running
//	--otlp.endpoint  Export traces to this OTLP gRPC endpoint
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "forkmigrate",
		Short: "Nexus Mutual v2 migration harness for a forked mainnet node",
		Long: `forkmigrate binds to the deployed v1 contracts, impersonates the advisory
board on a forked node and passes the governance proposals that move the
protocol to v2. Module unit suites can be run on their own.

Example:
  npx hardhat node --fork $PROVIDER_URL &
  forkmigrate migrate --artifacts ../contracts/artifacts`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.register(root)

	root.AddCommand(
		newMigrateCmd(opts),
		newUnitCmd(opts),
		newSuitesCmd(opts),
		newRegistryCmd(opts),
		newCategoriesCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "forkmigrate %s (commit %s)\n", version, commit)
		},
	}
}
