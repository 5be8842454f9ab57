package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nexusmutual/forkmigrate/governance"
	"github.com/nexusmutual/forkmigrate/harness"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/migration"
	"github.com/nexusmutual/forkmigrate/scripts"
	"github.com/nexusmutual/forkmigrate/unit"
)

// Category ids that exist on chain before the migration and are edited
// rather than added.
var editedCategories = map[uint64]bool{41: true}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the v2 migration suite against the forked node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			categories, err := governance.LoadCategories(cfg.Governance.CategoriesFile)
			if err != nil {
				return err
			}
			client, network, err := dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			stop, err := observe(ctx, cfg, network)
			if err != nil {
				return err
			}
			defer stop()
			reg, err := fetchRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			store, err := openArtifacts(cfg)
			if err != nil {
				return err
			}

			l := log.Default()
			env := migration.NewEnv(client, reg, store, scripts.NewRunner(cfg.Scripts, cfg.ScriptProviderURL(), l), cfg)
			env.Categories = categories
			return runSuites(ctx, cmd.OutOrStdout(), harness.NewRunner(l), migration.Suite(env))
		},
	}
}

func newUnitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unit [module...]",
		Short: "Run module unit suites in canonical order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			stop, err := observe(cmd.Context(), cfg, "")
			if err != nil {
				return err
			}
			defer stop()

			store, err := openArtifacts(cfg)
			if err != nil {
				return err
			}
			reg := harness.NewRegistry()
			if err := unit.Register(reg, store); err != nil {
				return err
			}
			suites, missing := reg.Unit(args...)
			for _, name := range missing {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s (no suite)\n", name)
			}
			return runSuites(cmd.Context(), cmd.OutOrStdout(), harness.NewRunner(log.Default()), suites...)
		},
	}
}

// runSuites runs suites in order, printing each summary, and returns the
// first failure.
func runSuites(ctx context.Context, w io.Writer, runner *harness.Runner, suites ...harness.Suite) error {
	var first error
	for _, s := range suites {
		report := runner.Run(ctx, s)
		fmt.Fprintln(w, report.Summary())
		if err := report.Err(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newSuitesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "suites",
		Short: "List suites in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			reg := harness.NewRegistry()
			if err := reg.Register(migration.Suite(&migration.Env{})); err != nil {
				return err
			}
			if store, err := openArtifacts(cfg); err != nil {
				log.Default().Warn("unit suites unavailable", "err", err)
			} else if err := unit.Register(reg, store); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, name := range reg.Names() {
				s, _ := reg.Suite(name)
				fmt.Fprintf(w, "%s (%d steps)\n", name, len(s.Steps))
			}
			_, missing := reg.Unit()
			for _, name := range missing {
				fmt.Fprintf(w, "%s (not built)\n", name)
			}
			return nil
		},
	}
}

func newRegistryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Fetch the version-data registry and list contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			reg, err := fetchRegistry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tADDRESS")
			for _, code := range reg.Codes() {
				e, err := reg.Lookup(code)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Code, e.Name, e.Address.Hex())
			}
			return tw.Flush()
		},
	}
}

func newCategoriesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Print the encoded proposal category actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			cats, err := governance.LoadCategories(cfg.Governance.CategoriesFile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, id := range governance.SortedIDs(cats) {
				c := cats[id]
				var (
					action []byte
					kind   uint64
				)
				if editedCategories[id] {
					action, err = governance.EditCategory(id, c)
					kind = governance.CategoryEditCategory
				} else {
					action, err = governance.NewCategory(c)
					kind = governance.CategoryNewCategory
				}
				if err != nil {
					return errors.Wrapf(err, "category %d", id)
				}
				fmt.Fprintf(w, "%d %s (proposal category %d)\n%s\n", id, c.Name, kind, hexutil.Encode(action))
			}
			return nil
		},
	}
}
