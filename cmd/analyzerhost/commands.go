package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/dshills/analyzerhost/internal/app"
	"github.com/dshills/analyzerhost/internal/config"
	hostlog "github.com/dshills/analyzerhost/internal/log"
	"github.com/dshills/analyzerhost/internal/plugin"
	"github.com/dshills/analyzerhost/internal/plugin/leak"
)

const configFlagName = "config"

// cli carries state shared by every subcommand once the root pre-run has
// loaded the configuration.
type cli struct {
	cfg config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "analyzerhost",
		Short:         "Load analyzer plugins and report their compatibility",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringP(configFlagName, "c", config.DefaultPath(), "path to the configuration file")
	hostlog.RegisterLoggingFlags(root.PersistentFlags())

	root.AddCommand(
		c.checkCommand(),
		c.loadCommand(),
		c.watchCommand(),
		versionCommand(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString(configFlagName)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	c.cfg = cfg

	logger, err := hostlog.GetBaseLogger(cmd, hostlog.Settings{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	cmd.SetContext(slogcontext.NewCtx(cmd.Context(), logger))
	return nil
}

func (c *cli) newApp(ctx context.Context) (*app.Application, error) {
	return app.New(app.Options{
		Config: c.cfg,
		Logger: slogcontext.FromCtx(ctx),
	})
}

func (c *cli) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report which plugins are eligible and why others are skipped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown(cmd.Context())

			results, err := a.Manager().Check(cmd.Context())
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
}

func (c *cli) loadCommand() *cobra.Command {
	var reclaimTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every eligible plugin once, report the outcome and unload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Shutdown(ctx)

			out := cmd.OutOrStdout()
			handles, err := loadAndReport(ctx, a, out)
			if err != nil {
				return err
			}
			if err := a.Manager().Unload(ctx); err != nil {
				return err
			}
			if reclaimTimeout > 0 {
				if !leak.TryReclaim(reclaimTimeout, handles...) {
					return fmt.Errorf("plugin contexts still reachable after %s", reclaimTimeout)
				}
				fmt.Fprintln(out, "all plugin contexts reclaimed")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&reclaimTimeout, "verify-reclaim", 0,
		"after unloading, wait up to this long for plugin contexts to be garbage collected")
	return cmd
}

func (c *cli) watchCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load plugins and reload them whenever bundles change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("metrics-address") {
				c.cfg.Metrics.Address = metricsAddr
			}
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(cmd.Context()))
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-address", "", "serve Prometheus metrics on this address")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "analyzerhost %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

// loadAndReport loads once and prints the outcome. It returns only leak
// handles so that no reference to the set outlives the call.
func loadAndReport(ctx context.Context, a *app.Application, out io.Writer) ([]leak.Handle, error) {
	set, err := a.Manager().Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := printResults(out, a.Manager().Results()); err != nil {
		return nil, err
	}
	printSession(out, set)
	return set.Handles(), nil
}

func printResults(w io.Writer, results plugin.Results) error {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tVERSION\tSTATUS\tDETAIL")
	for _, k := range keys {
		r := results[k]
		status, detail := "eligible", ""
		if r.Skipped() {
			status, detail = "skipped", r.Skip.Explain()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k, r.Descriptor.Version, status, detail)
	}
	return tw.Flush()
}

func printSession(w io.Writer, set *plugin.LoadedModuleSet) {
	fmt.Fprintf(w, "\nsession %s: %d domains, %d instances\n",
		set.SessionID, len(set.Domains()), len(set.Instances()))
	for key, err := range set.FailedDomains() {
		fmt.Fprintf(w, "  domain %s failed: %v\n", key, err)
	}
	for key, err := range set.FailedPlugins() {
		fmt.Fprintf(w, "  plugin %s failed: %v\n", key, err)
	}
}
