package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/upb/llm-quota-router/app"
	"github.com/upb/llm-quota-router/config"
	"github.com/upb/llm-quota-router/internal/observability"
	"github.com/upb/llm-quota-router/services/routing"
)

// depsLoader builds the in-process router for one command
type depsLoader func(ctx context.Context, logLevel string) (*app.Dependencies, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(loadDependencies).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadDependencies reads the same environment as the gateway. Metrics are
// off since nothing scrapes a one-shot process.
func loadDependencies(ctx context.Context, logLevel string) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Observability.MetricsEnabled = false

	logger, err := observability.NewLogger(logLevel, "console")
	if err != nil {
		return nil, err
	}
	return app.NewDependencies(ctx, cfg, logger)
}

type cli struct {
	load     depsLoader
	logLevel string
}

func newRootCmd(load depsLoader) *cobra.Command {
	c := &cli{load: load}

	root := &cobra.Command{
		Use:           "routerctl",
		Short:         "Inspect quotas and route prompts across AI providers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(c.reportCmd(), c.routeCmd(), c.providersCmd())
	return root
}

// withDeps runs fn against freshly built dependencies and closes them,
// which flushes the usage ledger
func (c *cli) withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	deps, err := c.load(ctx, c.logLevel)
	if err != nil {
		return err
	}
	if err := deps.Start(); err != nil {
		_ = deps.Close(context.Background())
		return err
	}
	defer func() {
		if closeErr := deps.Close(context.Background()); err == nil {
			err = closeErr
		}
	}()

	return fn(ctx, deps)
}

func (c *cli) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the daily quota report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				return writeJSON(cmd.OutOrStdout(), deps.Quota.Status())
			})
		},
	}
}

func (c *cli) routeCmd() *cobra.Command {
	var (
		strategy  string
		preset    string
		maxTokens int
		model     string
	)

	cmd := &cobra.Command{
		Use:   "route <prompt>",
		Short: "Route a prompt through the configured providers",
		Long: `Route a prompt in-process and print the result.

Strategies: cost_optimized, performance, load_balanced, specialized, failover.
Presets: quick, complex, creative, analysis.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strategy != "" && preset != "" {
				return fmt.Errorf("--strategy and --preset are mutually exclusive")
			}
			prompt := strings.Join(args, " ")

			return c.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				opts := routing.Options{MaxTokens: maxTokens, Model: model}

				var err error
				var result interface{}
				if preset != "" {
					result, err = deps.Router.RoutePreset(ctx, preset, prompt, opts)
				} else {
					result, err = deps.Router.Route(ctx, prompt, strategy, opts)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "routing strategy (default from ROUTING_DEFAULT_STRATEGY)")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "routing preset")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum tokens to generate")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	return cmd
}

func (c *cli) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers with their rates and quota state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				quota := make(map[string]string)
				for name := range deps.Quota.Limits() {
					quota[name] = "near-limit"
				}
				for _, name := range deps.Quota.AvailableProviders() {
					quota[name] = "ok"
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PROVIDER\tMODEL\tCOST/1K\tTAGS\tQUOTA")
				for _, d := range deps.Providers.Descriptors() {
					state, ok := quota[d.Name]
					if !ok {
						state = "unlimited"
					}
					fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%s\n",
						d.Name, dash(d.Model), d.CostPer1K, dash(strings.Join(d.Tags, ",")), state)
				}
				return tw.Flush()
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
