package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/negstation/internal/app"
	"github.com/dshills/negstation/internal/config"
	"github.com/dshills/negstation/internal/stage"
)

// shutdownTimeout bounds the time components get to stop.
const shutdownTimeout = 10 * time.Second

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	debug      bool
}

// loadConfig resolves the configuration: defaults, then the file, then
// the environment, then flags.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, config.EnvPrefix); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("debug") {
		cfg.Log.Debug = g.debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "negstation",
		Short:         "Film negative scanning and development pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to configuration file (toml, yaml or json)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&g.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(g),
		newDevelopCmd(g),
		newWatchCmd(g),
		newConfigCmd(g),
		newKindsCmd(),
		newVersionCmd(),
	)
	return root
}

// chainFlags describe a chain built on the command line.
type chainFlags struct {
	layout  string
	filters []string
	output  string
}

func (c *chainFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.layout, "layout", "l", "", "Restore the pipeline from a saved layout")
	cmd.Flags().StringSliceVar(&c.filters, "chain", nil, "Filter kinds applied after the source, in order")
	cmd.Flags().StringVarP(&c.output, "output", "o", "", "Export path; the extension selects the format")
}

// build sets up the session: a saved layout when given, otherwise the
// configured layout, otherwise a chain from the flags. An output path
// overrides every export node of a layout.
func (c *chainFlags) build(ctx context.Context, a *app.Application) error {
	cfg := a.Config()

	layout := c.layout
	if layout == "" && len(c.filters) == 0 {
		layout = cfg.Layout.Path
	}
	if layout != "" {
		if err := a.LoadLayout(ctx, layout); err != nil {
			return err
		}
		if c.output == "" {
			return nil
		}
		for _, n := range a.Nodes() {
			if n.Kind() == "export" {
				if err := n.SetConfig(stage.Config{"path": c.output}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	output := c.output
	if output == "" {
		output = cfg.Export.Path
	}
	_, err := a.BuildChain(ctx, app.Chain{
		Filters:       c.filters,
		ExportPath:    output,
		ExportQuality: cfg.Export.Quality,
	})
	return err
}

// runLoop runs the application until SIGINT or SIGTERM and shuts it down.
func runLoop(a *app.Application) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := a.Run(ctx)
	return errors.Join(runErr, shutdown(a))
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var chain chainFlags
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline with the inspection server and capture inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTP.Enabled = true
				cfg.HTTP.Addr = httpAddr
			}

			a, err := app.New(cfg, app.Options{ConfigPath: g.configPath})
			if err != nil {
				return err
			}
			if err := chain.build(cmd.Context(), a); err != nil {
				return errors.Join(err, shutdown(a))
			}
			return runLoop(a)
		},
	}
	chain.register(cmd)
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve the inspection API on this address")
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var chain chainFlags
	var extensions []string

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Open every capture that lands in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Inbox.Dir = args[0]
			if len(extensions) > 0 {
				cfg.Inbox.Extensions = extensions
			}

			a, err := app.New(cfg, app.Options{ConfigPath: g.configPath})
			if err != nil {
				return err
			}
			if err := chain.build(cmd.Context(), a); err != nil {
				return errors.Join(err, shutdown(a))
			}
			return runLoop(a)
		},
	}
	chain.register(cmd)
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "Only open files with these extensions")
	return cmd
}

func newDevelopCmd(g *globalFlags) *cobra.Command {
	var chain chainFlags
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "develop <input>",
		Short: "Develop one file through the pipeline and export it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, shutdown(a))
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			if err := chain.build(ctx, a); err != nil {
				return err
			}
			e, err := a.Develop(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d)\n", e.Path, e.Width, e.Height)
			return nil
		},
	}
	chain.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long (0 waits forever)")
	return cmd
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var format string
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			return config.Encode(cmd.OutOrStdout(), config.Format(format), cfg)
		},
	}
	printCmd.Flags().StringVarP(&format, "format", "f", string(config.FormatTOML), "Output format (toml, yaml, json)")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List the environment variables that override the configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.EnvNames(config.EnvPrefix), "\n"))
		},
	}

	cmd.AddCommand(printCmd, envCmd)
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the available stage kinds",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range stage.Kinds() {
				role := "filter"
				switch {
				case stage.IsSource(k):
					role = "source"
				case stage.IsSink(k):
					role = "sink"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", k, role)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "negstation %s\nCommit: %s\nBuilt: %s\n", version, commit, date)
		},
	}
}

// shutdown stops a within shutdownTimeout.
func shutdown(a *app.Application) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}
