// Package serve implements "ralph serve", the in-host loop driver.
package serve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/hostloop"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/opencode"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	IOStreams  *iostreams.IOStreams
	Config     func() (*config.Config, error)
	StateStore func() (state.Store, error)
	History    func() (*state.HistoryStore, error)

	URL       string
	Listen    string
	NoControl bool
}

// NewCmdServe creates the serve command.
func NewCmdServe(f *cmdutil.Factory, runF func(context.Context, *ServeOptions) error) *cobra.Command {
	opts := &ServeOptions{
		IOStreams:  f.IOStreams,
		Config:     f.Config,
		StateStore: f.StateStore,
		History:    f.History,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Drive ralph loops inside a running OpenCode server",
		Long: `Connects to an OpenCode server's event stream and continues the active loop
every time its session goes idle, until the completion promise appears.

Loops are started, inspected and cancelled through the ralph_start,
ralph_status and ralph_cancel operations, exposed on a local control
endpoint.`,
		Example: `  # Attach to the default local server
  ralph serve

  # Attach to a server on another port, control endpoint on 9000
  ralph serve --url http://127.0.0.1:4200 --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("url") {
				opts.URL = cfg.Host.URL
			}
			if !cmd.Flags().Changed("listen") {
				opts.Listen = cfg.Host.Listen
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return serveRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", config.DefaultHostURL, "OpenCode server URL")
	cmd.Flags().StringVar(&opts.Listen, "listen", config.DefaultListenAddr, "Control endpoint address")
	cmd.Flags().BoolVar(&opts.NoControl, "no-control", false, "Do not expose the control endpoint")

	return cmd
}

func serveRun(ctx context.Context, opts *ServeOptions) error {
	ios := opts.IOStreams
	cs := ios.ColorScheme()

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	store, err := opts.StateStore()
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	host, err := opencode.New(opencode.Config{BaseURL: opts.URL})
	if err != nil {
		return cmdutil.FlagErrorWrap(err)
	}

	pluginOpts := []hostloop.Option{hostloop.WithDefaults(hostloop.Defaults{
		MaxIterations:     cfg.Loop.MaxIterations,
		CompletionPromise: cfg.Loop.CompletionPromise,
		Model:             cfg.Agent.Model,
	})}
	if hs, err := opts.History(); err == nil {
		pluginOpts = append(pluginOpts, hostloop.WithHistory(hs))
	}
	hostloop.New(host, store, pluginOpts...).Register()

	if !opts.NoControl {
		srv := opencode.NewServer(host, opts.Listen)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				logger.Warn().Err(err).Msg("control server shutdown failed")
			}
		}()
		fmt.Fprintf(ios.ErrOut, "%s Control endpoint: http://%s\n", cs.SuccessIcon(), srv.Addr())
	}

	fmt.Fprintf(ios.ErrOut, "%s Watching %s (Ctrl+C to stop)\n", cs.Cyan("→"), host.BaseURL())
	logger.Info().Str("url", host.BaseURL()).Msg("serving ralph loops")

	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("ralph serve stopped")
	return nil
}
