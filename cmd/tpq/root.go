package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/backend"
	"github.com/wippyai/trace-engine/bridge"
	"github.com/wippyai/trace-engine/config"
	"github.com/wippyai/trace-engine/engine"
	"github.com/wippyai/trace-engine/remote"
)

// rootOptions holds the global flags and what PersistentPreRunE builds from
// them.
type rootOptions struct {
	configPath string
	mode       string
	wasm       string
	remoteURL  string
	logLevel   string

	cfg *config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tpq",
		Short: "Query traces with an analytical trace engine",
		Long: `tpq loads traces into a trace engine and runs SQL against them.

The engine runs in one of three modes: an in-process SQLite processor
(sqlite), an engine compiled to WebAssembly (wasm), or a backend served by
"tpq serve" and reached over a websocket (remote).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&opts.mode, "mode", "", "engine mode (sqlite|wasm|remote)")
	pf.StringVar(&opts.wasm, "wasm", "", "engine module in wasm mode")
	pf.StringVar(&opts.remoteURL, "remote", "", "backend websocket URL in remote mode")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newShellCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newMetricCommand(opts))

	return cmd
}

// setup loads the config file, applies flag overrides and installs the
// logger in every package that keeps one.
func (o *rootOptions) setup() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.mode != "" {
		cfg.Engine.Mode = o.mode
	}
	if o.wasm != "" {
		cfg.Engine.Wasm = o.wasm
	}
	if o.remoteURL != "" {
		cfg.Engine.RemoteURL = o.remoteURL
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	engine.SetLogger(log)
	backend.SetLogger(log)
	bridge.SetLogger(log)
	remote.SetLogger(log)

	o.cfg = cfg
	o.log = log
	return nil
}
