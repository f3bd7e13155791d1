package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/backend"
	"github.com/wippyai/trace-engine/backend/sqlite"
	"github.com/wippyai/trace-engine/errors"
)

const shutdownTimeout = 10 * time.Second

// serveOptions holds flags for the serve command.
type serveOptions struct {
	*rootOptions
	listen string
	trace  string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a SQLite backend over a websocket",
		Long: `Serve the RPC protocol over a websocket, backed by a SQLite processor.

Every connection gets its own request sequence; all connections share the
processor and therefore the loaded trace.

Example:
  tpq serve --listen 127.0.0.1:9001 --trace trace.json
  tpq --mode remote --remote ws://127.0.0.1:9001/rpc query "SELECT COUNT(*) FROM slice"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", opts.address())
			if err != nil {
				return errors.Transport("listen on "+opts.address(), err)
			}
			return serve(ctx, opts, ln)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "address to listen on (default from config)")
	cmd.Flags().StringVarP(&opts.trace, "trace", "t", "", "trace file to load before serving")

	return cmd
}

func (o *serveOptions) address() string {
	if o.listen != "" {
		return o.listen
	}
	return o.cfg.Server.Listen
}

// serve runs the websocket server on ln until ctx is done.
func serve(ctx context.Context, opts *serveOptions, ln net.Listener) error {
	cfg, log := opts.cfg, opts.log

	proc, err := sqlite.Open(ctx, sqlite.Options{Logger: log, Path: cfg.Backend.Database})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer proc.Close()

	if opts.trace != "" {
		if err := preload(ctx, proc, opts.trace); err != nil {
			_ = ln.Close()
			return err
		}
		log.Info("trace loaded", zap.String("path", opts.trace))
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, backend.NewHandler(proc, backend.Options{
		Logger:         log,
		BatchCells:     cfg.Backend.BatchCells,
		MaxMessageSize: cfg.Engine.MaxMessageSize,
		OriginPatterns: cfg.Server.OriginPatterns,
	}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(log),
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	log.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("path", cfg.Server.Path))

	select {
	case err := <-errc:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Transport("serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Transport("shutdown", err)
	}
	return nil
}

// preload reads a trace straight into the processor.
func preload(ctx context.Context, proc *sqlite.Processor, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Load("read "+path, err)
	}
	if _, err := proc.AppendTraceData(ctx, data); err != nil {
		return err
	}
	return proc.FinalizeTraceData(ctx)
}
