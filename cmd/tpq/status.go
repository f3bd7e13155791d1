package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var trace string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the backend version and loaded trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer closeSession(s)

			if trace != "" {
				if err := s.loadTrace(ctx, trace); err != nil {
					return err
				}
			}
			st, err := s.eng.Status(ctx)
			if err != nil {
				return err
			}

			id := s.eng.Identity()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "engine:      %s (%s)\n", id.ID, id.Mode)
			fmt.Fprintf(w, "version:     %s\n", st.HumanReadableVersion)
			fmt.Fprintf(w, "api version: %d\n", st.APIVersion)
			fmt.Fprintf(w, "trace:       %s\n", st.LoadedTraceName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&trace, "trace", "t", "", "trace file to load first")
	return cmd
}

func newMetricCommand(opts *rootOptions) *cobra.Command {
	var (
		trace  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "metric <name>[,<name>...]",
		Short: "Compute trace metrics",
		Long: `Compute one or more metrics over a trace.

Example:
  tpq metric --trace trace.json trace_bounds,trace_stats`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mf, err := metricFormat(format)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			s, err := openSession(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer closeSession(s)

			if trace != "" {
				if err := s.loadTrace(ctx, trace); err != nil {
					return err
				}
			}
			out, err := s.eng.ComputeMetric(ctx, strings.Split(args[0], ","), mf)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&trace, "trace", "t", "", "trace file to load first")
	cmd.Flags().StringVar(&format, "format", "text", "metric format (text|json|binary)")
	return cmd
}

func metricFormat(name string) (wire.MetricFormat, error) {
	for _, f := range []wire.MetricFormat{wire.MetricFormatText, wire.MetricFormatJSON, wire.MetricFormatBinary} {
		if f.String() == name {
			return f, nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, "unknown metric format "+name)
}

func closeSession(s *session) {
	if err := s.Close(context.Background()); err != nil {
		s.log.Warn("close engine", zap.Error(err))
	}
}
