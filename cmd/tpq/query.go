package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// queryOptions holds flags for the query command.
type queryOptions struct {
	*rootOptions
	trace     string
	file      string
	format    string
	metatrace string
	tag       string
}

func newQueryCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &queryOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run SQL against a trace",
		Long: `Run SQL against a trace and print the rows of the last statement.

The SQL comes from the argument or from --file. Output is a table on a
terminal and tab separated values otherwise.

Example:
  tpq query --trace trace.json "SELECT name, dur FROM slice ORDER BY dur DESC LIMIT 10"
  tpq query --trace trace.json --file report.sql --format tsv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.trace, "trace", "t", "", "trace file to load first")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read SQL from a file")
	cmd.Flags().StringVar(&opts.format, "format", formatAuto, "output format (auto|table|tsv)")
	cmd.Flags().StringVar(&opts.metatrace, "metatrace", "", "write a metatrace of the query to this file")
	cmd.Flags().StringVar(&opts.tag, "tag", "cli", "tag attached to the query in errors and logs")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *queryOptions, args []string) error {
	sql, err := querySQL(opts.file, args)
	if err != nil {
		return err
	}
	format, err := resolveFormat(opts.format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer closeSession(s)

	if opts.trace != "" {
		if err := s.loadTrace(ctx, opts.trace); err != nil {
			return err
		}
	}

	if opts.metatrace != "" {
		if err := s.eng.EnableMetatrace(ctx, wire.MetatraceQueryToplevel|wire.MetatraceQueryDetailed); err != nil {
			return err
		}
	}

	res, err := s.eng.Query(ctx, sql, opts.tag)
	if err != nil {
		return err
	}

	if opts.metatrace != "" {
		data, err := s.eng.StopAndGetMetatrace(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.metatrace, data, 0o644); err != nil {
			return errors.Load("write "+opts.metatrace, err)
		}
	}

	return writeResult(cmd.OutOrStdout(), res, format)
}

func querySQL(file string, args []string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", errors.InvalidInput(errors.PhaseConfig, "pass SQL either as an argument or with --file")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Load("read "+file, err)
		}
		return string(data), nil
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return args[0], nil
	}
	return "", errors.InvalidInput(errors.PhaseConfig, "no SQL given")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
