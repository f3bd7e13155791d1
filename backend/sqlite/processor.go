package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/backend"
	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

//go:embed schema.sql
var schemaSQL string

// APIVersion is reported by Status.
const APIVersion = 1

// Options configures a Processor.
type Options struct {
	// Logger defaults to the backend package logger.
	Logger *zap.Logger

	// Path of the database. Empty keeps it in memory.
	Path string

	// TraceName is reported by Status once a trace is loaded.
	TraceName string
}

// Processor is a backend.Processor storing Chrome JSON traces in SQLite.
//
// Not safe for concurrent use; backend servers serialize calls.
type Processor struct {
	db   *sql.DB
	log  *zap.Logger
	opts Options

	trace     []byte
	finalized bool
	loaded    string
	counts    ingestCounts

	// initial holds the schema objects that restores keep.
	initial  map[string]string
	packages map[string]wire.RegisterSQLPackageArgs
	modules  map[string]string
	included map[string]bool
	meta     *metatrace
}

var _ backend.Processor = (*Processor)(nil)

// Open creates a processor with an empty database.
func Open(ctx context.Context, opts Options) (*Processor, error) {
	if opts.Logger == nil {
		opts.Logger = backend.Logger()
	}
	if opts.TraceName == "" {
		opts.TraceName = "trace.json"
	}
	p := &Processor{log: opts.Logger, opts: opts}
	if err := p.open(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Processor) open(ctx context.Context) error {
	path := p.opts.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return errors.Wrap(errors.PhaseBackend, errors.KindInvalidInput, err, "open database")
	}

	// An in-memory database lives as long as its only connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return errors.Wrap(errors.PhaseBackend, errors.KindInvalidData, err, "apply schema")
	}

	p.db = db
	p.trace = nil
	p.finalized = false
	p.loaded = ""
	p.counts = ingestCounts{}
	p.packages = make(map[string]wire.RegisterSQLPackageArgs)
	p.modules = make(map[string]string)
	p.included = make(map[string]bool)
	p.meta = nil
	p.initial, err = p.schemaObjects(ctx)
	return err
}

// Close releases the database.
func (p *Processor) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// DB exposes the underlying database.
func (p *Processor) DB() *sql.DB {
	return p.db
}

func (p *Processor) AppendTraceData(_ context.Context, data []byte) (int64, error) {
	if p.finalized {
		return int64(len(p.trace)), errors.InvalidInput(errors.PhaseBackend, "trace already finalized")
	}
	p.trace = append(p.trace, data...)
	return int64(len(p.trace)), nil
}

func (p *Processor) FinalizeTraceData(ctx context.Context) error {
	if p.finalized {
		return errors.InvalidInput(errors.PhaseBackend, "trace already finalized")
	}
	p.finalized = true
	if len(strings.TrimSpace(string(p.trace))) == 0 {
		return nil
	}

	start := time.Now()
	tb, err := parseChromeJSON(p.trace)
	if err != nil {
		return err
	}
	if err := tb.store(ctx, p.db); err != nil {
		return err
	}
	p.counts = tb.counts()
	p.loaded = p.opts.TraceName
	p.trace = nil

	p.log.Info("trace loaded",
		zap.String("name", p.loaded),
		zap.Int("slices", p.counts.slices),
		zap.Int("counters", p.counts.counters),
		zap.Int("skipped", p.counts.skipped),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Processor) Query(ctx context.Context, script string, w backend.RowWriter) (backend.QueryStats, error) {
	start := time.Now()
	var rows int
	stats, err := p.runScript(ctx, script, w, &rows)
	if p.meta != nil {
		p.meta.query(script, start, time.Since(start), rows, err)
	}
	return stats, err
}

func (p *Processor) RestoreInitialTables(ctx context.Context) error {
	objects, err := p.schemaObjects(ctx)
	if err != nil {
		return err
	}

	// Views may depend on tables, so they go first.
	var errs error
	for _, kind := range []string{"view", "table"} {
		for name, k := range objects {
			if k != kind || p.initial[name] != "" {
				continue
			}
			stmt := "DROP " + strings.ToUpper(kind) + " IF EXISTS " + quoteIdent(name)
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	p.included = make(map[string]bool)
	return errs
}

func (p *Processor) Reset(ctx context.Context, cfg wire.ResetArgs) error {
	p.log.Debug("reset", zap.Any("config", cfg))
	if err := p.Close(); err != nil {
		p.log.Warn("close database", zap.Error(err))
	}
	if p.opts.Path != "" {
		if err := os.Remove(p.opts.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(errors.PhaseBackend, errors.KindInvalidInput, err, "remove database")
		}
	}
	return p.open(ctx)
}

func (p *Processor) Status(ctx context.Context) (wire.StatusResult, error) {
	var version string
	if err := p.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return wire.StatusResult{}, err
	}
	return wire.StatusResult{
		LoadedTraceName:      p.loaded,
		HumanReadableVersion: "trace-engine sqlite " + version,
		APIVersion:           APIVersion,
	}, nil
}

// schemaObjects maps the name of every table and view to its kind.
func (p *Processor) schemaObjects(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, err
		}
		out[name] = kind
	}
	return out, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
