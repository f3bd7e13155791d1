package sqlite

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/wippyai/trace-engine/backend"
	"github.com/wippyai/trace-engine/errors"
)

var (
	includeRe = regexp.MustCompile(`(?is)^INCLUDE\s+PERFETTO\s+MODULE\s+([A-Za-z0-9_.*]+)$`)
	createRe  = regexp.MustCompile(`(?is)^CREATE\s+PERFETTO\s+(TABLE|VIEW)\b`)
)

// runScript executes every statement of script and streams the rows of the
// last one to w.
func (p *Processor) runScript(ctx context.Context, script string, w backend.RowWriter, rows *int) (backend.QueryStats, error) {
	var stats backend.QueryStats
	stmts := splitStatements(script)
	if len(stmts) == 0 {
		w.SetColumns(nil)
		return stats, nil
	}

	for i, stmt := range stmts {
		last := i == len(stmts)-1
		stats.StatementCount++
		stats.LastStatementSQL = stmt

		if m := includeRe.FindStringSubmatch(stmt); m != nil {
			if err := p.include(ctx, m[1]); err != nil {
				return stats, err
			}
			if last {
				w.SetColumns(nil)
			}
			continue
		}

		var sink backend.RowWriter = discard{}
		if last {
			sink = w
		}
		start := time.Now()
		n, cols, err := p.exec(ctx, rewrite(stmt), sink)
		if p.meta != nil {
			p.meta.statement(stmt, start, time.Since(start), n, err)
		}
		if err != nil {
			return stats, err
		}
		if cols > 0 {
			stats.StatementWithOutputCount++
		}
		if last {
			*rows = n
		}
	}
	return stats, nil
}

// rewrite maps CREATE PERFETTO TABLE and VIEW onto plain SQLite.
func rewrite(stmt string) string {
	m := createRe.FindStringSubmatchIndex(stmt)
	if m == nil {
		return stmt
	}
	return "CREATE " + strings.ToUpper(stmt[m[2]:m[3]]) + stmt[m[1]:]
}

// exec runs one statement and writes its rows to w. It returns the row and
// column counts.
func (p *Processor) exec(ctx context.Context, stmt string, w backend.RowWriter) (int, int, error) {
	rs, err := p.db.QueryContext(ctx, stmt)
	if err != nil {
		return 0, 0, err
	}
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return 0, 0, err
	}
	w.SetColumns(cols)

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rs.Next() {
		if err := rs.Scan(ptrs...); err != nil {
			return n, len(cols), err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		if err := w.WriteRow(values); err != nil {
			return n, len(cols), err
		}
		n++
	}
	return n, len(cols), rs.Err()
}

// normalize maps driver values onto the cell types of the wire format.
func normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case sql.RawBytes:
		return []byte(x)
	}
	return v
}

// include runs a registered module, or every module of a package for a
// name ending in ".*". Modules run once until the tables are restored.
func (p *Processor) include(ctx context.Context, name string) error {
	var names []string
	if pkg, ok := strings.CutSuffix(name, ".*"); ok {
		for mod := range p.modules {
			if strings.HasPrefix(mod, pkg+".") {
				names = append(names, mod)
			}
		}
		if len(names) == 0 {
			return errors.NotFound(errors.PhaseBackend, "package", pkg)
		}
	} else {
		names = []string{name}
	}

	for _, mod := range names {
		if p.included[mod] {
			continue
		}
		script, ok := p.modules[mod]
		if !ok {
			return errors.NotFound(errors.PhaseBackend, "module", mod)
		}
		// Marked first so modules including each other terminate.
		p.included[mod] = true
		var rows int
		if _, err := p.runScript(ctx, script, discard{}, &rows); err != nil {
			delete(p.included, mod)
			return errors.Wrap(errors.PhaseBackend, errors.KindInvalidData, err, "module "+mod)
		}
	}
	return nil
}

// discard drops the rows of intermediate statements.
type discard struct{}

func (discard) SetColumns([]string)  {}
func (discard) WriteRow([]any) error { return nil }
