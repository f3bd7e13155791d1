package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/query"
	"github.com/wippyai/trace-engine/wire"
)

// Output formats.
const (
	formatAuto  = "auto"
	formatTable = "table"
	formatTSV   = "tsv"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

var tsvEscaper = strings.NewReplacer("\t", `\t`, "\n", `\n`, "\r", `\r`)

// resolveFormat picks table output for terminals and TSV otherwise.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch format {
	case formatTable, formatTSV:
		return format, nil
	case formatAuto, "":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return formatTable, nil
		}
		return formatTSV, nil
	}
	return "", errors.InvalidInput(errors.PhaseConfig, "unknown output format "+format)
}

// formatValue renders one cell for display.
func formatValue(v query.Value) string {
	switch v.Type {
	case wire.CellVarint:
		return strconv.FormatInt(v.Long, 10)
	case wire.CellFloat64:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case wire.CellString:
		return v.Str
	case wire.CellBlob:
		return fmt.Sprintf("<%d bytes>", len(v.Blob))
	}
	return "NULL"
}

// resultRows renders at most limit rows of res as strings. A limit of 0
// renders every row.
func resultRows(res *query.Result, limit int) ([]string, [][]string, error) {
	columns := res.Columns()
	it, err := res.Iter(nil)
	if err != nil {
		return nil, nil, err
	}
	var rows [][]string
	for ; it.Valid(); it.Next() {
		if limit > 0 && len(rows) == limit {
			break
		}
		row := make([]string, len(columns))
		for i, name := range columns {
			row[i] = formatValue(it.Get(name))
		}
		rows = append(rows, row)
	}
	return columns, rows, it.Err()
}

func renderTable(columns []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(columns...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func writeTSV(w io.Writer, columns []string, rows [][]string) error {
	line := make([]string, len(columns))
	for i, c := range columns {
		line[i] = tsvEscaper.Replace(c)
	}
	if _, err := fmt.Fprintln(w, strings.Join(line, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		for i, c := range row {
			line[i] = tsvEscaper.Replace(c)
		}
		if _, err := fmt.Fprintln(w, strings.Join(line, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// writeResult prints res in the given format. Queries without output
// columns print nothing.
func writeResult(w io.Writer, res *query.Result, format string) error {
	columns, rows, err := resultRows(res, 0)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}
	if format == formatTable {
		_, err = fmt.Fprintln(w, renderTable(columns, rows))
		return err
	}
	return writeTSV(w, columns, rows)
}
