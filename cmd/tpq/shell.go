package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	traceengine "github.com/wippyai/trace-engine"
	"github.com/wippyai/trace-engine/limiter"
)

// shellRows caps the rows rendered for one result.
const shellRows = 200

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sqlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newShellCommand(opts *rootOptions) *cobra.Command {
	var trace string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive SQL shell",
		Long: `Open an interactive SQL shell on a trace.

Enter runs the query. Up and down walk the history. A query submitted while
another one runs replaces any query still waiting. ".status" prints the
backend status and ".quit" leaves.`,
		Args: cobra.NoArgs,
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

			id := s.eng.Identity()
			title := fmt.Sprintf("%s %s", id.Mode, id.ID[:min(8, len(id.ID))])
			m := newShellModel(s.eng.Proxy("shell"), title)
			defer m.lim.Close()

			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&trace, "trace", "t", "", "trace file to load first")
	return cmd
}

type shellModel struct {
	q       traceengine.Querier
	lim     *limiter.Limiter
	err     error
	title   string
	last    string
	output  string
	stats   string
	history []string
	input   textinput.Model
	histPos int
	running int
}

// resultMsg carries a finished query back to the model.
type resultMsg struct {
	err    error
	sql    string
	output string
	stats  string
}

func newShellModel(q traceengine.Querier, title string) *shellModel {
	ti := textinput.New()
	ti.Placeholder = "SELECT * FROM slice LIMIT 10"
	ti.Prompt = "> "
	ti.Width = 80
	ti.Focus()

	return &shellModel{
		q:     q,
		lim:   limiter.New(),
		title: title,
		input: ti,
	}
}

func (m *shellModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			sql := strings.TrimSpace(m.input.Value())
			if sql == "" {
				return m, nil
			}
			m.remember(sql)
			m.input.Reset()
			switch sql {
			case ".quit", ".exit":
				return m, tea.Quit
			case ".status":
				m.running++
				return m, m.status()
			}
			m.running++
			return m, m.run(sql)

		case "up":
			if m.histPos > 0 {
				m.histPos--
				m.input.SetValue(m.history[m.histPos])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histPos < len(m.history)-1 {
				m.histPos++
				m.input.SetValue(m.history[m.histPos])
				m.input.CursorEnd()
			} else {
				m.histPos = len(m.history)
				m.input.Reset()
			}
			return m, nil

		case "esc":
			m.input.Reset()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.input.Width = max(20, msg.Width-4)

	case resultMsg:
		m.running--
		m.last = msg.sql
		m.output = msg.output
		m.stats = msg.stats
		m.err = msg.err
		return m, nil

	case supersededMsg:
		m.running--
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *shellModel) remember(sql string) {
	if n := len(m.history); n == 0 || m.history[n-1] != sql {
		m.history = append(m.history, sql)
	}
	m.histPos = len(m.history)
}

// supersededMsg reports a query that was replaced before it ran.
type supersededMsg struct{}

// run schedules sql on the limiter so only the newest waiting query runs.
func (m *shellModel) run(sql string) tea.Cmd {
	return func() tea.Msg {
		var out *resultMsg
		err := <-m.lim.Schedule(func(ctx context.Context) error {
			out = m.execute(ctx, sql)
			return out.err
		})
		if out == nil {
			if err != nil {
				return resultMsg{sql: sql, err: err}
			}
			return supersededMsg{}
		}
		return *out
	}
}

func (m *shellModel) execute(ctx context.Context, sql string) *resultMsg {
	start := time.Now()
	res, err := m.q.Query(ctx, sql, "")
	if err != nil {
		return &resultMsg{sql: sql, err: err}
	}
	elapsed := time.Since(start)

	columns, rows, err := resultRows(res, shellRows)
	if err != nil {
		return &resultMsg{sql: sql, err: err}
	}

	out := &resultMsg{sql: sql}
	if len(columns) > 0 {
		out.output = renderTable(columns, rows)
	}
	total := res.NumRows()
	out.stats = fmt.Sprintf("%d %s in %s", total, plural(total, "row"), elapsed.Round(time.Microsecond))
	if total > len(rows) {
		out.stats += fmt.Sprintf(", first %d shown", len(rows))
	}
	if st := res.Stats(); st.StatementCount > 1 {
		out.stats += fmt.Sprintf(", %d statements", st.StatementCount)
	}
	return out
}

func (m *shellModel) status() tea.Cmd {
	return func() tea.Msg {
		var out *resultMsg
		err := <-m.lim.Schedule(func(ctx context.Context) error {
			out = &resultMsg{sql: ".status"}
			st, err := m.q.Status(ctx)
			if err != nil {
				out.err = err
				return err
			}
			out.output = fmt.Sprintf("version:     %s\napi version: %d\ntrace:       %s",
				st.HumanReadableVersion, st.APIVersion, st.LoadedTraceName)
			return nil
		})
		if out == nil {
			if err != nil {
				return resultMsg{sql: ".status", err: err}
			}
			return supersededMsg{}
		}
		return *out
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func (m *shellModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("tpq"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	if m.last != "" {
		b.WriteString(sqlStyle.Render(m.last))
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			if m.output != "" {
				b.WriteString(m.output)
				b.WriteString("\n")
			}
			b.WriteString(statsStyle.Render(m.stats))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	help := "enter run • ↑/↓ history • esc clear • ctrl+c quit"
	if m.running > 0 {
		help = "running… • " + help
	}
	b.WriteString(helpStyle.Render(help))

	return b.String()
}
