package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

func statusStyle(s health.Status) lipgloss.Style {
	switch s {
	case health.StatusHealthy:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case health.StatusDegraded:
		return lipgloss.NewStyle().Foreground(colorYellow)
	case health.StatusDown:
		return lipgloss.NewStyle().Foreground(colorRed)
	}
	return lipgloss.NewStyle().Foreground(colorDim)
}

func (c *CLI) sourceWatchCommand() *cobra.Command {
	var kindFlag string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Probe mirrors periodically and show a live ranking",
		Long: `Probe mirrors periodically and show them in selection order. Press r to
probe now and q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := kindArg(kindFlag)
			if err != nil {
				return err
			}
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m := NewSourceWatchModel(ctx, kind, a.prober, a.selector, interval)
			_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "only watch sources of this kind")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 5*time.Second, "time between probe rounds")
	return cmd
}

// =============================================================================
// SourceWatchModel - Live mirror health table
// =============================================================================

type (
	probedMsg struct {
		at  time.Time
		err error
	}
	tickMsg time.Time
)

// SourceWatchModel is the bubbletea model behind "deps source watch".
type SourceWatchModel struct {
	ctx      context.Context
	kind     source.Kind
	prober   *health.Prober
	selector *selector.Selector
	interval time.Duration

	Rounds   int
	Probing  bool
	LastErr  error
	LastDone time.Time
	now      func() time.Time
}

// NewSourceWatchModel creates a watch model for kind ("" for all kinds).
func NewSourceWatchModel(ctx context.Context, kind source.Kind, p *health.Prober, s *selector.Selector, interval time.Duration) SourceWatchModel {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return SourceWatchModel{
		ctx:      ctx,
		kind:     kind,
		prober:   p,
		selector: s,
		interval: interval,
		now:      time.Now,
	}
}

func (m SourceWatchModel) probe() tea.Cmd {
	return func() tea.Msg {
		_, err := m.prober.ProbeAll(m.ctx, m.kind)
		return probedMsg{at: m.now(), err: err}
	}
}

func (m SourceWatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m SourceWatchModel) Init() tea.Cmd {
	return m.probe()
}

func (m SourceWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if !m.Probing {
				m.Probing = true
				return m, m.probe()
			}
		}
	case probedMsg:
		m.Probing = false
		m.Rounds++
		m.LastErr = msg.err
		m.LastDone = msg.at
		return m, m.tick()
	case tickMsg:
		if m.Probing {
			return m, nil
		}
		m.Probing = true
		return m, m.probe()
	}
	return m, nil
}

func (m SourceWatchModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Mirror Health"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("every %s  r probe now  q quit", m.interval)))
	b.WriteString("\n\n")

	now := m.now()
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	for _, k := range kinds(m.kind) {
		cands := m.selector.Candidates(k)
		if len(cands) == 0 {
			continue
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
			Headers("#", "Kind", "Source", "Priority", "Status", "Latency", "Probed").
			Rows(candidateRows(cands, m.prober.Health(), now)...).
			StyleFunc(func(row, col int) lipgloss.Style {
				switch {
				case row == -1:
					return headerStyle
				case row == 0 && cands[0].Status != health.StatusDown:
					return listSelectedStyle
				case col >= 5:
					return listDimStyle
				}
				return lipgloss.NewStyle()
			})
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	switch {
	case m.LastErr != nil:
		b.WriteString(StyleWarning.Render("probe failed: " + m.LastErr.Error()))
	case m.Probing:
		b.WriteString(listDimStyle.Render("probing..."))
	case m.Rounds > 0:
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  round %d done %s", m.Rounds, formatRelativeTime(m.LastDone, now))))
	}
	b.WriteString("\n")
	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

func formatRelativeTime(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
