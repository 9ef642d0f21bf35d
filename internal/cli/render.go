package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/vk/gridflow/internal/app"
	"github.com/vk/gridflow/internal/pipeline"
)

const maxCellWidth = 60

type styles struct {
	header    lipgloss.Style
	cell      lipgloss.Style
	border    lipgloss.Style
	succeeded lipgloss.Style
	failed    lipgloss.Style
	skipped   lipgloss.Style
}

// newStyles binds the styles to w so colours are dropped when w is not a
// terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:    r.NewStyle().Bold(true).Padding(0, 1),
		cell:      r.NewStyle().Padding(0, 1),
		border:    r.NewStyle().Foreground(lipgloss.Color("240")),
		succeeded: r.NewStyle().Foreground(lipgloss.Color("2")),
		failed:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		skipped:   r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

func (s styles) status(st pipeline.Status) lipgloss.Style {
	switch st {
	case pipeline.StatusSucceeded:
		return s.succeeded
	case pipeline.StatusFailed:
		return s.failed
	case pipeline.StatusSkipped:
		return s.skipped
	}
	return s.cell
}

func (s styles) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
}

// renderPipelines writes the list command's table.
func renderPipelines(w io.Writer, infos []app.PipelineInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No pipelines defined.")
		return
	}
	s := newStyles(w)
	t := s.table("PIPELINE", "STEPS", "TRIGGERS")
	for _, info := range infos {
		triggers := "-"
		if len(info.Triggers) > 0 {
			triggers = strings.Join(info.Triggers, "\n")
		}
		t.Row(info.Name, strings.Join(info.Steps, " → "), triggers)
	}
	fmt.Fprintln(w, t.Render())
}

// renderRuns writes one stored run id per row.
func renderRuns(w io.Writer, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return
	}
	t := newStyles(w).table("RUN")
	for _, id := range ids {
		t.Row(id)
	}
	fmt.Fprintln(w, t.Render())
}

// renderRun writes the per-step table and the final status line.
func renderRun(w io.Writer, rc *pipeline.RunContext) {
	s := newStyles(w)
	steps := rc.Steps()
	statuses := make([]pipeline.Status, len(steps))

	t := s.table("STEP", "STATUS", "DURATION", "DETAIL")
	for i, st := range steps {
		statuses[i] = st.Status
		t.Row(st.Name, string(st.Status), formatDuration(st.Duration()), truncate(stepDetail(st)))
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return s.header
		}
		if col == 1 && row >= 0 && row < len(statuses) {
			return s.status(statuses[row]).Padding(0, 1)
		}
		return s.cell
	})
	fmt.Fprintln(w, t.Render())

	status := rc.Status()
	fmt.Fprintf(w, "Run %s finished: %s (%s)\n",
		rc.RunID(),
		s.status(status).Render(string(status)),
		formatDuration(rc.EndedAt().Sub(rc.StartedAt())),
	)
}

func stepDetail(st pipeline.StepState) string {
	switch st.Status {
	case pipeline.StatusFailed:
		if st.Err != nil {
			return st.Err.Error()
		}
	case pipeline.StatusSkipped:
		return "skipped: " + string(st.SkipReason)
	case pipeline.StatusSucceeded:
		return formatValue(st.Result)
	}
	return ""
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-1]) + "…"
}
