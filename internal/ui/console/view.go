package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/parley/internal/engine"
	"github.com/zjrosen/parley/internal/experiment"
)

const minBodyWidth = 20

// View implements tea.Model.
func (m Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return ""
	}

	if m.overlayVisible {
		return m.overlayView()
	}

	var sections []string
	sections = append(sections, m.headerView())

	if m.snapshot == nil || m.snapshot.Run == nil {
		sections = append(sections, "", headerInfoStyle.Render("  No experiment selected."))
	} else {
		sections = append(sections, m.sessionsView())
	}

	if w := m.warningView(); w != "" {
		sections = append(sections, w)
	}
	if m.footerMsg != "" {
		style := footerStyle
		if m.footerIsErr {
			style = errorStyle
		}
		sections = append(sections, style.Render(m.footerMsg))
	}

	sections = append(sections, m.help.View(m.keys))
	if m.showStatusBar {
		sections = append(sections, m.statusBarView())
	}

	return strings.Join(sections, "\n")
}

// headerView renders the experiment title line and the run summary line.
func (m Model) headerView() string {
	title := titleStyle.Render("parley")
	if m.snapshot == nil || m.snapshot.Run == nil {
		return title
	}

	snap := m.snapshot
	run := snap.Run

	parts := []string{
		titleStyle.Render(snap.ExperimentID),
		runStatusStyle(run.Status).Render(strings.ToUpper(run.Status.String())),
	}
	if snap.FromCache {
		parts = append(parts, cachedBadgeStyle.Render("(cached)"))
	}

	summary := fmt.Sprintf("%d sessions · %d done · %d failed · %d active",
		run.TotalSessions, run.CompletedSessions, run.FailedSessions, run.ActiveSessions)
	if run.ErrorRate > 0 {
		summary += fmt.Sprintf(" · %.0f%% errors", run.ErrorRate*100)
	}

	headline := title + "  " + strings.Join(parts, " ")
	if m.spinnerActive() {
		headline = m.spin.View() + " " + headline
	}
	return headline + "\n" +
		headerInfoStyle.Render(summary) + "  " + progressBar(run.Progress, 20)
}

// progressBar renders a 0-100 progress estimate as a fixed-width bar.
func progressBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return headerInfoStyle.Render(fmt.Sprintf("%s %3.0f%%", bar, pct))
}

// sessionsView renders the sessions table with the cursor row highlighted.
func (m Model) sessionsView() string {
	width := m.width
	if width < minBodyWidth {
		width = minBodyWidth
	}

	const (
		idWidth       = 14
		statusWidth   = 10
		msgsWidth     = 6
		analysesWidth = 9
		activityWidth = 12
	)
	nameWidth := width - idWidth - statusWidth - msgsWidth - analysesWidth - activityWidth - 10
	if nameWidth < 8 {
		nameWidth = 8
	}

	header := fmt.Sprintf("  %s %s %s %s %s %s",
		cell("ID", idWidth),
		cell("NAME", nameWidth),
		cell("STATUS", statusWidth),
		cell("MSGS", msgsWidth),
		cell("ANALYSES", analysesWidth),
		cell("ACTIVITY", activityWidth),
	)

	lines := []string{"", tableHeaderStyle.Render(header)}

	if len(m.snapshot.Sessions) == 0 {
		lines = append(lines, headerInfoStyle.Render("  No sessions yet."))
		return strings.Join(lines, "\n")
	}

	for i, s := range m.snapshot.Sessions {
		row := fmt.Sprintf("%s %s %s %s %s %s",
			cell(s.ID, idWidth),
			cell(s.Name, nameWidth),
			sessionStatusStyle(s.Status).Render(cell(string(s.Status), statusWidth)),
			cell(fmt.Sprintf("%d", s.MessageCount), msgsWidth),
			cell(fmt.Sprintf("%d", s.AnalysisCount), analysesWidth),
			cell(relTime(s.LastActivityAt), activityWidth),
		)
		if i == m.cursor {
			lines = append(lines, selectedRowStyle.Render("> ")+row)
		} else {
			lines = append(lines, "  "+row)
		}
	}

	return strings.Join(lines, "\n")
}

// warningView renders the stale-view warning, wrapped to the terminal width.
func (m Model) warningView() string {
	if m.snapshot == nil || m.snapshot.Warning == "" {
		return ""
	}
	wrapped := wordwrap.String("⚠ "+m.snapshot.Warning, max(m.width-2, minBodyWidth))
	return warningStyle.Render(wrapped)
}

// statusBarView renders the bottom status bar.
func (m Model) statusBarView() string {
	if m.snapshot == nil || m.snapshot.Run == nil {
		return statusBarStyle.Render("no experiment")
	}
	run := m.snapshot.Run
	bar := fmt.Sprintf("%s · run %s · %d sessions · %d msgs",
		m.snapshot.ExperimentID, run.ID,
		m.snapshot.Stats.TotalSessions, m.snapshot.Stats.TotalMessages)
	return statusBarStyle.Render(truncate(bar, max(m.width-2, minBodyWidth)))
}

// cell pads or truncates a value to the column width.
func cell(s string, width int) string {
	return runewidth.FillRight(truncate(s, width), width)
}

func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// relTime formats a timestamp as a compact age ("3m", "2h", "5d").
func relTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	d := time.Since(*t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func selectedSession(snap *engine.Snapshot, cursor int) *experiment.SessionSummary {
	if snap == nil || cursor < 0 || cursor >= len(snap.Sessions) {
		return nil
	}
	return snap.Sessions[cursor]
}

// overlayView renders the analysis overlay centered on the screen.
func (m Model) overlayView() string {
	boxWidth := min(m.width-4, 100)
	if boxWidth < minBodyWidth {
		boxWidth = minBodyWidth
	}

	content := overlayTitleStyle.Render(m.overlayTitle) + "\n\n" + m.overlayBody
	box := overlayStyle.Width(boxWidth).Render(content)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
