package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/parley/internal/experiment"
)

var (
	// Text hierarchy
	textPrimaryColor   = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#CCCCCC"}
	textSecondaryColor = lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#BBBBBB"}
	textMutedColor     = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	// Run and session status
	statusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	statusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	statusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	statusActiveColor  = lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"}
	statusIdleColor    = lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#BBBBBB"}

	overlayBorderColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#8C8C8C"}
	spinnerColor       = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#FFF"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textPrimaryColor)

	headerInfoStyle = lipgloss.NewStyle().
			Foreground(textSecondaryColor)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(textMutedColor)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"})

	warningStyle = lipgloss.NewStyle().
			Foreground(statusWarningColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(statusErrorColor).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(textMutedColor)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(textSecondaryColor).
			Padding(0, 1)

	cachedBadgeStyle = lipgloss.NewStyle().
				Foreground(textMutedColor).
				Italic(true)

	overlayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(overlayBorderColor).
			Padding(0, 1)

	overlayTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#C9C9C9"})
)

// runStatusStyle maps a run status to its display style.
func runStatusStyle(status experiment.RunStatus) lipgloss.Style {
	switch status {
	case experiment.RunRunning:
		return lipgloss.NewStyle().Foreground(statusActiveColor).Bold(true)
	case experiment.RunCompleted:
		return lipgloss.NewStyle().Foreground(statusSuccessColor).Bold(true)
	case experiment.RunFailed:
		return lipgloss.NewStyle().Foreground(statusErrorColor).Bold(true)
	case experiment.RunPaused, experiment.RunStopped:
		return lipgloss.NewStyle().Foreground(statusWarningColor)
	default:
		return lipgloss.NewStyle().Foreground(statusIdleColor)
	}
}

// sessionStatusStyle maps a session status to its display style.
func sessionStatusStyle(status experiment.SessionStatus) lipgloss.Style {
	switch status {
	case experiment.SessionRunning:
		return lipgloss.NewStyle().Foreground(statusActiveColor)
	case experiment.SessionCompleted:
		return lipgloss.NewStyle().Foreground(statusSuccessColor)
	case experiment.SessionFailed:
		return lipgloss.NewStyle().Foreground(statusErrorColor)
	default:
		return lipgloss.NewStyle().Foreground(statusIdleColor)
	}
}
