package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"netaccess/internal/monitor"
)

func renderHeader(state monitor.State, username string, width int) string {
	logo := logoStyle.Render("NETACCESS")
	if username != "" {
		logo += userStyle.Render(username)
	}

	var pill string
	switch {
	case state == nil:
		pill = idlePillStyle.Render(" STARTING ")
	case state.Kind() == monitor.KindCheckingStatus:
		pill = checkingPillStyle.Render(" CHECKING ")
	case state.Kind() == monitor.KindApproving:
		pill = approvingPillStyle.Render(" APPROVING ")
	case state.Kind() == monitor.KindSuspended:
		pill = suspendedPillStyle.Render(" SUSPENDED ")
	default:
		pill = errorPillStyle.Render(" ERROR ")
	}

	// Logo left, pill right-aligned.
	gap := width - lipgloss.Width(logo) - lipgloss.Width(pill)
	if gap < 1 {
		gap = 1
	}
	topRow := logo + strings.Repeat(" ", gap) + pill

	sep := lipgloss.NewStyle().
		Foreground(colorBorder).
		Render(strings.Repeat("─", max(width, 0)))

	return lipgloss.JoinVertical(lipgloss.Left, topRow, sep)
}

func renderFooter(helpText string, width int) string {
	sep := lipgloss.NewStyle().
		Foreground(colorBorder).
		Render(strings.Repeat("─", max(width, 0)))
	return lipgloss.JoinVertical(lipgloss.Left, sep, helpBarStyle.Render(helpText))
}

func renderHelpBar(km keyMap, showFull bool) string {
	if showFull {
		return renderFullHelp(km)
	}
	return renderShortHelp(km)
}

func renderShortHelp(km keyMap) string {
	var parts []string
	for _, b := range km.ShortHelp() {
		if !b.Enabled() {
			continue
		}
		k := helpKeyStyle.Render(b.Help().Key)
		d := helpDescStyle.Render(b.Help().Desc)
		parts = append(parts, k+" "+d)
	}
	return strings.Join(parts, helpSepStyle.Render(" | "))
}

func renderFullHelp(km keyMap) string {
	var lines []string
	for _, group := range km.FullHelp() {
		var parts []string
		for _, b := range group {
			if !b.Enabled() {
				continue
			}
			k := helpKeyStyle.Render(b.Help().Key)
			d := helpDescStyle.Render(b.Help().Desc)
			parts = append(parts, k+" "+d)
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, helpSepStyle.Render("  ")))
		}
	}
	return strings.Join(lines, "\n")
}
