package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-mediactl/internal/events"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the full dashboard.
func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderNowPlaying(),
		m.renderVolume(),
		m.renderSession(),
	}

	// Errors section (only if there are errors)
	if len(m.errors) > 0 {
		sections = append(sections, m.renderErrors())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" mediactl │ %s │ Restarts: %d │ Uptime: %s │ Elapsed: %s ",
		GetStateLabel(m.state),
		m.restarts,
		formatDuration(m.uptime),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Now Playing
// =============================================================================

func (m Model) renderNowPlaying() string {
	var lines []string
	lines = append(lines, sectionHeaderStyle.Render("Now Playing"))

	switch {
	case !m.mediaSeen:
		lines = append(lines, dimStyle.Render("waiting for the worker..."))
	case m.media == nil:
		lines = append(lines, mutedStyle.Render("no active media session"))
	default:
		width := max(m.width-8, 20)
		title := m.media.Title
		if title == "" {
			title = "(untitled)"
		}
		lines = append(lines,
			titleStyle.Render(truncate(title, width)),
			subtitleStyle.Render(truncate(joinNonEmpty(" · ", m.media.Artist, m.media.Album), width)),
			GetPlaybackLabel(m.media.PlaybackStatus),
		)
		if app := firstNonEmpty(m.media.AppName, m.media.AppID); app != "" {
			lines = append(lines, RenderKeyValue("Source", truncate(app, width-20)))
		}
		if m.media.HasThumbnail() {
			lines = append(lines, dimStyle.Render("thumbnail available"))
		}
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Volume
// =============================================================================

func (m Model) renderVolume() string {
	var lines []string
	lines = append(lines, sectionHeaderStyle.Render("Volume"))

	if m.volume == nil {
		lines = append(lines, dimStyle.Render("no volume report yet"))
		return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	barWidth := max(m.width-30, 20)
	bar := RenderProgressBar(float64(m.volume.Level)/100, barWidth, GetVolumeStyle(m.volume.Muted))
	if m.volume.Muted {
		bar += " " + statusWarning.Render("muted")
	}
	lines = append(lines, bar)

	for _, d := range m.volume.Devices {
		marker := "  "
		if d.IsDefault {
			marker = statusOK.Render("● ")
		}
		state := fmt.Sprintf("%3d%%", d.Volume)
		if d.IsMuted {
			state += " muted"
		}
		lines = append(lines, marker+boldStyle.Render(truncate(d.Name, max(m.width-20, 10)))+" "+mutedStyle.Render(state))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Session Statistics
// =============================================================================

func (m Model) renderSession() string {
	s := m.snap

	left := []string{
		RenderKeyValue("Starts", fmt.Sprintf("%d", s.Starts)),
		RenderKeyValue("Connects", fmt.Sprintf("%d", s.Connects)),
		RenderKeyValue("Media records", formatNumber(s.MediaMessages)),
		RenderKeyValue("Volume records", formatNumber(s.VolumeMessages)),
	}
	if s.LinesDiscarded > 0 {
		left = append(left, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Discarded:"),
			valueWarnStyle.Render(formatNumber(s.LinesDiscarded)),
		))
	}

	right := []string{
		RenderKeyValue("Commands", formatNumber(s.CommandsSent)),
		RenderKeyValue("Write P50", formatMs(s.LatencyP50)),
		RenderKeyValue("Write P99", formatMs(s.LatencyP99)),
	}
	if s.CommandsFailed > 0 {
		right = append(right, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Failed writes:"),
			valueBadStyle.Render(formatNumber(s.CommandsFailed)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Session"),
		renderTwoColumns(left, right),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Errors
// =============================================================================

func (m Model) renderErrors() string {
	lines := []string{sectionHeaderStyle.Render("Recent Errors")}

	width := max(m.width-20, 20)
	for i := len(m.errors) - 1; i >= 0; i-- {
		ev := m.errors[i]
		style := valueWarnStyle
		if ev.Source == events.SourceSupervisor {
			style = valueBadStyle
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left,
			dimStyle.Render(ev.At.Format("15:04:05")+" "),
			style.Render(fmt.Sprintf("%-10s", ev.Source)),
			mutedStyle.Render(truncate(ev.Message, width)),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	help := make([]string, 0, len(m.keys.ShortHelp()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+": "+h.Desc)
	}
	left := dimStyle.Render(strings.Join(help, " │ "))

	var status string
	switch {
	case m.lastErr != nil:
		status = statusError.Render(m.lastAction + ": " + truncate(m.lastErr.Error(), 60))
	case m.lastAction != "":
		status = statusInfo.Render(m.lastAction)
	}
	if m.metricsAddr != "" {
		status = strings.TrimSpace(status + " " + dimStyle.Render("metrics: "+m.metricsAddr))
	}

	return footerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, status, left))
}

// =============================================================================
// Layout Helpers
// =============================================================================

// renderTwoColumns renders two columns side-by-side with a separator.
func renderTwoColumns(left, right []string) string {
	leftContent := lipgloss.JoinVertical(lipgloss.Left, left...)
	rightContent := lipgloss.JoinVertical(lipgloss.Left, right...)

	separator := mutedStyle.Render(" │ ")
	return lipgloss.JoinHorizontal(lipgloss.Top, leftContent, separator, rightContent)
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
