package stats

// This file implements the exit summary printed when mediactl exits.

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Worker is the resolved worker executable
	Worker string

	// FinalState is the connection state at exit
	FinalState string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// EventsPublished counts published events by kind
	EventsPublished map[string]uint64
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats session stats for display at program exit.
//
// The summary includes:
// - Run information
// - Worker lifecycle and exit codes
// - Protocol traffic
// - Command write latency percentiles
func FormatExitSummary(snap Snapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                            mediactl Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	// Run info
	fmt.Fprintf(&b, "Session:                %s\n", snap.ID)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(snap.Duration))
	if cfg.Worker != "" {
		fmt.Fprintf(&b, "Worker:                 %s\n", cfg.Worker)
	}
	if cfg.FinalState != "" {
		fmt.Fprintf(&b, "Final State:            %s\n", cfg.FinalState)
	}
	b.WriteString("\n")

	// Lifecycle
	section(&b, "Lifecycle")
	fmt.Fprintf(&b, "  Starts:               %d\n", snap.Starts)
	fmt.Fprintf(&b, "  Connects:             %d\n", snap.Connects)
	fmt.Fprintf(&b, "  Restarts:             %d\n", snap.Restarts)
	if snap.UptimeP50 > 0 || snap.UptimeP95 > 0 {
		fmt.Fprintf(&b, "  Uptime P50:           %s\n", FormatDuration(snap.UptimeP50))
		fmt.Fprintf(&b, "  Uptime P95:           %s\n", FormatDuration(snap.UptimeP95))
	}
	b.WriteString("\n")

	// Exit codes
	if len(snap.ExitCodes) > 0 {
		section(&b, "Exit Codes")
		for _, code := range snap.SortedExitCodes() {
			fmt.Fprintf(&b, "  %6s %-16s %d\n", code, exitCodeLabel(code), snap.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	// Protocol
	section(&b, "Protocol")
	fmt.Fprintf(&b, "  Media records:        %s\n", FormatNumber(snap.MediaMessages))
	fmt.Fprintf(&b, "  Volume records:       %s\n", FormatNumber(snap.VolumeMessages))
	fmt.Fprintf(&b, "  Discarded lines:      %s\n", FormatNumber(snap.LinesDiscarded))
	fmt.Fprintf(&b, "  Stderr lines:         %s\n", FormatNumber(snap.StderrLines))
	if snap.Duration > 0 {
		total := snap.MediaMessages + snap.VolumeMessages
		fmt.Fprintf(&b, "  Record rate:          %s\n", FormatRate(float64(total)/snap.Duration.Seconds()))
	}
	b.WriteString("\n")

	// Commands
	if snap.CommandsSent > 0 || snap.CommandsFailed > 0 {
		section(&b, "Commands")
		fmt.Fprintf(&b, "  Sent:                 %d\n", snap.CommandsSent)
		fmt.Fprintf(&b, "  Failed writes:        %d\n", snap.CommandsFailed)
		fmt.Fprintf(&b, "  Retries:              %d\n", snap.CommandRetries)
		if snap.CommandsSent > 0 {
			fmt.Fprintf(&b, "  Write P50:            %s\n", FormatMs(snap.LatencyP50))
			fmt.Fprintf(&b, "  Write P99:            %s\n", FormatMs(snap.LatencyP99))
			fmt.Fprintf(&b, "  Write Max:            %s\n", FormatMs(snap.LatencyMax))
		}
		b.WriteString("\n")
	}

	// Events
	if len(cfg.EventsPublished) > 0 {
		section(&b, "Events")
		kinds := make([]string, 0, len(cfg.EventsPublished))
		for k := range cfg.EventsPublished {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "  %-22s%s\n", k+":", FormatNumber(int64(cfg.EventsPublished[k])))
		}
		b.WriteString("\n")
	}

	// Errors
	if snap.Errors > 0 {
		section(&b, "Errors")
		fmt.Fprintf(&b, "  Total:                %d\n", snap.Errors)
		if snap.LastError != "" {
			fmt.Fprintf(&b, "  Last:                 %s\n", snap.LastError)
		}
		b.WriteString("\n")
	}

	// Metrics endpoint
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule)

	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(lightRule)
	pad := (len(lightRule)/3 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(lightRule + "\n")
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code string) string {
	switch code {
	case "0":
		return "(clean)"
	case "1":
		return "(error)"
	case SignalExit:
		return "(killed)"
	case "137":
		return "(SIGKILL)"
	case "143":
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
