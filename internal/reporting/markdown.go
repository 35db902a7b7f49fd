package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders the report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Copy Trading Performance Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	sb.WriteString("## Account Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Traders | %d (%d active, %d paused) |\n",
		r.Summary.TotalTraders, r.Summary.ActiveTraders, r.Summary.PausedTraders))
	sb.WriteString(fmt.Sprintf("| Trades | %d |\n", r.Summary.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Executed | %d |\n", r.Summary.ExecutedTrades))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", r.Summary.FailedTrades))
	sb.WriteString(fmt.Sprintf("| Rejected by risk gate | %d |\n", r.Summary.CancelledTrades))
	sb.WriteString(fmt.Sprintf("| Permanently failed | %d |\n", r.Summary.PermanentFailures))
	sb.WriteString(fmt.Sprintf("| Volume (USDC) | %.2f |\n", r.Summary.TotalVolume))
	sb.WriteString(fmt.Sprintf("| Realized PnL (USDC) | %.2f |\n", r.Summary.RealizedPnL))
	sb.WriteString(fmt.Sprintf("| Open positions | %d (%.2f USDC) |\n",
		r.Summary.OpenPositions, r.Summary.OpenValue))
	sb.WriteString("\n")

	sb.WriteString("## Trader Performance\n\n")
	if len(r.Traders) == 0 {
		sb.WriteString("No traders configured.\n")
		return sb.String()
	}
	sb.WriteString("| Trader | Status | Trades | Volume | Wins | Losses | WinRate | Realized PnL | Open | Open Value |\n")
	sb.WriteString("|--------|--------|--------|--------|------|--------|---------|--------------|------|------------|\n")
	for _, t := range r.Traders {
		name := t.Name
		if name == "" {
			name = t.TraderID
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %.2f | %d | %d | %.4f | %.2f | %d | %.2f |\n",
			name, t.Status, t.TotalTrades, t.TotalVolume,
			t.Wins, t.Losses, t.WinRate, t.RealizedPnL,
			t.OpenPositions, t.OpenValue))
	}
	sb.WriteString("\n")

	return sb.String()
}
