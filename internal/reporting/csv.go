package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders per-trader rows as a CSV string.
func RenderCSV(rows []TraderRow) string {
	var sb strings.Builder

	sb.WriteString("trader_id,name,wallet_address,status,total_trades,total_volume,wins,losses,win_rate,realized_pnl,open_positions,open_value,peak_balance\n")
	for _, t := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%.6f,%d,%d,%.6f,%.6f,%d,%.6f,%.6f\n",
			t.TraderID, csvEscape(t.Name), t.WalletAddress, t.Status,
			t.TotalTrades, t.TotalVolume, t.Wins, t.Losses,
			t.WinRate, t.RealizedPnL, t.OpenPositions, t.OpenValue, t.PeakBalance))
	}

	return sb.String()
}

func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}
