package notify

import (
	"fmt"
	"sort"
	"strings"

	"signal_bot/internal/models"
)

func sideLabel(d models.Direction) string {
	if d == models.Long {
		return "🟢 LONG"
	}
	return "🔴 SHORT"
}

// FormatPrice picks the number of decimals from the price magnitude.
func FormatPrice(p float64) string {
	switch {
	case p >= 1000:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	case p >= 0.01:
		return fmt.Sprintf("%.6f", p)
	default:
		return fmt.Sprintf("%.8f", p)
	}
}

func votesLine(votes map[string]models.Direction) string {
	tfs := make([]string, 0, len(votes))
	for tf := range votes {
		tfs = append(tfs, tf)
	}
	sort.Strings(tfs)

	parts := make([]string, 0, len(tfs))
	for _, tf := range tfs {
		parts = append(parts, fmt.Sprintf("%s=%s", tf, votes[tf]))
	}
	return strings.Join(parts, " ")
}

func FormatOpen(p *models.Position, tpPercent, slPercent float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", sideLabel(p.Direction), p.Instrument)
	fmt.Fprintf(&b, "• Entry: %s\n", FormatPrice(p.Entry))
	fmt.Fprintf(&b, "• Target (%.2f%%): %s\n", tpPercent, FormatPrice(p.Target))
	fmt.Fprintf(&b, "• Stop (%.2f%%): %s\n", slPercent, FormatPrice(p.Stop))
	fmt.Fprintf(&b, "• Leverage: %dx\n", p.Leverage)
	if len(p.Votes) > 0 {
		fmt.Fprintf(&b, "• Signals: %s\n", votesLine(p.Votes))
	}
	return b.String()
}

func FormatClose(p *models.Position, outcome models.Outcome, percent, usd float64) string {
	head := "✅ TAKE PROFIT"
	if outcome == models.StopLoss {
		head = "❌ STOP LOSS"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", head, p.Instrument, p.Direction)
	fmt.Fprintf(&b, "• Entry: %s\n", FormatPrice(p.Entry))
	fmt.Fprintf(&b, "• Exit: %s\n", FormatPrice(p.LevelFor(outcome)))
	fmt.Fprintf(&b, "• Result: %+.2f%% (%+.2f$ at %dx)\n", percent, usd, p.Leverage)
	return b.String()
}
