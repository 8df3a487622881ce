package journal

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type orgProp struct {
	key, value string
}

// FormatTradeOrg renders a closed trade as an Org-mode entry. The heading is
// tagged :win: or :loss:, the facts go in a PROPERTIES drawer and the body
// leaves Thesis, Execution and Review sections to fill in by hand.
func FormatTradeOrg(t TradeRecord) string {
	tag := "loss"
	if t.RealizedPnL > 0 {
		tag = "win"
	}
	props := []orgProp{
		{"TRADE_ID", t.TradeID},
		{"RUN_ID", t.RunID},
		{"ASSET", t.Asset},
		{"DIRECTION", t.Direction},
		{"SIZE", fmt.Sprintf("%g", t.Size)},
		{"MARGIN", fmt.Sprintf("%.2f", t.Margin)},
		{"ENTRY_PRICE", fmt.Sprintf("%.5f", t.EntryPrice)},
		{"EXIT_PRICE", fmt.Sprintf("%.5f", t.ExitPrice)},
		{"STOP_LOSS", fmt.Sprintf("%.5f", t.StopLoss)},
		{"TAKE_PROFIT", fmt.Sprintf("%.5f", t.TakeProfit)},
		{"OPEN_TIME", t.OpenTime.UTC().Format(time.RFC3339)},
		{"CLOSE_TIME", t.CloseTime.UTC().Format(time.RFC3339)},
		{"HELD", t.CloseTime.Sub(t.OpenTime).String()},
		{"REALIZED_PNL", fmt.Sprintf("%.2f", t.RealizedPnL)},
		{"R_MULTIPLE", rMultiple(t)},
		{"REASON", t.Reason},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s) :%s:\n", t.Asset, t.Direction, shortID(t.TradeID), tag)
	b.WriteString(":PROPERTIES:\n")
	for _, p := range props {
		if p.value == "" {
			continue
		}
		fmt.Fprintf(&b, ":%s: %s\n", p.key, p.value)
	}
	b.WriteString(":END:\n\n")
	for _, section := range []string{"Thesis", "Execution", "Review"} {
		fmt.Fprintf(&b, "*** %s\n- \n\n", section)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// rMultiple is realized P&L over the amount risked at the stop. Empty when
// the stop distance is zero.
func rMultiple(t TradeRecord) string {
	risk := math.Abs(t.EntryPrice-t.StopLoss) * t.Size
	if risk == 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", t.RealizedPnL/risk)
}

// FormatTradesOrg renders trades in order, separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	parts := make([]string, len(trades))
	for i, t := range trades {
		parts[i] = FormatTradeOrg(t)
	}
	return strings.Join(parts, "\n\n")
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
