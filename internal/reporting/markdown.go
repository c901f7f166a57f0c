package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a cap table report as Markdown.
func RenderMarkdown(r *CapTableReport) string {
	var sb strings.Builder
	t := r.Table

	sb.WriteString(fmt.Sprintf("# %s Cap Table\n\n", t.Symbol))
	sb.WriteString(fmt.Sprintf("%s (`%s`)\n\n", t.Name, t.Mint))
	if t.BlockHeight != nil {
		sb.WriteString(fmt.Sprintf("As of block height %d. ", *t.BlockHeight))
	}
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", t.GeneratedAt.Format(time.RFC3339)))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Holders | %d |\n", t.Summary.HolderCount))
	sb.WriteString(fmt.Sprintf("| Total Shares | %s |\n", t.Summary.TotalShares.String()))
	sb.WriteString(fmt.Sprintf("| Current Supply | %s |\n", t.CurrentSupply.String()))
	sb.WriteString(fmt.Sprintf("| Distributed | %s%% |\n", t.Summary.PercentDistributed.StringFixed(2)))
	sb.WriteString("\n")

	// Holders
	sb.WriteString("## Holders\n\n")
	if len(t.Holders) == 0 {
		sb.WriteString("No holders.\n\n")
	} else {
		sb.WriteString("| Wallet | Amount | % | Allowlist | Last Slot |\n")
		sb.WriteString("|--------|--------|---|-----------|-----------|\n")
		for _, h := range t.Holders {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s | %d |\n",
				h.Wallet, h.Amount.String(), h.Percentage.StringFixed(2), h.AllowlistStatus, h.LastSlot))
		}
		sb.WriteString("\n")
	}

	if c := r.Concentration; c != nil {
		sb.WriteString("## Concentration\n\n")
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Top 1 | %s%% |\n", c.Top1Percent.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Top 5 | %s%% |\n", c.Top5Percent.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Top 10 | %s%% |\n", c.Top10Percent.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Gini | %s |\n", c.Gini.StringFixed(4)))
		sb.WriteString(fmt.Sprintf("\n**%s**\n", c.Interpretation))
	}

	return sb.String()
}
