package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

var cadenceTitles = map[string]string{
	"hourly": "Hourly",
	"daily":  "Daily",
	"weekly": "Weekly",
}

// Render formats a report as plain text for chat delivery.
func Render(r *Report) string {
	var b strings.Builder
	title := cadenceTitles[string(r.Cadence)]
	b.WriteString(fmt.Sprintf("📊 %s report | %s\n", title, r.GeneratedAt.Format("2006-01-02 15:04")))

	if len(r.Top) == 0 {
		b.WriteString("\nNo market data yet\n")
	} else {
		b.WriteString("\n📈 Top movers:\n")
		for _, m := range r.Top {
			b.WriteString(fmt.Sprintf("  %s %+.2f%%\n", m.Symbol, m.ChangePercent))
		}
		if len(r.Bottom) > 0 {
			b.WriteString("\n📉 Bottom movers:\n")
			for _, m := range r.Bottom {
				b.WriteString(fmt.Sprintf("  %s %+.2f%%\n", m.Symbol, m.ChangePercent))
			}
		}
	}

	p := r.Performance
	b.WriteString(fmt.Sprintf("\n🎯 Signals: %d (active %d, completed %d, stopped %d)\n", p.Total, p.Active, p.Completed, p.Stopped))
	if p.Completed+p.Stopped > 0 {
		b.WriteString(fmt.Sprintf("Realized: %+.2f%% (wins %+.2f%%, losses %+.2f%%)", p.NetPercent, p.CompletedPercent, p.StoppedPercent))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderTable writes the movers ranking and performance as tables.
func RenderTable(w io.Writer, r *Report) {
	fmt.Fprintf(w, "\n%s report | %s\n", cadenceTitles[string(r.Cadence)], r.GeneratedAt.Format("2006-01-02 15:04"))

	table := tablewriter.NewWriter(w)
	table.Header("Side", "Symbol", "From", "To", "Change", "RSI", "Range")
	for _, m := range r.Top {
		table.Append(moverRow("top", m)...)
	}
	for _, m := range r.Bottom {
		table.Append(moverRow("bottom", m)...)
	}
	table.Render()

	p := r.Performance
	perf := tablewriter.NewWriter(w)
	perf.Header("Total", "Active", "Completed", "Stopped", "Net")
	perf.Append(
		fmt.Sprintf("%d", p.Total),
		fmt.Sprintf("%d", p.Active),
		fmt.Sprintf("%d", p.Completed),
		fmt.Sprintf("%d", p.Stopped),
		fmt.Sprintf("%+.2f%%", p.NetPercent),
	)
	perf.Render()
}

func moverRow(side string, m Mover) []any {
	row := []any{side, m.Symbol, fmt.Sprintf("%.4g", m.From), fmt.Sprintf("%.4g", m.To), fmt.Sprintf("%+.2f%%", m.ChangePercent), "n/a", "n/a"}
	if m.RSI.OK {
		row[5] = fmt.Sprintf("%.1f", m.RSI.Value)
	}
	if m.RangePosition.OK {
		row[6] = fmt.Sprintf("%.0f%%", m.RangePosition.Value*100)
	}
	return row
}
