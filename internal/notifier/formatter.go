package notifier

import (
	"fmt"
	"sort"
	"strings"

	"SignalSentinel/internal/model"
	"SignalSentinel/internal/tenant"
)

var strategyTitles = map[string]string{
	"trend_cross":     "Trend cross",
	"breakout":        "Breakout",
	"retracement":     "Retracement",
	"range_expansion": "Range expansion",
}

func strategyTitle(name string) string {
	if t, ok := strategyTitles[name]; ok {
		return t
	}
	return name
}

func formatTargets(b *strings.Builder, o *model.Opportunity) {
	for i, t := range o.Targets {
		mark := "  "
		if i < o.TargetIndex {
			mark = "✅"
		}
		b.WriteString(fmt.Sprintf("%s T%d: %.4g\n", mark, i+1, t))
	}
}

// FormatEvent renders a lifecycle or report event as plain text. Follow-up
// events render the whole opportunity so an edited alert stays complete.
func FormatEvent(ev model.Event) string {
	if ev.Type == model.EventReport {
		return ev.Text
	}
	o := ev.Opportunity
	if o == nil {
		return ""
	}

	var b strings.Builder
	switch ev.Type {
	case model.EventNewOpportunity:
		b.WriteString(fmt.Sprintf("🔔 %s | %s\n", o.Symbol, strategyTitle(o.Strategy)))
	case model.EventTargetHit:
		b.WriteString(fmt.Sprintf("🎯 %s | %s | T%d hit at %.4g\n", o.Symbol, strategyTitle(o.Strategy), ev.HitIndex+1, ev.Price))
	case model.EventCompleted:
		b.WriteString(fmt.Sprintf("🏁 %s | %s | all targets reached (%+.2f%%)\n", o.Symbol, strategyTitle(o.Strategy), o.RealizedPercent()))
	case model.EventStopped:
		b.WriteString(fmt.Sprintf("🛑 %s | %s | stopped at %.4g (%+.2f%%)\n", o.Symbol, strategyTitle(o.Strategy), ev.Price, o.RealizedPercent()))
	}
	b.WriteString(fmt.Sprintf("\nEntry: %.4g\n", o.EntryPrice))
	formatTargets(&b, o)
	b.WriteString(fmt.Sprintf("Stop loss: %.4g\n", o.StopLoss))
	if o.PredecessorID != "" {
		b.WriteString("Follows a completed signal\n")
	}
	b.WriteString(fmt.Sprintf("\n%s | %s", string(o.Status), o.UpdatedAt.Format("2006-01-02 15:04")))
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// FormatSettings renders a tenant's settings for a chat reply.
func FormatSettings(sum tenant.SettingsSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⚙️ Settings for %s\n", sum.TenantID))
	b.WriteString(fmt.Sprintf("Status: %s\n", sum.Status))
	if sum.SubscriptionExpires != nil {
		b.WriteString(fmt.Sprintf("Subscription until: %s\n", sum.SubscriptionExpires.Format("2006-01-02")))
	}

	names := make([]string, 0, len(sum.Strategies))
	for name := range sum.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteString("\nStrategies:\n")
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  %s: %s\n", strategyTitle(name), onOff(sum.Strategies[name])))
	}
	b.WriteString("\nReports:\n")
	for _, c := range model.Cadences {
		b.WriteString(fmt.Sprintf("  %s: %s\n", c, onOff(sum.Reports[c])))
	}
	return strings.TrimRight(b.String(), "\n")
}
