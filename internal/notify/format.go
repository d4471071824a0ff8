// Package notify formats the daily report and delivers it to a chat.
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"downloadreport/internal/dashboard"
	"downloadreport/internal/domain"
)

var platformIcon = map[domain.Platform]string{
	domain.PlatformAppStore:   "🍎",
	domain.PlatformGooglePlay: "🤖",
	domain.PlatformHuawei:     "📱",
}

// FormatReport renders results as a Telegram HTML message. Every result gets
// a section: failed platforms are shown as unavailable and platforms without
// data yet show their delayed label. A known total is printed even when the
// fetch failed. The combined total sums the platforms that carry a total.
func FormatReport(appName string, results []domain.StoreResult, reportTime time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s Daily Download Report</b>\n", html.EscapeString(appName))
	fmt.Fprintf(&b, "🗓 %s\n", reportTime.Format("Jan 02, 2006 15:04 MST"))

	combined, withTotal := 0, 0
	for _, r := range results {
		b.WriteString("\n")
		icon := platformIcon[r.Platform]
		if icon == "" {
			icon = "•"
		}
		fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, html.EscapeString(r.Platform.DisplayName()))

		switch {
		case r.Failed():
			b.WriteString("   ⚠️ Unavailable\n")
		case r.HasData():
			fmt.Fprintf(&b, "   Downloads: <b>%s</b>", dashboard.FormatInt(*r.DailyDownloads))
			if r.DateLabel != "" {
				fmt.Fprintf(&b, " (%s)", html.EscapeString(r.DateLabel))
			}
			b.WriteString("\n")
		default:
			label := r.DateLabel
			if label == "" {
				label = "pending"
			}
			fmt.Fprintf(&b, "   No data yet: %s\n", html.EscapeString(label))
		}

		if r.TotalDownloads != nil {
			fmt.Fprintf(&b, "   Total: %s\n", dashboard.FormatInt(*r.TotalDownloads))
			combined += *r.TotalDownloads
			withTotal++
		}
	}

	if withTotal > 1 {
		fmt.Fprintf(&b, "\n<b>Combined total:</b> %s\n", dashboard.FormatInt(combined))
	}
	return strings.TrimRight(b.String(), "\n")
}
