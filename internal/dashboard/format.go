package dashboard

import (
	"fmt"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatDelta formats a day-over-day change as "+12", "-3" or "0".
func FormatDelta(d int) string {
	if d > 0 {
		return "+" + FormatInt(d)
	}
	return FormatInt(d)
}

// FormatAverage formats a per-day average with one decimal.
func FormatAverage(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// FormatShare formats a fraction in [0, 1] as a percentage, or "-" when
// there is nothing to share.
func FormatShare(f float64) string {
	if f <= 0 {
		return "-"
	}
	pct := f * 100
	if pct >= 99.95 {
		return "100%"
	}
	return fmt.Sprintf("%.1f%%", pct)
}
