package app

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatOnlineTime renders elapsed online seconds the way the status bar
// shows them: 1h 5m / 4m 12s / 33s.
func FormatOnlineTime(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatDuration renders a ride clock as h:mm:ss or m:ss.
func FormatDuration(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatBalance renders an amount with thousands separators, e.g. 1 500 ₽.
func FormatBalance(amount float64) string {
	whole := int64(amount)
	digits := strconv.FormatInt(whole, 10)
	neg := strings.HasPrefix(digits, "-")
	if neg {
		digits = digits[1:]
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	out := b.String()
	if neg {
		out = "-" + out
	}
	return out + " ₽"
}

// ShortenAddress truncates long addresses for list rows.
func ShortenAddress(addr string, max int) string {
	if max <= 0 {
		max = 30
	}
	runes := []rune(addr)
	if len(runes) <= max {
		return addr
	}
	return string(runes[:max]) + "..."
}
