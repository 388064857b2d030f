package commands

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"descbot/internal/transport"
)

// FormatDuration renders seconds as 45s, 5m, 2h or 1h 30m.
func FormatDuration(secs int64) string {
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm", secs/60)
	}
	h, m := secs/3600, (secs%3600)/60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// truncate keeps the first n runes and marks the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func helpText(prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commands (prefix: %s)\n\n", prefix)
	for _, s := range specs {
		b.WriteString("  ")
		b.WriteString(s.usage)
		if len(s.aliases) > 0 {
			b.WriteString(" (" + strings.Join(s.aliases, ", ") + ")")
		}
		b.WriteString(" - ")
		b.WriteString(s.help)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// MenuCommands is the Telegram command menu. Telegram only accepts
// "/"-prefixed commands, so other prefixes get no menu.
func MenuCommands(prefix string) []transport.BotCommand {
	if prefix != "/" {
		return nil
	}
	out := make([]transport.BotCommand, 0, len(specs))
	for _, s := range specs {
		out = append(out, transport.BotCommand{Command: s.name, Description: s.help})
	}
	return out
}
