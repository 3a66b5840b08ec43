package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/internal/scheduler"
)

const timeLayout = "2006-01-02 15:04:05"

func esc(s string) string  { return html.EscapeString(s) }
func bold(s string) string { return "<b>" + esc(s) + "</b>" }
func code(s string) string { return "<code>" + esc(s) + "</code>" }

// truncRunes cuts s to n runes, appending an ellipsis when shortened.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n]) + "…"
}

func marker(sev eventlog.Severity) string {
	switch sev {
	case eventlog.Success:
		return "✅"
	case eventlog.Warning:
		return "⚠️"
	case eventlog.Error:
		return "❌"
	default:
		return "ℹ️"
	}
}

func shortDur(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	return "in " + d.Round(time.Second).String()
}

func formatStatus(st *scheduler.Status, now time.Time) string {
	var b strings.Builder
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "%s %s\n", bold("Auto-posting:"), state)
	if st.Message != "" {
		fmt.Fprintf(&b, "%s %s %s\n", bold("Status:"), marker(st.Severity), esc(st.Message))
	}
	if st.Running && !st.NextDue.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", bold("Next post:"), shortDur(st.Until(now)))
	}

	fmt.Fprintf(&b, "\n%s (%d)\n", bold("Destinations"), len(st.Entries))
	for _, e := range st.Entries {
		fmt.Fprintf(&b, "%d. %s · every %s", e.Position, esc(e.Label), e.Interval)
		if st.Running && !e.NextDue.IsZero() {
			fmt.Fprintf(&b, " · next %s", shortDur(e.NextDue.Sub(now)))
		}
		if e.InFlight {
			b.WriteString(" · sending")
		}
		if !e.LastSent.IsZero() {
			fmt.Fprintf(&b, " · last %s", e.LastSent.Local().Format(timeLayout))
		}
		b.WriteByte('\n')
	}

	if len(st.Recent) > 0 {
		fmt.Fprintf(&b, "\n%s\n", bold("Recent activity"))
		b.WriteString(formatRecords(st.Recent))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRecords(records []eventlog.Record) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s %s\n", marker(r.Severity), esc(r.String()))
	}
	return b.String()
}

func formatLogs(records []eventlog.Record) string {
	if len(records) == 0 {
		return "No log entries."
	}
	return strings.TrimRight(formatRecords(records), "\n")
}

func orUnset(s string) string {
	if strings.TrimSpace(s) == "" {
		return "<i>unset</i>"
	}
	return code(s)
}

func formatList(list []destination.Destination) string {
	var b strings.Builder
	for i, d := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s\n", bold(fmt.Sprintf("#%d", i+1)), code(d.ID))
		fmt.Fprintf(&b, "  target: %s\n", orUnset(d.TargetRef))
		fmt.Fprintf(&b, "  mention: %s\n", orUnset(d.MentionRef))
		fmt.Fprintf(&b, "  every: %s\n", destination.FormatInterval(d.Interval))
		msg := "<i>unset</i>"
		if strings.TrimSpace(d.Message) != "" {
			msg = esc(truncRunes(strings.ReplaceAll(d.Message, "\n", " "), 80))
		}
		fmt.Fprintf(&b, "  message: %s\n", msg)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHelp(cmds []command) string {
	var b strings.Builder
	b.WriteString(bold("Auto-poster commands"))
	b.WriteByte('\n')
	for _, c := range cmds {
		usage := "/" + c.name
		if c.usage != "" {
			usage += " " + c.usage
		}
		fmt.Fprintf(&b, "%s · %s\n", code(usage), esc(c.desc))
	}
	b.WriteString("\nA destination reference is its list number, its id, or an id prefix.")
	return b.String()
}
