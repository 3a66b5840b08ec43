package telegram

import (
	"strings"
	"testing"
	"time"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/internal/scheduler"
)

func TestFormatStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := &scheduler.Status{
		Running:  true,
		Message:  "Posted to <webhook>",
		Severity: eventlog.Success,
		NextDue:  now.Add(90 * time.Second),
		Entries: []scheduler.EntryStatus{
			{Position: 1, Label: "channel 1", Interval: time.Hour, NextDue: now.Add(90 * time.Second)},
			{Position: 2, Label: "webhook abcd", Interval: time.Minute, NextDue: now, InFlight: true},
		},
		Recent: []eventlog.Record{{Time: now, Severity: eventlog.Error, Message: "Failed to post to x: http 404"}},
	}
	got := formatStatus(st, now)
	for _, want := range []string{
		"running",
		"Posted to &lt;webhook&gt;",
		"in 1m30s",
		"1. channel 1 · every 1h0m0s · next in 1m30s",
		"2. webhook abcd · every 1m0s · next now · sending",
		"Failed to post to x: http 404",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status is missing %q:\n%s", want, got)
		}
	}

	st.Running = false
	if got := formatStatus(st, now); strings.Contains(got, "Next post") || strings.Contains(got, "next in") {
		t.Errorf("stopped status shows next post:\n%s", got)
	}
}

func TestFormatList(t *testing.T) {
	t.Parallel()
	got := formatList([]destination.Destination{
		{ID: "id-1", TargetRef: "123", Message: strings.Repeat("x", 100), Interval: 60},
		{ID: "id-2", Interval: 3600},
	})
	for _, want := range []string{"#1", "<code>id-1</code>", "every: 1m0s", strings.Repeat("x", 80) + "…", "#2", "<i>unset</i>"} {
		if !strings.Contains(got, want) {
			t.Errorf("list is missing %q:\n%s", want, got)
		}
	}
}

func TestFormatLogsEmpty(t *testing.T) {
	t.Parallel()
	if got := formatLogs(nil); got != "No log entries." {
		t.Fatalf("formatLogs(nil) = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := truncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("truncRunes = %q", got)
	}
	if got := truncRunes("hi", 3); got != "hi" {
		t.Fatalf("truncRunes short = %q", got)
	}
}
