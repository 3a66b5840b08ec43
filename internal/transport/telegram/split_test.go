package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	in := strings.Repeat("abcdefgh\n", 10)
	got := splitText(in, 20)
	for _, c := range got {
		if utf8.RuneCountInString(c) > 20 {
			t.Fatalf("chunk too long: %q", c)
		}
		if strings.HasSuffix(c, "\n") || strings.HasPrefix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if joined := strings.Join(got, "\n"); joined != strings.TrimRight(in, "\n") {
		t.Fatalf("lines were lost: %q", joined)
	}

	// No newline at all still splits on the limit.
	got = splitText(strings.Repeat("é", 25), 10)
	if len(got) != 3 || utf8.RuneCountInString(got[2]) != 5 {
		t.Fatalf("unbroken = %q", got)
	}
}
