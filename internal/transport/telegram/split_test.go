package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 6) || got[1] != strings.Repeat("b", 6) {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := "abcdefg<b>bold</b>"
	got := splitText(s, 9, "HTML")
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q, want tag left for next chunk", got[0])
	}
	for _, c := range got {
		if n := len([]rune(c)); n > 9 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
	}
}

func TestSplitTextCountsRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 25)
	got := splitText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if strings.Join(got, "") != s {
		t.Fatal("chunks do not reassemble the input")
	}
}
