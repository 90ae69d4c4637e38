package compose

import (
	"strings"
	"testing"
)

func testSettings(showAuthor bool) Settings {
	return Settings{
		ChannelName: "News & Views",
		ChannelLink: "https://t.me/news",
		Separator:   " | ",
		ButtonText:  "Subscribe",
		ShowAuthor:  showAuthor,
	}
}

func TestSuffix(t *testing.T) {
	t.Parallel()
	got := Suffix(testSettings(true))
	want := "\n\nNews &amp; Views | <a href=\"https://t.me/news\">Subscribe</a>\n\n#news"
	if got != want {
		t.Fatalf("Suffix = %q, want %q", got, want)
	}
}

func TestComposeWithAuthor(t *testing.T) {
	t.Parallel()
	got := Compose("hello", "Alice", testSettings(true))

	if !strings.HasPrefix(got, "hello\n\n") {
		t.Fatalf("composed text should start with the base: %q", got)
	}
	if !strings.HasSuffix(got, "\n\nby <b>Alice</b>") {
		t.Fatalf("composed text should end with the author line: %q", got)
	}
	if n := strings.Count(got, "#news"); n != 1 {
		t.Fatalf("#news appears %d times, want 1", n)
	}
}

func TestComposeWithoutAuthor(t *testing.T) {
	t.Parallel()
	got := Compose("hello", "Alice", testSettings(false))
	if strings.Contains(got, "by ") || strings.Contains(got, "Alice") {
		t.Fatalf("author must not appear when disabled: %q", got)
	}
	if !strings.HasSuffix(got, "#news") {
		t.Fatalf("composed text should end with the tag: %q", got)
	}
}

func TestComposeEmptyBase(t *testing.T) {
	t.Parallel()
	got := Compose("", "Alice", testSettings(true))
	if !strings.HasPrefix(got, "\n\n") {
		t.Fatalf("empty base should leave the suffix first: %q", got)
	}
}

func TestComposeEscapesUserInput(t *testing.T) {
	t.Parallel()
	got := Compose("<script>1 & 2</script>", "Bob <b>", testSettings(true))
	if strings.Contains(got, "<script>") {
		t.Fatalf("base not escaped: %q", got)
	}
	if !strings.Contains(got, "&lt;script&gt;1 &amp; 2&lt;/script&gt;") {
		t.Fatalf("escaped base missing: %q", got)
	}
	if !strings.Contains(got, "<b>Bob &lt;b&gt;</b>") {
		t.Fatalf("author must be escaped inside the bold tag: %q", got)
	}
}
