package main

import (
	"strings"
	"testing"

	"gemtutor/internal/api"
)

func TestQuestionBankLookups(t *testing.T) {
	subs := subjects()
	if len(subs) == 0 {
		t.Fatalf("expected at least one subject")
	}
	for _, subject := range subs {
		marks := marksFor(subject)
		if len(marks) == 0 {
			t.Fatalf("subject %q has no mark bands", subject)
		}
		for i := 1; i < len(marks); i++ {
			if marks[i] <= marks[i-1] {
				t.Fatalf("mark bands for %q not sorted: %v", subject, marks)
			}
		}
		for _, mark := range marks {
			if len(questionsFor(subject, mark)) == 0 {
				t.Fatalf("subject %q marks %d has no questions", subject, mark)
			}
		}
	}
}

func TestQuestionBankUnknownSubject(t *testing.T) {
	if marksFor("astrology") != nil {
		t.Fatalf("expected nil mark bands for unknown subject")
	}
	if questionsFor("astrology", 6) != nil {
		t.Fatalf("expected nil questions for unknown subject")
	}
}

func TestCycleStringWraps(t *testing.T) {
	options := []string{"a", "b", "c"}
	if got := cycleString(options, "c", 1); got != "a" {
		t.Fatalf("forward wrap: got %q", got)
	}
	if got := cycleString(options, "a", -1); got != "c" {
		t.Fatalf("backward wrap: got %q", got)
	}
	if got := cycleString(options, "missing", 1); got != "b" {
		t.Fatalf("unknown current should advance from start, got %q", got)
	}
	if got := cycleString(nil, "x", 1); got != "x" {
		t.Fatalf("empty options should return current, got %q", got)
	}
}

func TestCycleIntWraps(t *testing.T) {
	options := []int{4, 6, 8}
	if got := cycleInt(options, 8, 1); got != 4 {
		t.Fatalf("forward wrap: got %d", got)
	}
	if got := cycleInt(options, 4, -1); got != 8 {
		t.Fatalf("backward wrap: got %d", got)
	}
}

func TestWrapText(t *testing.T) {
	wrapped := wrapText("one two three four five", 9)
	for _, line := range strings.Split(wrapped, "\n") {
		if len(line) > 9 {
			t.Fatalf("line %q exceeds width", line)
		}
	}
	if wrapText("short", 0) != "short" {
		t.Fatalf("zero width should pass text through")
	}
	if wrapText("a\n\nb", 20) != "a\n\nb" {
		t.Fatalf("blank lines should survive wrapping")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 5); got != "ab..." {
		t.Fatalf("truncate: got %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Fatalf("no-op truncate: got %q", got)
	}
	if got := truncate("abcdefgh", 0); got != "" {
		t.Fatalf("zero limit: got %q", got)
	}
}

func TestCompactSingleLine(t *testing.T) {
	got := compactSingleLine("  a\n b\t\tc  ", 80)
	if got != "a b c" {
		t.Fatalf("compactSingleLine: got %q", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(45); got != "45s" {
		t.Fatalf("formatSeconds(45) = %q", got)
	}
	if got := formatSeconds(300); got != "5:00" {
		t.Fatalf("formatSeconds(300) = %q", got)
	}
	if got := formatSeconds(61); got != "1:01" {
		t.Fatalf("formatSeconds(61) = %q", got)
	}
}

func TestFormatLink(t *testing.T) {
	got := formatLink(api.Link{Label: "Chapter 3", URL: "https://example.com/c3", Page: 41})
	if !strings.Contains(got, "Chapter 3") || !strings.Contains(got, "(p.41)") || !strings.Contains(got, "https://example.com/c3") {
		t.Fatalf("formatLink: got %q", got)
	}

	bare := formatLink(api.Link{URL: "https://example.com"})
	if !strings.Contains(bare, "https://example.com") {
		t.Fatalf("formatLink without label: got %q", bare)
	}
	if strings.Count(bare, "https://example.com") != 1 {
		t.Fatalf("URL should not repeat when it is the label: %q", bare)
	}
}

func TestUserFacingMessages(t *testing.T) {
	if got := userFacing(&api.RemoteRejection{Reason: "Invalid OTP"}); got != "Invalid OTP" {
		t.Fatalf("remote rejection: got %q", got)
	}
	got := userFacing(&opaqueError{})
	if got != "something went wrong · try again" {
		t.Fatalf("fallback: got %q", got)
	}
}

type opaqueError struct{}

func (opaqueError) Error() string { return "opaque" }
