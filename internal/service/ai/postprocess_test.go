package ai

import (
	"strings"
	"testing"
)

func TestExtractThinking(t *testing.T) {
	thinking, rest := ExtractThinking("<think>weigh the options</think>Sure, let's go.")
	if thinking != "weigh the options" {
		t.Fatalf("thinking = %q", thinking)
	}
	if rest != "Sure, let's go." {
		t.Fatalf("rest = %q", rest)
	}

	thinking, rest = ExtractThinking("<thinking>a</thinking>mid<thinking>b</thinking>end")
	if thinking != "a\n\nb" {
		t.Fatalf("multiple blocks not joined: %q", thinking)
	}
	if rest != "midend" {
		t.Fatalf("rest = %q", rest)
	}

	thinking, rest = ExtractThinking("no blocks here")
	if thinking != "" || rest != "no blocks here" {
		t.Fatalf("content without blocks altered: %q / %q", thinking, rest)
	}
}

func TestStripPreviousEcho(t *testing.T) {
	prev := "I already told you about the red bridge at dusk."
	content := prev + "\nBut there is more to the story."

	got := StripPreviousEcho(content, prev)
	if got != "But there is more to the story." {
		t.Fatalf("echo not stripped: %q", got)
	}

	// short overlaps are coincidence, not echo
	if got := StripPreviousEcho("Yes. And then?", "Yes."); got != "Yes. And then?" {
		t.Fatalf("short previous turn stripped: %q", got)
	}

	// no echo means no change
	if got := StripPreviousEcho("Completely new reply.", prev); got != "Completely new reply." {
		t.Fatalf("non-echo content altered: %q", got)
	}
}

func TestStripArtifacts(t *testing.T) {
	if got := StripArtifacts("Nova: hello there", "Nova"); got != "hello there" {
		t.Fatalf("speaker label kept: %q", got)
	}
	if got := StripArtifacts("**Nova:** hello", "Nova"); got != "hello" {
		t.Fatalf("bold speaker label kept: %q", got)
	}
	if got := StripArtifacts("Assistant: hi", ""); got != "hi" {
		t.Fatalf("generic label kept: %q", got)
	}
	if got := StripArtifacts("clean already", "Nova"); got != "clean already" {
		t.Fatalf("clean content altered: %q", got)
	}

	withInvisible := "a​b‌c"
	if got := StripArtifacts(withInvisible, ""); got != "abc" {
		t.Fatalf("invisible characters kept: %q", got)
	}
	if strings.ContainsRune(StripArtifacts("x\uFEFFy", ""), '\uFEFF') {
		t.Fatal("BOM survived stripping")
	}
}
