package ai

import (
	"regexp"
	"strings"
)

var (
	thinkRe = regexp.MustCompile(`(?s)<think(?:ing)?>(.*?)</think(?:ing)?>\s*`)

	// zero-width and BOM characters some providers leak into output
	invisibleRe = regexp.MustCompile("[​‌‍\uFEFF]")
)

// ExtractThinking pulls <think>/<thinking> reasoning blocks out of the
// content. The blocks are surfaced to users only when the personality
// sets ShowThinking; they always land in diagnostics.
func ExtractThinking(content string) (thinking, rest string) {
	matches := thinkRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return "", content
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			blocks = append(blocks, t)
		}
	}
	rest = strings.TrimSpace(thinkRe.ReplaceAllString(content, ""))
	return strings.Join(blocks, "\n\n"), rest
}

// minEchoLength guards against stripping short coincidental overlaps.
const minEchoLength = 24

// StripPreviousEcho removes a leading duplicate of the previous
// assistant turn, which some models emit when the prompt ends with
// their own last message.
func StripPreviousEcho(content, previousTurn string) string {
	prev := strings.TrimSpace(previousTurn)
	if len(prev) < minEchoLength {
		return content
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, prev) {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, prev))
	}
	return content
}

// StripArtifacts removes known generation artifacts: a leading
// speaker label matching the persona, generic role labels, and
// invisible characters.
func StripArtifacts(content, personaName string) string {
	out := invisibleRe.ReplaceAllString(content, "")
	out = strings.TrimSpace(out)
	for _, label := range speakerLabels(personaName) {
		if strings.HasPrefix(out, label) {
			out = strings.TrimSpace(strings.TrimPrefix(out, label))
			break
		}
	}
	return out
}

func speakerLabels(personaName string) []string {
	labels := []string{"Assistant:", "assistant:"}
	if personaName != "" {
		labels = append([]string{
			personaName + ":",
			"**" + personaName + ":**",
			"**" + personaName + "**:",
		}, labels...)
	}
	return labels
}
