package prompt

import "personagen/internal/models"

// EstimateTokens approximates the token cost of a text at four
// characters per token. Used when the producer did not pre-count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// messageTokens prices the history line as rendered in the prompt,
// author prefix included. Producer pre-counts cover the bare content,
// so the prefix overhead is added on top.
func messageTokens(m models.ChatMessage) int {
	rendered := historyContent(m)
	if m.Tokens > 0 {
		if overhead := len(rendered) - len(m.Content); overhead > 0 {
			return m.Tokens + EstimateTokens(rendered[:overhead])
		}
		return m.Tokens
	}
	return EstimateTokens(rendered)
}
