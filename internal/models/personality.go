package models

// LoadedPersonality is the fully resolved agent configuration. It is
// loaded once per request from storage and treated as read-only by the
// pipeline.
type LoadedPersonality struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`

	TextModel   string `json:"text_model"`
	VisionModel string `json:"vision_model,omitempty"`

	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	ReasoningEffort  string   `json:"reasoning_effort,omitempty"`
	MaxOutputTokens  int      `json:"max_output_tokens,omitempty"`

	ContextWindowTokens  int     `json:"context_window_tokens"`
	MemoryScoreThreshold float64 `json:"memory_score_threshold"`
	MemoryLimit          int     `json:"memory_limit"`

	// Extended-context overrides narrow the default history cap.
	ExtendedContextMaxMessages   int `json:"extended_context_max_messages,omitempty"`
	ExtendedContextMaxAgeMinutes int `json:"extended_context_max_age_minutes,omitempty"`

	SystemPrompt       string `json:"system_prompt"`
	CharacterInfo      string `json:"character_info,omitempty"`
	CustomErrorMessage string `json:"custom_error_message,omitempty"`
	ShowThinking       bool   `json:"show_thinking,omitempty"`

	// APIKey is a BYOK override; empty means the provider default key.
	APIKey string `json:"api_key,omitempty"`
}
