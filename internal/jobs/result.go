package jobs

import (
	"sort"
	"strings"
	"time"
)

// Error taxonomy. Transient errors are eligible for the bounded retry
// policy; permanent and unknown ones are not.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
	ErrorUnknown   = "unknown"
)

const (
	CategoryNetwork       = "network"
	CategoryTimeout       = "timeout"
	CategoryProvider      = "provider"
	CategoryContentPolicy = "content_policy"
	CategoryValidation    = "validation"
	CategoryAuth          = "authentication"
	CategoryDependency    = "dependency"
	CategoryInternal      = "internal"
	CategoryUnknown       = "unknown"
)

// ErrorInfo is the user-safe failure record. Raw provider errors never
// leave the diagnostic payload.
type ErrorInfo struct {
	Type        string `json:"type"`
	Category    string `json:"category"`
	Retryable   bool   `json:"retryable"`
	UserMessage string `json:"user_message"`
	ReferenceID string `json:"reference_id"`
}

type GenerationMetadata struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ProcessingMs     int64  `json:"processing_ms"`
	Model            string `json:"model"`
	ConfigSource     string `json:"config_source"`

	FocusMode     bool `json:"focus_mode"`
	IncognitoMode bool `json:"incognito_mode"`

	MemoriesFound          int `json:"memories_found"`
	MemoriesDropped        int `json:"memories_dropped"`
	HistoryMessagesDropped int `json:"history_messages_dropped"`

	Thinking   string `json:"thinking,omitempty"`
	FailedStep string `json:"failed_step,omitempty"`
}

// LLMGenerationResult is the outcome of one generation request.
// Created once by the executor; immutable; delivered at most once.
type LLMGenerationResult struct {
	Version   int                `json:"version"`
	RequestID string             `json:"request_id"`
	Success   bool               `json:"success"`
	Content   string             `json:"content,omitempty"`
	Metadata  GenerationMetadata `json:"metadata"`
	Error     *ErrorInfo         `json:"error,omitempty"`
}

type AudioTranscriptionResult struct {
	Version               int       `json:"version"`
	RequestID             string    `json:"request_id"`
	Success               bool      `json:"success"`
	Content               string    `json:"content,omitempty"`
	Error                 string    `json:"error,omitempty"`
	ProcessingMs          int64     `json:"processing_ms"`
	CompletedAt           time.Time `json:"completed_at"`
	SourceReferenceNumber int       `json:"source_reference_number,omitempty"`
}

// ImageDescriptionResult carries per-URL descriptions. FailedCount
// records partial failures; the job as a whole can still succeed.
type ImageDescriptionResult struct {
	Version               int               `json:"version"`
	RequestID             string            `json:"request_id"`
	Success               bool              `json:"success"`
	Descriptions          map[string]string `json:"descriptions,omitempty"`
	FailedCount           int               `json:"failed_count"`
	Error                 string            `json:"error,omitempty"`
	ProcessingMs          int64             `json:"processing_ms"`
	CompletedAt           time.Time         `json:"completed_at"`
	SourceReferenceNumber int               `json:"source_reference_number,omitempty"`
}

// Combined renders the per-URL descriptions as one block for prompt
// attribution, skipping failed URLs.
func (r *ImageDescriptionResult) Combined() string {
	if len(r.Descriptions) == 0 {
		return ""
	}
	urls := make([]string, 0, len(r.Descriptions))
	for u := range r.Descriptions {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	parts := make([]string, 0, len(urls))
	for _, u := range urls {
		parts = append(parts, r.Descriptions[u])
	}
	return strings.Join(parts, "\n")
}
