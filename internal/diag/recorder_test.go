package diag

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceAccumulatesStages(t *testing.T) {
	r := NewRecorder(nil, 0, nil)
	trace := r.Begin("req-1", Meta{PersonalityName: "Nova", Provider: "openai", Model: "gpt-test"})

	trace.SetInputProcessing(InputProcessingRecord{MessagePreview: "hi", HistoryMessages: 3})
	trace.StageDone(StageInputProcessing, 12*time.Millisecond)
	trace.StageDone(StageMemoryRetrieval, 4*time.Millisecond)

	payload := trace.Payload()
	require.Equal(t, "req-1", payload.RequestID)
	require.NotNil(t, payload.InputProcessing)
	assert.Equal(t, 3, payload.InputProcessing.HistoryMessages)
	assert.Equal(t, int64(12), payload.Timing.StageMs[StageInputProcessing])
	assert.Equal(t, StageMemoryRetrieval, payload.LastSuccessfulStep)
	assert.Empty(t, payload.FailedStep)
}

func TestTraceRecordsFailure(t *testing.T) {
	r := NewRecorder(nil, 0, nil)
	trace := r.Begin("req-2", Meta{})

	trace.StageDone(StageTokenBudget, time.Millisecond)
	trace.StageFailed(StageLLMGeneration, 90*time.Millisecond)

	payload := trace.Payload()
	assert.Equal(t, StageTokenBudget, payload.LastSuccessfulStep)
	assert.Equal(t, StageLLMGeneration, payload.FailedStep)
	// partial payload: later stages simply absent
	assert.Nil(t, payload.PostProcessing)
}

// The assembled prompt and raw response exist to debug malformed
// prompts; they must survive storage byte for byte.
func TestPromptAndResponseNeverTruncated(t *testing.T) {
	r := NewRecorder(nil, 0, nil)
	trace := r.Begin("req-3", Meta{})

	long := strings.Repeat("a very long system prompt segment. ", 200)
	trace.SetAssembledPrompt([]PromptMessage{{Role: "system", Content: long}})
	trace.SetLLMResponse(LLMResponseRecord{RawContent: long, Attempts: 2})

	payload := trace.Payload()
	require.NotNil(t, payload.AssembledPrompt)
	assert.Equal(t, long, payload.AssembledPrompt.Messages[0].Content)
	assert.Equal(t, long, payload.LLMResponse.RawContent)
}

func TestPreviewsTruncated(t *testing.T) {
	r := NewRecorder(nil, 0, nil)
	trace := r.Begin("req-4", Meta{})

	long := strings.Repeat("x", previewLimit*2)
	trace.SetInputProcessing(InputProcessingRecord{MessagePreview: long})
	trace.SetMemoryRetrieval(MemoryRetrievalRecord{QueryPreview: long})
	trace.SetPostProcessing(PostProcessingRecord{FinalPreview: long})

	payload := trace.Payload()
	assert.Less(t, len(payload.InputProcessing.MessagePreview), len(long))
	assert.Less(t, len(payload.MemoryRetrieval.QueryPreview), len(long))
	assert.Less(t, len(payload.PostProcessing.FinalPreview), len(long))
}

func TestFlushWithoutClientDoesNotPanic(t *testing.T) {
	r := NewRecorder(nil, 0, nil)
	trace := r.Begin("req-5", Meta{})
	trace.StageDone(StageDelivery, time.Millisecond)

	assert.NotPanics(t, func() { trace.Flush(t.Context()) })
}
