package diag

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	redis "personagen/internal/redis"
)

// Pipeline stage names as recorded in FailedStep / LastSuccessfulStep.
const (
	StageInputProcessing      = "input_processing"
	StageDependencyResolution = "dependency_resolution"
	StageMemoryRetrieval      = "memory_retrieval"
	StageTokenBudget          = "token_budget"
	StagePromptAssembly       = "prompt_assembly"
	StageLLMGeneration        = "llm_generation"
	StagePostProcessing       = "post_processing"
	StageDelivery             = "delivery"
)

const (
	defaultDiagTTL = 24 * time.Hour

	// previewLimit applies to convenience previews only. The assembled
	// prompt and the raw response are stored in full: this payload
	// exists to debug malformed prompts, truncating them would defeat
	// its purpose.
	previewLimit = 500
)

type Meta struct {
	PersonalityName string    `json:"personality_name"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	UserID          string    `json:"user_id"`
	ChannelID       string    `json:"channel_id"`
	StartedAt       time.Time `json:"started_at"`
}

type InputProcessingRecord struct {
	MessagePreview     string `json:"message_preview"`
	HistoryMessages    int    `json:"history_messages"`
	Attachments        int    `json:"attachments"`
	ReferencedMessages int    `json:"referenced_messages"`
	Dependencies       int    `json:"dependencies"`
	DependenciesFailed int    `json:"dependencies_failed"`
}

type MemoryRetrievalRecord struct {
	QueryPreview string    `json:"query_preview"`
	FocusMode    bool      `json:"focus_mode"`
	Threshold    float64   `json:"threshold"`
	Limit        int       `json:"limit"`
	Found        int       `json:"found"`
	TopScores    []float64 `json:"top_scores,omitempty"`
}

type TokenBudgetRecord struct {
	Budget                 int `json:"budget"`
	SystemTokens           int `json:"system_tokens"`
	HistoryTokens          int `json:"history_tokens"`
	MemoryTokens           int `json:"memory_tokens"`
	TotalTokens            int `json:"total_tokens"`
	HistoryAdmitted        int `json:"history_admitted"`
	HistoryMessagesDropped int `json:"history_messages_dropped"`
	MemoriesAdmitted       int `json:"memories_admitted"`
	MemoriesDropped        int `json:"memories_dropped"`
}

type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"` // full, never truncated
}

type AssembledPromptRecord struct {
	Messages []PromptMessage `json:"messages"`
}

type LLMConfigRecord struct {
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"top_p,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	ConfigSource    string   `json:"config_source"`
}

type LLMResponseRecord struct {
	RawContent       string `json:"raw_content"` // full, never truncated
	Attempts         int    `json:"attempts"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Error            string `json:"error,omitempty"`
}

type PostProcessingRecord struct {
	ThinkingExtracted bool   `json:"thinking_extracted"`
	EchoStripped      bool   `json:"echo_stripped"`
	FinalPreview      string `json:"final_preview"`
}

type TimingRecord struct {
	StageMs map[string]int64 `json:"stage_ms"`
	TotalMs int64            `json:"total_ms"`
}

// DiagnosticPayload is the flight-recorder record: one per request,
// covering every pipeline stage plus timing. Partial payloads are
// expected when the pipeline aborts early.
type DiagnosticPayload struct {
	RequestID string `json:"request_id"`
	Meta      Meta   `json:"meta"`

	InputProcessing *InputProcessingRecord `json:"input_processing,omitempty"`
	MemoryRetrieval *MemoryRetrievalRecord `json:"memory_retrieval,omitempty"`
	TokenBudget     *TokenBudgetRecord     `json:"token_budget,omitempty"`
	AssembledPrompt *AssembledPromptRecord `json:"assembled_prompt,omitempty"`
	LLMConfig       *LLMConfigRecord       `json:"llm_config,omitempty"`
	LLMResponse     *LLMResponseRecord     `json:"llm_response,omitempty"`
	PostProcessing  *PostProcessingRecord  `json:"post_processing,omitempty"`
	Timing          TimingRecord           `json:"timing"`

	LastSuccessfulStep string `json:"last_successful_step,omitempty"`
	FailedStep         string `json:"failed_step,omitempty"`
}

// Recorder persists diagnostic payloads keyed by request id. It is a
// pure observer: the only side effect is the Redis write, and write
// failures never fail the request.
type Recorder struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRecorder(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Recorder {
	if ttl <= 0 {
		ttl = defaultDiagTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{client: client, ttl: ttl, logger: logger.Named("flightrecorder")}
}

// Begin opens a trace for one request.
func (r *Recorder) Begin(requestID string, meta Meta) *Trace {
	meta.StartedAt = time.Now().UTC()
	return &Trace{
		recorder: r,
		payload: DiagnosticPayload{
			RequestID: requestID,
			Meta:      meta,
			Timing:    TimingRecord{StageMs: make(map[string]int64)},
		},
	}
}

// Trace accumulates one request's DiagnosticPayload.
type Trace struct {
	recorder *Recorder
	mu       sync.Mutex
	payload  DiagnosticPayload
}

func (t *Trace) StageDone(stage string, took time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload.Timing.StageMs[stage] = took.Milliseconds()
	t.payload.LastSuccessfulStep = stage
}

func (t *Trace) StageFailed(stage string, took time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload.Timing.StageMs[stage] = took.Milliseconds()
	t.payload.FailedStep = stage
}

func (t *Trace) SetInputProcessing(rec InputProcessingRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec.MessagePreview = Preview(rec.MessagePreview)
	t.payload.InputProcessing = &rec
}

func (t *Trace) SetMemoryRetrieval(rec MemoryRetrievalRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec.QueryPreview = Preview(rec.QueryPreview)
	t.payload.MemoryRetrieval = &rec
}

func (t *Trace) SetTokenBudget(rec TokenBudgetRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload.TokenBudget = &rec
}

// SetAssembledPrompt stores the prompt in full.
func (t *Trace) SetAssembledPrompt(messages []PromptMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload.AssembledPrompt = &AssembledPromptRecord{Messages: messages}
}

func (t *Trace) SetLLMConfig(rec LLMConfigRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload.LLMConfig = &rec
}

// SetLLMResponse stores the raw response in full.
func (t *Trace) SetLLMResponse(rec LLMResponseRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload.LLMResponse = &rec
}

func (t *Trace) SetPostProcessing(rec PostProcessingRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec.FinalPreview = Preview(rec.FinalPreview)
	t.payload.PostProcessing = &rec
}

// Payload returns a copy of the accumulated record.
func (t *Trace) Payload() DiagnosticPayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.payload
}

// Flush persists the payload. Errors are logged, never propagated.
func (t *Trace) Flush(ctx context.Context) {
	t.mu.Lock()
	t.payload.Timing.TotalMs = time.Since(t.payload.Meta.StartedAt).Milliseconds()
	data, err := json.Marshal(t.payload)
	requestID := t.payload.RequestID
	t.mu.Unlock()
	if err != nil {
		t.recorder.logger.Error("diagnostic encode failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	if err := t.recorder.client.Set(ctx, diagKey(requestID), data, t.recorder.ttl); err != nil {
		t.recorder.logger.Warn("diagnostic write failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

// Get loads a stored payload; found=false on miss.
func (r *Recorder) Get(ctx context.Context, requestID string) (*DiagnosticPayload, bool, error) {
	raw, err := r.client.Get(ctx, diagKey(requestID))
	if err == redis.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var payload DiagnosticPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false, err
	}
	return &payload, true, nil
}

func diagKey(requestID string) string { return "diag:" + requestID }

// Preview truncates text fields that only need to orient a reader.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "…"
}
