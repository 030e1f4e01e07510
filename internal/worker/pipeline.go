package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"personagen/internal/config"
	"personagen/internal/diag"
	"personagen/internal/jobs"
	"personagen/internal/models"
	"personagen/internal/queue"
	"personagen/internal/service/ai"
	"personagen/internal/service/prompt"
)

// Collaborator contracts, narrowed for testability.

type ContextAssembler interface {
	Assemble(ctx context.Context, rc *models.RequestContext, p *models.LoadedPersonality)
}

type MemoryRetriever interface {
	Retrieve(ctx context.Context, rc *models.RequestContext, p *models.LoadedPersonality, query string) []models.MemoryEntry
}

type Generator interface {
	Generate(ctx context.Context, p *models.LoadedPersonality, messages []*schema.Message, previousTurn string) (*ai.Output, error)
}

type ResultSink interface {
	SaveGeneration(ctx context.Context, res *jobs.LLMGenerationResult) error
	GetGeneration(ctx context.Context, requestID string) (*jobs.LLMGenerationResult, bool, error)
	SavePreprocess(ctx context.Context, key string, result any) error
	DropPreprocess(ctx context.Context, keys ...string) error
	MarkDelivered(ctx context.Context, requestID string) (bool, error)
}

type Deferrer interface {
	Defer(ctx context.Context, env queue.Envelope, readyAt time.Time) error
}

type Deliverer interface {
	Deliver(ctx context.Context, dest jobs.ResponseDestination, result *jobs.LLMGenerationResult) error
}

type MemoryWriter interface {
	Write(ctx context.Context, personalityID int64, userID, channelID, content string, embedding []byte) error
}

type HistoryAppender interface {
	Append(ctx context.Context, channelID string, m models.ChatMessage) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, job *jobs.AudioTranscriptionJobData) *jobs.AudioTranscriptionResult
}

type Describer interface {
	Describe(ctx context.Context, job *jobs.ImageDescriptionJobData) *jobs.ImageDescriptionResult
}

const (
	defaultDependencyPoll = 2 * time.Second
	defaultDependencyWait = 2 * time.Minute
)

// Manager runs the generation pipeline for each consumed envelope.
// Stages within one request are strictly sequential; requests only
// share read-only collaborators, so no cross-request locking exists.
type Manager struct {
	assembler ContextAssembler
	retriever MemoryRetriever
	generator Generator
	results   ResultSink
	deferrals Deferrer
	deliverer Deliverer
	memories  MemoryWriter
	history   HistoryAppender
	resolver  *Resolver
	recorder  *diag.Recorder
	logger    *zap.Logger

	dependencyPoll time.Duration
	dependencyWait time.Duration

	transcriber Transcriber
	describer   Describer
}

type ManagerDeps struct {
	Assembler   ContextAssembler
	Retriever   MemoryRetriever
	Generator   Generator
	Results     ResultSink
	Deferrals   Deferrer
	Deliverer   Deliverer
	Memories    MemoryWriter
	History     HistoryAppender
	Resolver    *Resolver
	Recorder    *diag.Recorder
	Transcriber Transcriber
	Describer   Describer
}

func NewManager(cfg *config.Config, deps ManagerDeps, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := time.Duration(cfg.Pipeline.DependencyPollMs) * time.Millisecond
	if poll <= 0 {
		poll = defaultDependencyPoll
	}
	wait := time.Duration(cfg.Pipeline.DependencyWaitMs) * time.Millisecond
	if wait <= 0 {
		wait = defaultDependencyWait
	}
	return &Manager{
		assembler:      deps.Assembler,
		retriever:      deps.Retriever,
		generator:      deps.Generator,
		results:        deps.Results,
		deferrals:      deps.Deferrals,
		deliverer:      deps.Deliverer,
		memories:       deps.Memories,
		history:        deps.History,
		resolver:       deps.Resolver,
		recorder:       deps.Recorder,
		transcriber:    deps.Transcriber,
		describer:      deps.Describer,
		logger:         logger.Named("pipeline"),
		dependencyPoll: poll,
		dependencyWait: wait,
	}
}

// Handle processes one consumed envelope.
func (m *Manager) Handle(ctx context.Context, env queue.Envelope) {
	switch env.Kind {
	case jobs.JobLLMGeneration:
		m.handleGeneration(ctx, env)
	case jobs.JobAudioTranscription:
		m.handleTranscription(ctx, env)
	case jobs.JobImageDescription:
		m.handleDescription(ctx, env)
	default:
		m.logger.Warn("dropping envelope of unknown kind", zap.String("kind", string(env.Kind)))
	}
}

func (m *Manager) handleTranscription(ctx context.Context, env queue.Envelope) {
	var job jobs.AudioTranscriptionJobData
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		m.logger.Error("transcription payload decode failed", zap.Error(err))
		return
	}
	if err := job.Validate(); err != nil {
		m.logger.Error("transcription payload invalid", zap.String("request_id", job.RequestID), zap.Error(err))
		return
	}
	res := m.transcriber.Transcribe(ctx, &job)
	key := queue.PreprocessResultKey(jobs.JobAudioTranscription, job.RequestID)
	if err := m.results.SavePreprocess(ctx, key, res); err != nil {
		m.logger.Error("transcription result store failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}
}

func (m *Manager) handleDescription(ctx context.Context, env queue.Envelope) {
	var job jobs.ImageDescriptionJobData
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		m.logger.Error("description payload decode failed", zap.Error(err))
		return
	}
	if err := job.Validate(); err != nil {
		m.logger.Error("description payload invalid", zap.String("request_id", job.RequestID), zap.Error(err))
		return
	}
	res := m.describer.Describe(ctx, &job)
	key := queue.PreprocessResultKey(jobs.JobImageDescription, job.RequestID)
	if err := m.results.SavePreprocess(ctx, key, res); err != nil {
		m.logger.Error("description result store failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}
}

func (m *Manager) handleGeneration(ctx context.Context, env queue.Envelope) {
	var job jobs.LLMGenerationJobData
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		m.logger.Error("generation payload decode failed", zap.Error(err))
		return
	}
	if err := job.Validate(); err != nil {
		m.logger.Error("generation payload invalid", zap.String("request_id", job.RequestID), zap.Error(err))
		return
	}

	// stream delivery is at-least-once; consumption must be idempotent
	if _, found, err := m.results.GetGeneration(ctx, job.RequestID); err == nil && found {
		m.logger.Info("generation already completed, skipping", zap.String("request_id", job.RequestID))
		return
	}

	// Dependency gate runs before the heavyweight stages so a waiting
	// job re-parks without holding a worker for its full duration.
	resolution := m.resolver.Resolve(ctx, job.RequestID, job.Dependencies)
	if resolution.State == jobs.StateAwaitingDependencies {
		if time.Since(env.FirstSeenAt) > m.dependencyWait {
			m.failDependencyTimeout(ctx, &job, resolution)
			return
		}
		if err := m.deferrals.Defer(ctx, env, time.Now().Add(m.dependencyPoll)); err != nil {
			m.logger.Error("dependency defer failed", zap.String("request_id", job.RequestID), zap.Error(err))
		}
		return
	}
	mergePreprocessed(&job.Context, resolution.Preprocessed)

	m.runPipeline(ctx, &job, resolution)
	m.resolver.Forget(job.RequestID)
	m.dropConsumedResults(ctx, &job)
}

func (m *Manager) dropConsumedResults(ctx context.Context, job *jobs.LLMGenerationJobData) {
	if len(job.Dependencies) == 0 {
		return
	}
	keys := make([]string, 0, len(job.Dependencies))
	for _, dep := range job.Dependencies {
		if dep.ResultKey != "" {
			keys = append(keys, dep.ResultKey)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := m.results.DropPreprocess(ctx, keys...); err != nil {
		m.logger.Warn("dropping preprocess results failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}
}

func (m *Manager) runPipeline(ctx context.Context, job *jobs.LLMGenerationJobData, resolution Resolution) {
	p := &job.Personality
	trace := m.recorder.Begin(job.RequestID, diag.Meta{
		PersonalityName: p.Name,
		Provider:        p.Provider,
		Model:           p.TextModel,
		UserID:          job.Context.User.DiscordID,
		ChannelID:       job.Context.Environment.ChannelID,
	})
	defer trace.Flush(ctx)
	started := time.Now()

	// input processing
	stageStart := time.Now()
	m.assembler.Assemble(ctx, &job.Context, p)
	trace.SetInputProcessing(diag.InputProcessingRecord{
		MessagePreview:     job.Message.Text,
		HistoryMessages:    len(job.Context.ConversationHistory),
		Attachments:        len(job.Context.Attachments),
		ReferencedMessages: len(job.Context.ReferencedMessages),
		Dependencies:       len(job.Dependencies),
		DependenciesFailed: resolution.Failed,
	})
	trace.StageDone(diag.StageInputProcessing, time.Since(stageStart))
	trace.StageDone(diag.StageDependencyResolution, 0)

	// memory retrieval
	stageStart = time.Now()
	memories := m.retriever.Retrieve(ctx, &job.Context, p, job.Message.Text)
	trace.SetMemoryRetrieval(diag.MemoryRetrievalRecord{
		QueryPreview: job.Message.Text,
		FocusMode:    job.Context.FocusMode,
		Threshold:    p.MemoryScoreThreshold,
		Limit:        p.MemoryLimit,
		Found:        len(memories),
		TopScores:    topScores(memories),
	})
	trace.StageDone(diag.StageMemoryRetrieval, time.Since(stageStart))

	// token budget
	stageStart = time.Now()
	systemText := prompt.SystemText(p, &job.Context)
	alloc, err := prompt.Allocate(p.ContextWindowTokens, systemText, job.Context.ConversationHistory, memories)
	if err != nil {
		trace.StageFailed(diag.StageTokenBudget, time.Since(stageStart))
		m.failRequest(ctx, job, started, diag.StageTokenBudget, len(memories), alloc, jobs.ErrorInfo{
			Type:        jobs.ErrorPermanent,
			Category:    jobs.CategoryValidation,
			UserMessage: userMessage(p, "This personality's prompt does not fit its context window."),
			ReferenceID: newReferenceID(),
		})
		m.logger.Error("token budget allocation failed", zap.String("request_id", job.RequestID), zap.Error(err))
		return
	}
	trace.SetTokenBudget(diag.TokenBudgetRecord{
		Budget:                 alloc.Budget,
		SystemTokens:           alloc.SystemTokens,
		HistoryTokens:          alloc.HistoryTokens,
		MemoryTokens:           alloc.MemoryTokens,
		TotalTokens:            alloc.TotalTokens(),
		HistoryAdmitted:        len(alloc.History),
		HistoryMessagesDropped: alloc.HistoryMessagesDropped,
		MemoriesAdmitted:       len(alloc.Memories),
		MemoriesDropped:        alloc.MemoriesDropped,
	})
	trace.StageDone(diag.StageTokenBudget, time.Since(stageStart))

	// prompt assembly: the recorded prompt and the executed prompt are
	// the same slice
	stageStart = time.Now()
	messages := prompt.Assemble(job, alloc)
	trace.SetAssembledPrompt(promptRecord(messages))
	trace.SetLLMConfig(diag.LLMConfigRecord{
		Provider:        p.Provider,
		Model:           p.TextModel,
		Temperature:     p.Temperature,
		TopP:            p.TopP,
		MaxOutputTokens: p.MaxOutputTokens,
		ConfigSource:    "personality",
	})
	trace.StageDone(diag.StagePromptAssembly, time.Since(stageStart))

	// llm generation
	stageStart = time.Now()
	out, err := m.generator.Generate(ctx, p, messages, lastAssistantTurn(job.Context.ConversationHistory))
	if err != nil {
		info := ai.Classify(err)
		info.UserMessage = userMessage(p, info.UserMessage)
		if out != nil {
			trace.SetLLMResponse(diag.LLMResponseRecord{Attempts: out.Attempts, Error: err.Error()})
		} else {
			trace.SetLLMResponse(diag.LLMResponseRecord{Error: err.Error()})
		}
		trace.StageFailed(diag.StageLLMGeneration, time.Since(stageStart))
		m.failRequest(ctx, job, started, diag.StageLLMGeneration, len(memories), alloc, info)
		m.logger.Warn("generation failed",
			zap.String("request_id", job.RequestID),
			zap.String("category", info.Category),
			zap.String("reference_id", info.ReferenceID),
			zap.Error(err))
		return
	}
	trace.SetLLMResponse(diag.LLMResponseRecord{
		RawContent:       out.RawContent,
		Attempts:         out.Attempts,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		TotalTokens:      out.TotalTokens,
	})
	trace.StageDone(diag.StageLLMGeneration, time.Since(stageStart))

	// post-processing happened inside the executor; record its effects
	stageStart = time.Now()
	trace.SetPostProcessing(diag.PostProcessingRecord{
		ThinkingExtracted: out.Thinking != "",
		EchoStripped:      out.Content != out.RawContent,
		FinalPreview:      out.Content,
	})
	trace.StageDone(diag.StagePostProcessing, time.Since(stageStart))

	result := &jobs.LLMGenerationResult{
		Version:   jobs.CurrentVersion,
		RequestID: job.RequestID,
		Success:   true,
		Content:   out.Content,
		Metadata: jobs.GenerationMetadata{
			PromptTokens:           out.PromptTokens,
			CompletionTokens:       out.CompletionTokens,
			TotalTokens:            out.TotalTokens,
			ProcessingMs:           time.Since(started).Milliseconds(),
			Model:                  out.Model,
			ConfigSource:           "personality",
			FocusMode:              job.Context.FocusMode,
			IncognitoMode:          job.Context.IncognitoMode,
			MemoriesFound:          len(memories),
			MemoriesDropped:        alloc.MemoriesDropped,
			HistoryMessagesDropped: alloc.HistoryMessagesDropped,
		},
	}
	if p.ShowThinking {
		result.Metadata.Thinking = out.Thinking
	}

	if err := m.results.SaveGeneration(ctx, result); err != nil {
		m.logger.Error("result store failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}

	stageStart = time.Now()
	if err := m.deliverer.Deliver(ctx, job.ResponseDestination, result); err != nil {
		trace.StageFailed(diag.StageDelivery, time.Since(stageStart))
		m.logger.Error("delivery failed", zap.String("request_id", job.RequestID), zap.Error(err))
	} else {
		// api destinations are polled; the consumer confirms receipt
		// itself via the confirm endpoint.
		if job.ResponseDestination.Kind != jobs.DestinationAPI {
			if _, err := m.results.MarkDelivered(ctx, job.RequestID); err != nil {
				m.logger.Warn("delivery confirmation failed", zap.String("request_id", job.RequestID), zap.Error(err))
			}
		}
		trace.StageDone(diag.StageDelivery, time.Since(stageStart))
	}

	m.persistTurns(ctx, job, out.Content)
}

// failRequest persists and delivers a terminal failure. Every failure
// carries a human-readable message; raw provider errors stay in the
// diagnostic payload only.
func (m *Manager) failRequest(ctx context.Context, job *jobs.LLMGenerationJobData, started time.Time, failedStep string, memoriesFound int, alloc prompt.Allocation, info jobs.ErrorInfo) {
	result := &jobs.LLMGenerationResult{
		Version:   jobs.CurrentVersion,
		RequestID: job.RequestID,
		Success:   false,
		Error:     &info,
		Metadata: jobs.GenerationMetadata{
			ProcessingMs:           time.Since(started).Milliseconds(),
			Model:                  job.Personality.TextModel,
			ConfigSource:           "personality",
			FocusMode:              job.Context.FocusMode,
			IncognitoMode:          job.Context.IncognitoMode,
			MemoriesFound:          memoriesFound,
			MemoriesDropped:        alloc.MemoriesDropped,
			HistoryMessagesDropped: alloc.HistoryMessagesDropped,
			FailedStep:             failedStep,
		},
	}
	if err := m.results.SaveGeneration(ctx, result); err != nil {
		m.logger.Error("failure result store failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}
	if err := m.deliverer.Deliver(ctx, job.ResponseDestination, result); err != nil {
		m.logger.Error("failure delivery failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}
}

func (m *Manager) failDependencyTimeout(ctx context.Context, job *jobs.LLMGenerationJobData, resolution Resolution) {
	trace := m.recorder.Begin(job.RequestID, diag.Meta{
		PersonalityName: job.Personality.Name,
		Provider:        job.Personality.Provider,
		Model:           job.Personality.TextModel,
		UserID:          job.Context.User.DiscordID,
		ChannelID:       job.Context.Environment.ChannelID,
	})
	trace.SetInputProcessing(diag.InputProcessingRecord{
		MessagePreview:     job.Message.Text,
		Dependencies:       len(job.Dependencies),
		DependenciesFailed: resolution.Failed,
	})
	trace.StageFailed(diag.StageDependencyResolution, 0)
	defer trace.Flush(ctx)

	m.logger.Warn("dependency wait budget exceeded",
		zap.String("request_id", job.RequestID),
		zap.Int("pending", resolution.Pending))
	m.failRequest(ctx, job, time.Now(), diag.StageDependencyResolution, 0, prompt.Allocation{}, jobs.ErrorInfo{
		Type:        jobs.ErrorPermanent,
		Category:    jobs.CategoryTimeout,
		UserMessage: userMessage(&job.Personality, "Processing the attached media took too long. Please try again."),
		ReferenceID: newReferenceID(),
	})
	m.resolver.Forget(job.RequestID)
}

// persistTurns writes the exchange back to shared history and, unless
// incognito mode is set, to long-term memory. Both are best-effort.
func (m *Manager) persistTurns(ctx context.Context, job *jobs.LLMGenerationJobData, reply string) {
	channelID := job.Context.Environment.ChannelID
	now := time.Now().UTC()
	if m.history != nil {
		userTurn := models.ChatMessage{
			MessageID: job.RequestID + ":user",
			AuthorID:  job.Context.User.DiscordID,
			Role:      models.RoleUser,
			Content:   job.Message.Text,
			CreatedAt: now,
		}
		assistantTurn := models.ChatMessage{
			MessageID: job.RequestID + ":assistant",
			AuthorID:  job.Personality.Name,
			Role:      models.RoleAssistant,
			Content:   reply,
			CreatedAt: now.Add(time.Millisecond),
		}
		for _, turn := range []models.ChatMessage{userTurn, assistantTurn} {
			if err := m.history.Append(ctx, channelID, turn); err != nil {
				m.logger.Warn("history append failed", zap.String("request_id", job.RequestID), zap.Error(err))
			}
		}
	}
	if m.memories != nil && !job.Context.IncognitoMode {
		err := m.memories.Write(ctx, job.Personality.ID, job.Context.User.DiscordID, channelID, job.Message.Text, nil)
		if err != nil {
			m.logger.Warn("memory write failed", zap.String("request_id", job.RequestID), zap.Error(err))
		}
	}
}

func mergePreprocessed(rc *models.RequestContext, merged map[int]models.PreprocessedAttachment) {
	if len(merged) == 0 {
		return
	}
	if rc.Preprocessed == nil {
		rc.Preprocessed = make(map[int]models.PreprocessedAttachment, len(merged))
	}
	for k, v := range merged {
		rc.Preprocessed[k] = v
	}
}

func promptRecord(messages []*schema.Message) []diag.PromptMessage {
	out := make([]diag.PromptMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, diag.PromptMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

func topScores(memories []models.MemoryEntry) []float64 {
	n := len(memories)
	if n > 5 {
		n = 5
	}
	scores := make([]float64, 0, n)
	for _, mem := range memories[:n] {
		scores = append(scores, mem.Score)
	}
	return scores
}

func lastAssistantTurn(history []models.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func userMessage(p *models.LoadedPersonality, fallback string) string {
	if p.CustomErrorMessage != "" {
		return p.CustomErrorMessage
	}
	return fallback
}

func newReferenceID() string { return uuid.NewString() }
