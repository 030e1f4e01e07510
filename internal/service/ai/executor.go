package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"personagen/internal/config"
	"personagen/internal/models"
	"personagen/internal/service/prompt"
)

// modelFactory is swapped out by tests.
var modelFactory = NewTextModel

// Output is the raw model response plus post-processed content.
type Output struct {
	Content    string
	RawContent string
	Thinking   string
	Model      string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Attempts         int
}

// Executor invokes the configured model with the assembled prompt and
// applies post-processing. Retries are bounded and apply only to
// transient errors.
type Executor struct {
	cfg    *config.Config
	logger *zap.Logger

	maxAttempts     int
	retryInitial    time.Duration
	retryMaxElapsed time.Duration
}

func NewExecutor(cfg *config.Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc := cfg.Pipeline
	maxAttempts := pc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryInitial := time.Duration(pc.RetryInitialMs) * time.Millisecond
	if retryInitial <= 0 {
		retryInitial = 500 * time.Millisecond
	}
	retryMaxElapsed := time.Duration(pc.RetryMaxElapsedMs) * time.Millisecond
	if retryMaxElapsed <= 0 {
		retryMaxElapsed = 60 * time.Second
	}
	return &Executor{
		cfg:             cfg,
		logger:          logger.Named("executor"),
		maxAttempts:     maxAttempts,
		retryInitial:    retryInitial,
		retryMaxElapsed: retryMaxElapsed,
	}
}

// Generate calls the model with the exact assembled message list.
// previousTurn is the personality's latest assistant message, used for
// duplicate-echo stripping.
func (e *Executor) Generate(ctx context.Context, p *models.LoadedPersonality, messages []*schema.Message, previousTurn string) (*Output, error) {
	cm, err := modelFactory(ctx, e.cfg, p)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}
	opts := samplingOptions(p)

	var (
		resp     *schema.Message
		attempts int
	)
	operation := func() error {
		attempts++
		var genErr error
		resp, genErr = cm.Generate(ctx, messages, opts...)
		if genErr == nil {
			return nil
		}
		if info := Classify(genErr); !info.Retryable {
			return backoff.Permanent(genErr)
		}
		e.logger.Warn("transient provider error, will retry",
			zap.Int("attempt", attempts), zap.Error(genErr))
		return genErr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxElapsedTime = e.retryMaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return &Output{Attempts: attempts, Model: p.TextModel}, err
	}

	out := &Output{
		RawContent: resp.Content,
		Model:      p.TextModel,
		Attempts:   attempts,
	}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		out.PromptTokens = resp.ResponseMeta.Usage.PromptTokens
		out.CompletionTokens = resp.ResponseMeta.Usage.CompletionTokens
		out.TotalTokens = resp.ResponseMeta.Usage.TotalTokens
	}
	if out.TotalTokens == 0 {
		out.PromptTokens = promptCost(messages)
		out.CompletionTokens = prompt.EstimateTokens(resp.Content)
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}

	thinking, content := ExtractThinking(resp.Content)
	content = StripPreviousEcho(content, previousTurn)
	content = StripArtifacts(content, p.Name)
	out.Thinking = thinking
	out.Content = content
	return out, nil
}

func promptCost(messages []*schema.Message) int {
	total := 0
	for _, m := range messages {
		total += prompt.EstimateTokens(m.Content)
	}
	return total
}
