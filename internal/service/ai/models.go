package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"personagen/internal/config"
	"personagen/internal/models"
)

// ChatModel is the slice of eino's chat model the pipeline needs.
type ChatModel interface {
	Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

const defaultMaxTokens = 3000

// newChatModel builds the provider chat model for a personality. The
// personality's BYOK key overrides the configured provider key.
func newChatModel(ctx context.Context, provCfg config.ProviderConfig, p *models.LoadedPersonality, modelName string) (ChatModel, error) {
	apiKey := provCfg.APIKey
	if p.APIKey != "" {
		apiKey = p.APIKey
	}
	if modelName == "" {
		modelName = provCfg.Model
	}

	switch p.Provider {
	case "openai":
		cfg := &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  apiKey,
		}
		applyOpenAISampling(cfg, p)
		return openai.NewChatModel(ctx, cfg)
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		cfg := &gemini.Config{
			Client: client,
			Model:  modelName,
			ThinkingConfig: &genai.ThinkingConfig{
				IncludeThoughts: p.ShowThinking,
				ThinkingBudget:  nil,
			},
		}
		applyGeminiSampling(cfg, p)
		return gemini.NewChatModel(ctx, cfg)
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		maxTokens := p.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		cfg := &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		}
		applyClaudeSampling(cfg, p)
		return claude.NewChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("invalid provider: %s", p.Provider)
	}
}

// The penalties and reasoning effort are OpenAI request fields; top-k
// exists only on claude and gemini. Each helper sets what its provider
// honors and ignores the rest.

func applyOpenAISampling(cfg *openai.ChatModelConfig, p *models.LoadedPersonality) {
	cfg.FrequencyPenalty = p.FrequencyPenalty
	cfg.PresencePenalty = p.PresencePenalty
	if p.ReasoningEffort != "" {
		cfg.ReasoningEffort = openai.ReasoningEffortLevel(p.ReasoningEffort)
	}
}

func applyClaudeSampling(cfg *claude.Config, p *models.LoadedPersonality) {
	if p.TopK != nil {
		k := int32(*p.TopK)
		cfg.TopK = &k
	}
}

func applyGeminiSampling(cfg *gemini.Config, p *models.LoadedPersonality) {
	if p.TopK != nil {
		k := int32(*p.TopK)
		cfg.TopK = &k
	}
}

// NewTextModel builds the personality's text model.
func NewTextModel(ctx context.Context, cfg *config.Config, p *models.LoadedPersonality) (ChatModel, error) {
	provCfg, ok := cfg.Providers[p.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", p.Provider)
	}
	return newChatModel(ctx, provCfg, p, p.TextModel)
}

// NewVisionModel builds the personality's vision model, falling back
// to the provider's configured vision model.
func NewVisionModel(ctx context.Context, cfg *config.Config, p *models.LoadedPersonality) (ChatModel, error) {
	provCfg, ok := cfg.Providers[p.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", p.Provider)
	}
	visionModel := p.VisionModel
	if visionModel == "" {
		visionModel = provCfg.VisionModel
	}
	if visionModel == "" {
		return nil, fmt.Errorf("no vision model configured for provider %s", p.Provider)
	}
	return newChatModel(ctx, provCfg, p, visionModel)
}

// samplingOptions maps the cross-provider sampling parameters onto
// eino model options. Provider-bound parameters (top-k, penalties,
// reasoning effort) are set on the model config at construction.
func samplingOptions(p *models.LoadedPersonality) []model.Option {
	var opts []model.Option
	if p.Temperature != nil {
		opts = append(opts, model.WithTemperature(*p.Temperature))
	}
	if p.TopP != nil {
		opts = append(opts, model.WithTopP(*p.TopP))
	}
	if p.MaxOutputTokens > 0 {
		opts = append(opts, model.WithMaxTokens(p.MaxOutputTokens))
	}
	return opts
}
