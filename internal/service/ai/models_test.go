package ai

import (
	"testing"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"personagen/internal/models"
)

func TestOpenAISamplingApplied(t *testing.T) {
	freq := float32(0.4)
	pres := float32(-0.2)
	p := &models.LoadedPersonality{
		Provider:         "openai",
		FrequencyPenalty: &freq,
		PresencePenalty:  &pres,
		ReasoningEffort:  "high",
	}
	cfg := &openai.ChatModelConfig{}
	applyOpenAISampling(cfg, p)

	if cfg.FrequencyPenalty == nil || *cfg.FrequencyPenalty != 0.4 {
		t.Fatalf("frequency penalty not applied: %+v", cfg.FrequencyPenalty)
	}
	if cfg.PresencePenalty == nil || *cfg.PresencePenalty != -0.2 {
		t.Fatalf("presence penalty not applied: %+v", cfg.PresencePenalty)
	}
	if string(cfg.ReasoningEffort) != "high" {
		t.Fatalf("reasoning effort = %q, want high", cfg.ReasoningEffort)
	}
}

func TestOpenAISamplingLeavesUnsetAlone(t *testing.T) {
	cfg := &openai.ChatModelConfig{}
	applyOpenAISampling(cfg, &models.LoadedPersonality{Provider: "openai"})
	if cfg.FrequencyPenalty != nil || cfg.PresencePenalty != nil || cfg.ReasoningEffort != "" {
		t.Fatalf("unset parameters leaked into config: %+v", cfg)
	}
}

func TestClaudeTopKApplied(t *testing.T) {
	k := 40
	cfg := &claude.Config{}
	applyClaudeSampling(cfg, &models.LoadedPersonality{Provider: "claude", TopK: &k})
	if cfg.TopK == nil || *cfg.TopK != 40 {
		t.Fatalf("top-k not applied: %+v", cfg.TopK)
	}

	cfg = &claude.Config{}
	applyClaudeSampling(cfg, &models.LoadedPersonality{Provider: "claude"})
	if cfg.TopK != nil {
		t.Fatalf("top-k set without a value: %+v", cfg.TopK)
	}
}

func TestGeminiTopKApplied(t *testing.T) {
	k := 64
	cfg := &gemini.Config{}
	applyGeminiSampling(cfg, &models.LoadedPersonality{Provider: "gemini", TopK: &k})
	if cfg.TopK == nil || *cfg.TopK != 64 {
		t.Fatalf("top-k not applied: %+v", cfg.TopK)
	}
}
