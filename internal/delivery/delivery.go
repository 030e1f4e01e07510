package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"personagen/internal/config"
	"personagen/internal/jobs"
)

const (
	httpTimeout           = 30 * time.Second
	defaultDiscordAPIBase = "https://discord.com/api/v10"
)

// Router sends a finished generation result to its response
// destination. It only speaks each destination's REST contract;
// gateway concerns stay outside this service.
type Router struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewRouter(cfg *config.Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger.Named("delivery"),
	}
}

// Deliver routes the result. The api destination is a no-op: callers
// poll the result store.
func (r *Router) Deliver(ctx context.Context, dest jobs.ResponseDestination, result *jobs.LLMGenerationResult) error {
	switch dest.Kind {
	case jobs.DestinationDiscord:
		return r.deliverDiscord(ctx, dest, result)
	case jobs.DestinationWebhook:
		return r.deliverWebhook(ctx, dest, result)
	case jobs.DestinationAPI:
		return nil
	default:
		return fmt.Errorf("unknown destination kind %q", dest.Kind)
	}
}

func (r *Router) deliverDiscord(ctx context.Context, dest jobs.ResponseDestination, result *jobs.LLMGenerationResult) error {
	content := result.Content
	if !result.Success && result.Error != nil {
		content = result.Error.UserMessage
	}
	payload := map[string]any{"content": content}
	if dest.MessageID != "" {
		payload["message_reference"] = map[string]any{"message_id": dest.MessageID}
	}

	base := r.cfg.Discord.APIBaseURL
	if base == "" {
		base = defaultDiscordAPIBase
	}
	url := fmt.Sprintf("%s/channels/%s/messages", base, dest.ChannelID)
	return r.post(ctx, url, payload, "Bot "+r.cfg.Discord.BotToken)
}

func (r *Router) deliverWebhook(ctx context.Context, dest jobs.ResponseDestination, result *jobs.LLMGenerationResult) error {
	return r.post(ctx, dest.WebhookURL, result, "")
}

func (r *Router) post(ctx context.Context, url string, payload any, authorization string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("delivery endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
