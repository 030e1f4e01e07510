package preprocess

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"personagen/internal/config"
	"personagen/internal/jobs"
	"personagen/internal/service/ai"
)

const describePrompt = "Describe this image concisely for someone who cannot see it. Mention any visible text verbatim."

// visionFactory is swapped out by tests.
var visionFactory = ai.NewVisionModel

// Describer produces per-URL image descriptions with the personality's
// vision model. A failed URL counts toward FailedCount; the job
// succeeds as long as at least one description landed.
type Describer struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewDescriber(cfg *config.Config, logger *zap.Logger) *Describer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{cfg: cfg, logger: logger.Named("describer")}
}

// Describe runs one image description job.
func (d *Describer) Describe(ctx context.Context, job *jobs.ImageDescriptionJobData) *jobs.ImageDescriptionResult {
	started := time.Now()
	result := &jobs.ImageDescriptionResult{
		Version:               jobs.CurrentVersion,
		RequestID:             job.RequestID,
		Descriptions:          make(map[string]string, len(job.Attachments)),
		SourceReferenceNumber: job.SourceReferenceNumber,
	}

	cm, err := visionFactory(ctx, d.cfg, &job.Personality)
	if err != nil {
		result.Error = fmt.Sprintf("build vision model: %v", err)
		result.FailedCount = len(job.Attachments)
		result.ProcessingMs = time.Since(started).Milliseconds()
		result.CompletedAt = time.Now().UTC()
		return result
	}

	for _, att := range job.Attachments {
		desc, err := d.describeOne(ctx, cm, att.URL)
		if err != nil {
			d.logger.Warn("image description failed",
				zap.String("request_id", job.RequestID), zap.String("url", att.URL), zap.Error(err))
			result.FailedCount++
			continue
		}
		result.Descriptions[att.URL] = desc
	}

	result.Success = len(result.Descriptions) > 0
	if !result.Success && result.Error == "" {
		result.Error = "all image descriptions failed"
	}
	result.ProcessingMs = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now().UTC()
	return result
}

func (d *Describer) describeOne(ctx context.Context, cm ai.ChatModel, url string) (string, error) {
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: describePrompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: url}},
		},
	}
	resp, err := cm.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
