package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"personagen/internal/config"
	"personagen/internal/jobs"
)

const (
	downloadTimeout   = 30 * time.Second
	transcribeTimeout = 120 * time.Second
	maxAudioBytes     = 25 << 20
)

// Transcriber sends audio attachments to a provider transcription
// endpoint (whisper-compatible multipart API).
type Transcriber struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewTranscriber(cfg *config.Config, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: transcribeTimeout},
		logger: logger.Named("transcriber"),
	}
}

// Transcribe runs one audio transcription job.
func (t *Transcriber) Transcribe(ctx context.Context, job *jobs.AudioTranscriptionJobData) *jobs.AudioTranscriptionResult {
	started := time.Now()
	result := &jobs.AudioTranscriptionResult{
		Version:               jobs.CurrentVersion,
		RequestID:             job.RequestID,
		SourceReferenceNumber: job.SourceReferenceNumber,
	}

	provCfg, ok := t.pickProvider()
	if !ok {
		result.Error = "no transcription provider configured"
		result.ProcessingMs = time.Since(started).Milliseconds()
		result.CompletedAt = time.Now().UTC()
		return result
	}

	audio, err := t.download(ctx, job.Attachment.URL)
	if err != nil {
		result.Error = fmt.Sprintf("download attachment: %v", err)
		result.ProcessingMs = time.Since(started).Milliseconds()
		result.CompletedAt = time.Now().UTC()
		return result
	}

	text, err := t.callEndpoint(ctx, provCfg, job.Attachment.Name, audio)
	result.ProcessingMs = time.Since(started).Milliseconds()
	if err != nil {
		t.logger.Warn("transcription failed", zap.String("request_id", job.RequestID), zap.Error(err))
		result.Error = err.Error()
		result.CompletedAt = time.Now().UTC()
		return result
	}
	result.Success = true
	result.Content = text
	result.CompletedAt = time.Now().UTC()
	return result
}

func (t *Transcriber) pickProvider() (config.ProviderConfig, bool) {
	for _, pc := range t.cfg.Providers {
		if pc.TranscriptionURL != "" {
			return pc, true
		}
	}
	return config.ProviderConfig{}, false
}

func (t *Transcriber) download(ctx context.Context, url string) ([]byte, error) {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
}

func (t *Transcriber) callEndpoint(ctx context.Context, provCfg config.ProviderConfig, filename string, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	model := provCfg.TranscriptionModel
	if model == "" {
		model = "whisper-1"
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provCfg.TranscriptionURL, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if provCfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provCfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return string(bytes.TrimSpace(respBody)), nil
}
