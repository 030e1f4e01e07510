package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"personagen/internal/jobs"
	redis "personagen/internal/redis"
)

const defaultResultTTL = time.Hour

// ResultStore persists job results and delivery confirmations in
// Redis. Generation results are written once (first write wins) so
// repeated status reads always return identical content.
type ResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultStore(client *redis.Client, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &ResultStore{client: client, ttl: ttl}
}

func generationKey(requestID string) string { return "result:generation:" + requestID }
func deliveredKey(requestID string) string  { return "delivered:" + requestID }

// PreprocessResultKey names the slot a preprocessing job writes to and
// a JobDependency's ResultKey points at.
func PreprocessResultKey(jobType jobs.JobType, jobID string) string {
	return fmt.Sprintf("result:%s:%s", jobType, jobID)
}

// SaveGeneration stores the result unless one already exists.
func (s *ResultStore) SaveGeneration(ctx context.Context, res *jobs.LLMGenerationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode generation result: %w", err)
	}
	if _, err := s.client.SetNX(ctx, generationKey(res.RequestID), data, s.ttl); err != nil {
		return fmt.Errorf("store generation result: %w", err)
	}
	return nil
}

// GetGeneration fetches a stored result; found=false on miss.
func (s *ResultStore) GetGeneration(ctx context.Context, requestID string) (*jobs.LLMGenerationResult, bool, error) {
	raw, err := s.client.Get(ctx, generationKey(requestID))
	if err == redis.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load generation result: %w", err)
	}
	var res jobs.LLMGenerationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, false, fmt.Errorf("decode generation result: %w", err)
	}
	return &res, true, nil
}

// SavePreprocess stores a transcription or description result under
// its dependency result key.
func (s *ResultStore) SavePreprocess(ctx context.Context, key string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode preprocess result: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl); err != nil {
		return fmt.Errorf("store preprocess result: %w", err)
	}
	return nil
}

// GetTranscription loads a transcription result by key; found=false on miss.
func (s *ResultStore) GetTranscription(ctx context.Context, key string) (*jobs.AudioTranscriptionResult, bool, error) {
	var res jobs.AudioTranscriptionResult
	found, err := s.get(ctx, key, &res)
	return &res, found, err
}

// GetDescription loads an image description result by key; found=false on miss.
func (s *ResultStore) GetDescription(ctx context.Context, key string) (*jobs.ImageDescriptionResult, bool, error) {
	var res jobs.ImageDescriptionResult
	found, err := s.get(ctx, key, &res)
	return &res, found, err
}

func (s *ResultStore) get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, key)
	if err == redis.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// DropPreprocess removes consumed preprocessing results. Called after a
// generation merges them so the keys do not linger for the full TTL.
func (s *ResultStore) DropPreprocess(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...)
}

// MarkDelivered records the delivery confirmation. Returns false when
// the result was already confirmed, enforcing at-most-once delivery.
func (s *ResultStore) MarkDelivered(ctx context.Context, requestID string) (bool, error) {
	return s.client.SetNX(ctx, deliveredKey(requestID), "1", s.ttl)
}

// Delivered reports whether delivery was confirmed.
func (s *ResultStore) Delivered(ctx context.Context, requestID string) (bool, error) {
	_, err := s.client.Get(ctx, deliveredKey(requestID))
	if err == redis.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
