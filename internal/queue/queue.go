package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"personagen/internal/jobs"
	redis "personagen/internal/redis"
)

const (
	streamKey     = "jobs:inbound"
	deferredKey   = "jobs:deferred"
	consumerGroup = "personagen-workers"

	readBlock     = 5 * time.Second
	deferredSweep = 500 * time.Millisecond
)

var ErrQueueUnavailable = errors.New("job queue unavailable")

// Envelope wraps one queued job payload with scheduling metadata.
type Envelope struct {
	Kind        jobs.JobType    `json:"kind"`
	UserKey     string          `json:"user_key,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	FirstSeenAt time.Time       `json:"first_seen_at"`
}

// Queue is the Redis Streams job queue. Consumption is consumer-group
// based; waiting jobs are parked in a sorted set and fed back into the
// stream when due, so a dependency wait never holds a worker.
type Queue struct {
	client   *redis.Client
	consumer string
	logger   *zap.Logger
}

func New(client *redis.Client, consumerName string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, consumer: consumerName, logger: logger.Named("queue")}
}

// EnsureGroup creates the consumer group if missing.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	raw := q.client.Raw()
	if raw == nil {
		return ErrQueueUnavailable
	}
	err := raw.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Enqueue appends a job envelope to the inbound stream.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	raw := q.client.Raw()
	if raw == nil {
		return ErrQueueUnavailable
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	if env.FirstSeenAt.IsZero() {
		env.FirstSeenAt = env.EnqueuedAt
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return raw.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"envelope": string(data)},
	}).Err()
}

// Defer parks an envelope until readyAt, bumping its attempt counter.
func (q *Queue) Defer(ctx context.Context, env Envelope, readyAt time.Time) error {
	raw := q.client.Raw()
	if raw == nil {
		return ErrQueueUnavailable
	}
	env.Attempt++
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return raw.ZAdd(ctx, deferredKey, goredis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: string(data),
	}).Err()
}

// Consume reads envelopes from the stream and hands each to the
// handler, acknowledging after the handler returns. Blocks until the
// context is done.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, Envelope)) {
	raw := q.client.Raw()
	if raw == nil {
		q.logger.Error("queue consume started without redis client")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := raw.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: q.consumer,
			Streams:  []string{streamKey, ">"},
			Count:    8,
			Block:    readBlock,
		}).Result()
		if err == goredis.Nil || (err != nil && ctx.Err() != nil) {
			continue
		}
		if err != nil {
			q.logger.Warn("stream read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *Queue) handleMessage(ctx context.Context, msg goredis.XMessage, handler func(context.Context, Envelope)) {
	raw := q.client.Raw()
	envelopeJSON, ok := msg.Values["envelope"].(string)
	if !ok {
		q.logger.Warn("message missing envelope field", zap.String("id", msg.ID))
		raw.XAck(ctx, streamKey, consumerGroup, msg.ID)
		return
	}
	var env Envelope
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		q.logger.Warn("envelope decode failed", zap.String("id", msg.ID), zap.Error(err))
		raw.XAck(ctx, streamKey, consumerGroup, msg.ID)
		return
	}
	handler(ctx, env)
	raw.XAck(ctx, streamKey, consumerGroup, msg.ID)
}

// RunDeferred moves due parked envelopes back into the stream.
// Blocks until the context is done.
func (q *Queue) RunDeferred(ctx context.Context) {
	raw := q.client.Raw()
	if raw == nil {
		return
	}
	ticker := time.NewTicker(deferredSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		members, err := raw.ZRangeByScore(ctx, deferredKey, &goredis.ZRangeBy{
			Min: "-inf", Max: now, Count: 32,
		}).Result()
		if err != nil || len(members) == 0 {
			continue
		}
		for _, member := range members {
			// claim before re-adding so only one scheduler moves it
			removed, err := raw.ZRem(ctx, deferredKey, member).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := raw.XAdd(ctx, &goredis.XAddArgs{
				Stream: streamKey,
				Values: map[string]any{"envelope": member},
			}).Err(); err != nil {
				q.logger.Warn("requeue of deferred job failed", zap.Error(err))
			}
		}
	}
}
