package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"personagen/internal/jobs"
	"personagen/internal/models"
)

// DependencyResults is the slice of the result store the resolver reads.
type DependencyResults interface {
	GetTranscription(ctx context.Context, key string) (*jobs.AudioTranscriptionResult, bool, error)
	GetDescription(ctx context.Context, key string) (*jobs.ImageDescriptionResult, bool, error)
}

// Resolution is the outcome of one dependency poll for a job.
type Resolution struct {
	State        jobs.JobState
	Pending      int
	Failed       int
	Preprocessed map[int]models.PreprocessedAttachment
}

type depEntry struct {
	merged   map[int]models.PreprocessedAttachment
	settled  map[string]bool // dependency job ids already in a terminal state
	failed   int
	lastSeen time.Time
}

const (
	defaultDepEntryTTL = 15 * time.Minute
	evictSweep         = time.Minute
)

// Resolver tracks preprocessing dependencies per request. State is a
// request-id keyed map with TTL eviction, repopulated from the result
// store on each poll, so a restarted worker converges to the same
// answer.
type Resolver struct {
	store  DependencyResults
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*depEntry
	ttl     time.Duration
}

func NewResolver(store DependencyResults, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:   store,
		logger:  logger.Named("resolver"),
		entries: make(map[string]*depEntry),
		ttl:     defaultDepEntryTTL,
	}
}

// StartEvictor expires idle per-request state. Blocks until the
// context is done.
func (r *Resolver) StartEvictor(ctx context.Context) {
	ticker := time.NewTicker(evictSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictStale()
		}
	}
}

func (r *Resolver) evictStale() {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
}

// Resolve polls every dependency and reports whether the job is ready.
// A failed dependency counts as terminal: the attachment is recorded
// as unavailable and generation proceeds without it. When several
// dependencies target the same reference number the most recently
// completed one wins.
func (r *Resolver) Resolve(ctx context.Context, requestID string, deps []jobs.JobDependency) Resolution {
	entry := r.entry(requestID)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry.lastSeen = time.Now()

	pending := 0
	for _, dep := range deps {
		if entry.settled[dep.JobID] {
			continue
		}
		pre, terminal := r.poll(ctx, dep)
		if !terminal {
			pending++
			continue
		}
		entry.settled[dep.JobID] = true
		if pre.Unavailable {
			entry.failed++
		}
		merge(entry.merged, pre)
	}

	res := Resolution{
		Pending:      pending,
		Failed:       entry.failed,
		Preprocessed: cloneMerged(entry.merged),
	}
	if pending > 0 {
		res.State = jobs.StateAwaitingDependencies
	} else {
		res.State = jobs.StateReady
	}
	return res
}

// Forget drops per-request state once the job reached a terminal state.
func (r *Resolver) Forget(requestID string) {
	r.mu.Lock()
	delete(r.entries, requestID)
	r.mu.Unlock()
}

func (r *Resolver) entry(requestID string) *depEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[requestID]
	if !ok {
		e = &depEntry{
			merged:  make(map[int]models.PreprocessedAttachment),
			settled: make(map[string]bool),
		}
		r.entries[requestID] = e
	}
	return e
}

// poll reads one dependency's result. terminal=false means the
// preprocessing job has not finished yet.
func (r *Resolver) poll(ctx context.Context, dep jobs.JobDependency) (models.PreprocessedAttachment, bool) {
	switch dep.Type {
	case jobs.JobAudioTranscription:
		res, found, err := r.store.GetTranscription(ctx, dep.ResultKey)
		if err != nil {
			r.logger.Warn("dependency lookup failed", zap.String("result_key", dep.ResultKey), zap.Error(err))
			return models.PreprocessedAttachment{}, false
		}
		if !found {
			return models.PreprocessedAttachment{}, false
		}
		return models.PreprocessedAttachment{
			SourceReferenceNumber: refNumber(dep.SourceReferenceNumber, res.SourceReferenceNumber),
			Kind:                  models.PreprocessedTranscript,
			Content:               res.Content,
			Unavailable:           !res.Success,
			CompletedAt:           res.CompletedAt,
		}, true
	case jobs.JobImageDescription:
		res, found, err := r.store.GetDescription(ctx, dep.ResultKey)
		if err != nil {
			r.logger.Warn("dependency lookup failed", zap.String("result_key", dep.ResultKey), zap.Error(err))
			return models.PreprocessedAttachment{}, false
		}
		if !found {
			return models.PreprocessedAttachment{}, false
		}
		return models.PreprocessedAttachment{
			SourceReferenceNumber: refNumber(dep.SourceReferenceNumber, res.SourceReferenceNumber),
			Kind:                  models.PreprocessedDescription,
			Content:               res.Combined(),
			Unavailable:           !res.Success,
			CompletedAt:           res.CompletedAt,
		}, true
	default:
		// unknown dependency types are treated as failed, not blocking
		r.logger.Warn("unknown dependency type", zap.String("type", string(dep.Type)))
		return models.PreprocessedAttachment{Unavailable: true, CompletedAt: time.Now()}, true
	}
}

// merge applies the duplicate-reference tie-break: latest completion wins.
func merge(merged map[int]models.PreprocessedAttachment, pre models.PreprocessedAttachment) {
	existing, ok := merged[pre.SourceReferenceNumber]
	if ok && existing.CompletedAt.After(pre.CompletedAt) {
		return
	}
	merged[pre.SourceReferenceNumber] = pre
}

func cloneMerged(m map[int]models.PreprocessedAttachment) map[int]models.PreprocessedAttachment {
	out := make(map[int]models.PreprocessedAttachment, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func refNumber(fromDep, fromResult int) int {
	if fromDep > 0 {
		return fromDep
	}
	return fromResult
}
