package worker

import (
	"context"
	"testing"
	"time"

	"personagen/internal/jobs"
	"personagen/internal/models"
)

type fakeResults struct {
	transcriptions map[string]*jobs.AudioTranscriptionResult
	descriptions   map[string]*jobs.ImageDescriptionResult
}

func newFakeResults() *fakeResults {
	return &fakeResults{
		transcriptions: make(map[string]*jobs.AudioTranscriptionResult),
		descriptions:   make(map[string]*jobs.ImageDescriptionResult),
	}
}

func (f *fakeResults) GetTranscription(_ context.Context, key string) (*jobs.AudioTranscriptionResult, bool, error) {
	res, ok := f.transcriptions[key]
	return res, ok, nil
}

func (f *fakeResults) GetDescription(_ context.Context, key string) (*jobs.ImageDescriptionResult, bool, error) {
	res, ok := f.descriptions[key]
	return res, ok, nil
}

func audioDep(jobID string, refNum int) jobs.JobDependency {
	return jobs.JobDependency{
		JobID:                 jobID,
		Type:                  jobs.JobAudioTranscription,
		Status:                jobs.DependencyPending,
		ResultKey:             "result:audio-transcription:" + jobID,
		SourceReferenceNumber: refNum,
	}
}

func TestResolveWaitsThenReady(t *testing.T) {
	store := newFakeResults()
	r := NewResolver(store, nil)
	deps := []jobs.JobDependency{audioDep("a1", 1)}

	res := r.Resolve(context.Background(), "req", deps)
	if res.State != jobs.StateAwaitingDependencies || res.Pending != 1 {
		t.Fatalf("expected awaiting state, got %+v", res)
	}

	store.transcriptions["result:audio-transcription:a1"] = &jobs.AudioTranscriptionResult{
		RequestID: "a1", Success: true, Content: "hello", CompletedAt: time.Now(),
	}
	res = r.Resolve(context.Background(), "req", deps)
	if res.State != jobs.StateReady || res.Pending != 0 {
		t.Fatalf("expected ready state, got %+v", res)
	}
	pre, ok := res.Preprocessed[1]
	if !ok || pre.Content != "hello" || pre.Kind != models.PreprocessedTranscript {
		t.Fatalf("transcript not merged: %+v", res.Preprocessed)
	}
}

func TestResolveFailedDependencyDegrades(t *testing.T) {
	store := newFakeResults()
	store.transcriptions["result:audio-transcription:a1"] = &jobs.AudioTranscriptionResult{
		RequestID: "a1", Success: false, Error: "download failed", CompletedAt: time.Now(),
	}
	r := NewResolver(store, nil)

	res := r.Resolve(context.Background(), "req", []jobs.JobDependency{audioDep("a1", 1)})
	if res.State != jobs.StateReady {
		t.Fatalf("failed dependency must not block: %+v", res)
	}
	if res.Failed != 1 {
		t.Fatalf("failed count = %d, want 1", res.Failed)
	}
	if pre := res.Preprocessed[1]; !pre.Unavailable {
		t.Fatalf("failed dependency not marked unavailable: %+v", pre)
	}
}

func TestResolveOutOfOrderCompletion(t *testing.T) {
	store := newFakeResults()
	r := NewResolver(store, nil)
	deps := []jobs.JobDependency{audioDep("a1", 1), audioDep("a2", 2)}

	// second dependency finishes first
	store.transcriptions["result:audio-transcription:a2"] = &jobs.AudioTranscriptionResult{
		RequestID: "a2", Success: true, Content: "two", CompletedAt: time.Now(),
	}
	res := r.Resolve(context.Background(), "req", deps)
	if res.State != jobs.StateAwaitingDependencies || res.Pending != 1 {
		t.Fatalf("expected one pending, got %+v", res)
	}

	store.transcriptions["result:audio-transcription:a1"] = &jobs.AudioTranscriptionResult{
		RequestID: "a1", Success: true, Content: "one", CompletedAt: time.Now(),
	}
	res = r.Resolve(context.Background(), "req", deps)
	if res.State != jobs.StateReady {
		t.Fatalf("expected ready, got %+v", res)
	}
	if res.Preprocessed[1].Content != "one" || res.Preprocessed[2].Content != "two" {
		t.Fatalf("results attributed to wrong references: %+v", res.Preprocessed)
	}
}

func TestResolveDuplicateReferenceLatestWins(t *testing.T) {
	store := newFakeResults()
	now := time.Now()
	store.transcriptions["result:audio-transcription:a1"] = &jobs.AudioTranscriptionResult{
		RequestID: "a1", Success: true, Content: "earlier", CompletedAt: now.Add(-time.Minute),
	}
	store.transcriptions["result:audio-transcription:a2"] = &jobs.AudioTranscriptionResult{
		RequestID: "a2", Success: true, Content: "later", CompletedAt: now,
	}
	r := NewResolver(store, nil)

	res := r.Resolve(context.Background(), "req", []jobs.JobDependency{audioDep("a1", 1), audioDep("a2", 1)})
	if res.State != jobs.StateReady {
		t.Fatalf("expected ready, got %+v", res)
	}
	if res.Preprocessed[1].Content != "later" {
		t.Fatalf("tie-break wrong, got %q", res.Preprocessed[1].Content)
	}
}

func TestResolveImageDescriptionsCombined(t *testing.T) {
	store := newFakeResults()
	store.descriptions["result:image-description:i1"] = &jobs.ImageDescriptionResult{
		RequestID: "i1", Success: true, CompletedAt: time.Now(),
		Descriptions: map[string]string{
			"https://cdn/b.png": "second image",
			"https://cdn/a.png": "first image",
		},
	}
	r := NewResolver(store, nil)

	res := r.Resolve(context.Background(), "req", []jobs.JobDependency{{
		JobID: "i1", Type: jobs.JobImageDescription,
		ResultKey: "result:image-description:i1", SourceReferenceNumber: 3,
	}})
	pre := res.Preprocessed[3]
	if pre.Kind != models.PreprocessedDescription {
		t.Fatalf("kind = %s", pre.Kind)
	}
	if pre.Content != "first image\nsecond image" {
		t.Fatalf("combined content wrong: %q", pre.Content)
	}
}

func TestResolveUnknownTypeFailsWithoutBlocking(t *testing.T) {
	r := NewResolver(newFakeResults(), nil)

	res := r.Resolve(context.Background(), "req", []jobs.JobDependency{{
		JobID: "x1", Type: jobs.JobType("video-summary"), ResultKey: "result:video:x1",
	}})
	if res.State != jobs.StateReady || res.Failed != 1 {
		t.Fatalf("unknown dependency type should fail terminally: %+v", res)
	}
}

func TestResolverIsolatesRequests(t *testing.T) {
	store := newFakeResults()
	store.transcriptions["result:audio-transcription:a1"] = &jobs.AudioTranscriptionResult{
		RequestID: "a1", Success: true, Content: "shared job", CompletedAt: time.Now(),
	}
	r := NewResolver(store, nil)

	resA := r.Resolve(context.Background(), "req-a", []jobs.JobDependency{audioDep("a1", 1)})
	resB := r.Resolve(context.Background(), "req-b", nil)
	if len(resA.Preprocessed) != 1 {
		t.Fatalf("req-a missing its result: %+v", resA)
	}
	if len(resB.Preprocessed) != 0 {
		t.Fatalf("req-b leaked req-a state: %+v", resB)
	}

	r.Forget("req-a")
	r.mu.Lock()
	_, stillThere := r.entries["req-a"]
	r.mu.Unlock()
	if stillThere {
		t.Fatal("Forget did not drop request state")
	}
}
