package jobs

import (
	"errors"
	"fmt"

	"personagen/internal/models"
)

// Job payload schemas are the wire contract between request intake and
// the pipeline workers. Each carries an explicit Version so the shape
// can evolve compatibly; CurrentVersion is assumed when absent.

const CurrentVersion = 1

type JobType string

const (
	JobAudioTranscription JobType = "audio-transcription"
	JobImageDescription   JobType = "image-description"
	JobLLMGeneration      JobType = "llm-generation"
)

// JobState is the dependency-resolver state machine for a generation job.
type JobState string

const (
	StatePending              JobState = "pending"
	StateAwaitingDependencies JobState = "awaiting-dependencies"
	StateReady                JobState = "ready"
	StateRunning              JobState = "running"
	StateCompleted            JobState = "completed"
	StateFailed               JobState = "failed"
)

type DependencyStatus string

const (
	DependencyPending   DependencyStatus = "pending"
	DependencyCompleted DependencyStatus = "completed"
	DependencyFailed    DependencyStatus = "failed"
)

// JobDependency references a preprocessing job the generation job must
// wait on before it is eligible to run.
type JobDependency struct {
	JobID                 string           `json:"job_id"`
	Type                  JobType          `json:"type"`
	Status                DependencyStatus `json:"status"`
	ResultKey             string           `json:"result_key"`
	SourceReferenceNumber int              `json:"source_reference_number,omitempty"`
}

func (d DependencyStatus) Terminal() bool {
	return d == DependencyCompleted || d == DependencyFailed
}

type DestinationKind string

const (
	DestinationDiscord DestinationKind = "discord"
	DestinationWebhook DestinationKind = "webhook"
	DestinationAPI     DestinationKind = "api"
)

// ResponseDestination discriminates where a finished result is routed.
type ResponseDestination struct {
	Kind       DestinationKind `json:"kind"`
	ChannelID  string          `json:"channel_id,omitempty"`
	MessageID  string          `json:"message_id,omitempty"` // reply target
	WebhookURL string          `json:"webhook_url,omitempty"`
}

func (d ResponseDestination) Validate() error {
	switch d.Kind {
	case DestinationDiscord:
		if d.ChannelID == "" {
			return errors.New("discord destination requires channel_id")
		}
	case DestinationWebhook:
		if d.WebhookURL == "" {
			return errors.New("webhook destination requires webhook_url")
		}
	case DestinationAPI:
	default:
		return fmt.Errorf("unknown destination kind %q", d.Kind)
	}
	return nil
}

// MessagePayload is the raw triggering message: plain text, or a
// structured multimodal payload with attachments.
type MessagePayload struct {
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type AudioTranscriptionJobData struct {
	Version               int                 `json:"version"`
	RequestID             string              `json:"request_id"`
	JobType               JobType             `json:"job_type"`
	ResponseDestination   ResponseDestination `json:"response_destination"`
	Attachment            models.Attachment   `json:"attachment"`
	UserID                string              `json:"user_id"`
	ChannelID             string              `json:"channel_id"`
	SourceReferenceNumber int                 `json:"source_reference_number,omitempty"`
}

func (j *AudioTranscriptionJobData) Validate() error {
	if j.Version == 0 {
		j.Version = CurrentVersion
	}
	if j.RequestID == "" {
		return errors.New("request_id is required")
	}
	if j.JobType == "" {
		j.JobType = JobAudioTranscription
	} else if j.JobType != JobAudioTranscription {
		return fmt.Errorf("job_type must be %s", JobAudioTranscription)
	}
	if j.Attachment.URL == "" {
		return errors.New("attachment url is required")
	}
	return j.ResponseDestination.Validate()
}

type ImageDescriptionJobData struct {
	Version               int                      `json:"version"`
	RequestID             string                   `json:"request_id"`
	JobType               JobType                  `json:"job_type"`
	ResponseDestination   ResponseDestination      `json:"response_destination"`
	Attachments           []models.Attachment      `json:"attachments"`
	Personality           models.LoadedPersonality `json:"personality"`
	UserID                string                   `json:"user_id"`
	ChannelID             string                   `json:"channel_id"`
	SourceReferenceNumber int                      `json:"source_reference_number,omitempty"`
}

func (j *ImageDescriptionJobData) Validate() error {
	if j.Version == 0 {
		j.Version = CurrentVersion
	}
	if j.RequestID == "" {
		return errors.New("request_id is required")
	}
	if j.JobType == "" {
		j.JobType = JobImageDescription
	} else if j.JobType != JobImageDescription {
		return fmt.Errorf("job_type must be %s", JobImageDescription)
	}
	if len(j.Attachments) == 0 {
		return errors.New("at least one image attachment is required")
	}
	if j.Personality.Provider == "" {
		return errors.New("personality provider is required for vision model selection")
	}
	return j.ResponseDestination.Validate()
}

// LLMGenerationJobData is the unit of work for the main pipeline.
// Immutable once enqueued; consumed exactly once by the executor.
type LLMGenerationJobData struct {
	Version             int                      `json:"version"`
	RequestID           string                   `json:"request_id"`
	JobType             JobType                  `json:"job_type"`
	ResponseDestination ResponseDestination      `json:"response_destination"`
	Personality         models.LoadedPersonality `json:"personality"`
	Message             MessagePayload           `json:"message"`
	Context             models.RequestContext    `json:"context"`
	Dependencies        []JobDependency          `json:"dependencies,omitempty"`
}

func (j *LLMGenerationJobData) Validate() error {
	if j.Version == 0 {
		j.Version = CurrentVersion
	}
	if j.RequestID == "" {
		return errors.New("request_id is required")
	}
	if j.JobType == "" {
		j.JobType = JobLLMGeneration
	} else if j.JobType != JobLLMGeneration {
		return fmt.Errorf("job_type must be %s", JobLLMGeneration)
	}
	if j.Personality.Provider == "" || j.Personality.TextModel == "" {
		return errors.New("personality provider and text_model are required")
	}
	if j.Message.Text == "" && len(j.Message.Attachments) == 0 {
		return errors.New("message must carry text or attachments")
	}
	return j.ResponseDestination.Validate()
}
