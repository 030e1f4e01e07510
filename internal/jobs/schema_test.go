package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personagen/internal/models"
)

func validGeneration() *LLMGenerationJobData {
	return &LLMGenerationJobData{
		RequestID:           "req-1",
		Personality:         models.LoadedPersonality{Provider: "openai", TextModel: "gpt-test"},
		Message:             MessagePayload{Text: "hi"},
		ResponseDestination: ResponseDestination{Kind: DestinationAPI},
	}
}

func TestGenerationValidate(t *testing.T) {
	job := validGeneration()
	require.NoError(t, job.Validate())
	assert.Equal(t, CurrentVersion, job.Version, "version defaulted")
	assert.Equal(t, JobLLMGeneration, job.JobType, "job type defaulted")

	missing := validGeneration()
	missing.RequestID = ""
	assert.Error(t, missing.Validate())

	noModel := validGeneration()
	noModel.Personality.TextModel = ""
	assert.Error(t, noModel.Validate())

	empty := validGeneration()
	empty.Message = MessagePayload{}
	assert.Error(t, empty.Validate())

	attachmentsOnly := validGeneration()
	attachmentsOnly.Message = MessagePayload{Attachments: []models.Attachment{{URL: "https://cdn/x.png"}}}
	assert.NoError(t, attachmentsOnly.Validate())

	wrongType := validGeneration()
	wrongType.JobType = JobAudioTranscription
	assert.Error(t, wrongType.Validate())
}

func TestImageDescriptionValidate(t *testing.T) {
	job := &ImageDescriptionJobData{
		RequestID:           "req-1",
		Personality:         models.LoadedPersonality{Provider: "openai"},
		Attachments:         []models.Attachment{{URL: "https://cdn/x.png"}},
		ResponseDestination: ResponseDestination{Kind: DestinationAPI},
	}
	require.NoError(t, job.Validate())

	job.Attachments = nil
	assert.Error(t, job.Validate(), "empty attachment list must be rejected")
}

func TestAudioTranscriptionValidate(t *testing.T) {
	job := &AudioTranscriptionJobData{
		RequestID:           "req-1",
		Attachment:          models.Attachment{URL: "https://cdn/x.ogg"},
		ResponseDestination: ResponseDestination{Kind: DestinationAPI},
	}
	require.NoError(t, job.Validate())
	assert.Equal(t, JobAudioTranscription, job.JobType)

	job.Attachment.URL = ""
	assert.Error(t, job.Validate())
}

func TestResponseDestinationValidate(t *testing.T) {
	assert.NoError(t, ResponseDestination{Kind: DestinationDiscord, ChannelID: "c1"}.Validate())
	assert.Error(t, ResponseDestination{Kind: DestinationDiscord}.Validate())
	assert.NoError(t, ResponseDestination{Kind: DestinationWebhook, WebhookURL: "https://hook"}.Validate())
	assert.Error(t, ResponseDestination{Kind: DestinationWebhook}.Validate())
	assert.NoError(t, ResponseDestination{Kind: DestinationAPI}.Validate())
	assert.Error(t, ResponseDestination{Kind: "carrier-pigeon"}.Validate())
}

func TestVersionSurvivesWire(t *testing.T) {
	job := validGeneration()
	require.NoError(t, job.Validate())

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded LLMGenerationJobData
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, CurrentVersion, decoded.Version)
}

func TestCombinedDescriptionsDeterministic(t *testing.T) {
	res := &ImageDescriptionResult{Descriptions: map[string]string{
		"https://cdn/z.png": "last",
		"https://cdn/a.png": "first",
		"https://cdn/m.png": "middle",
	}}
	assert.Equal(t, "first\nmiddle\nlast", res.Combined())
	assert.Equal(t, res.Combined(), res.Combined())

	empty := &ImageDescriptionResult{}
	assert.Equal(t, "", empty.Combined())
}
