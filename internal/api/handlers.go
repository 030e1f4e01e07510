package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"personagen/internal/auth"
	"personagen/internal/diag"
	"personagen/internal/jobs"
	"personagen/internal/models"
	"personagen/internal/queue"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, env queue.Envelope) error
}

type ResultReader interface {
	GetGeneration(ctx context.Context, requestID string) (*jobs.LLMGenerationResult, bool, error)
	MarkDelivered(ctx context.Context, requestID string) (bool, error)
	Delivered(ctx context.Context, requestID string) (bool, error)
}

type DiagnosticReader interface {
	Get(ctx context.Context, requestID string) (*diag.DiagnosticPayload, bool, error)
}

type PersonaLoader interface {
	Load(ctx context.Context, name string) (*models.LoadedPersonality, error)
}

// Handler wires HTTP routes to the job queue and result stores.
type Handler struct {
	queue       Enqueuer
	results     ResultReader
	diagnostics DiagnosticReader
	personas    PersonaLoader
	auth        *auth.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(q Enqueuer, results ResultReader, diagnostics DiagnosticReader, personas PersonaLoader, authService *auth.Service) *Handler {
	return &Handler{
		queue:       q,
		results:     results,
		diagnostics: diagnostics,
		personas:    personas,
		auth:        authService,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	api.POST("/generate", h.generate)
	api.POST("/preprocess/audio", h.preprocessAudio)
	api.POST("/preprocess/image", h.preprocessImage)
	api.GET("/jobs/:id", h.jobResult)
	api.GET("/jobs/:id/diagnostics", h.jobDiagnostics)
	api.POST("/jobs/:id/confirm", h.confirmDelivery)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// generate accepts a generation job, spawns preprocessing sub-jobs for
// referenced media, and enqueues everything. Returns 202 immediately;
// callers poll the job result or receive it at the response destination.
func (h *Handler) generate(c *gin.Context) {
	var job jobs.LLMGenerationJobData
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if job.RequestID == "" {
		job.RequestID = uuid.NewString()
	}

	ctx := c.Request.Context()

	// payloads may carry just a personality name; the stored config
	// fills in the rest
	if job.Personality.Provider == "" && job.Personality.Name != "" && h.personas != nil {
		loaded, err := h.personas.Load(ctx, job.Personality.Name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown personality " + job.Personality.Name})
			return
		}
		job.Personality = *loaded
	}

	if err := job.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(job.Dependencies) == 0 {
		deps, err := h.spawnDependencies(ctx, &job)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue preprocessing jobs"})
			return
		}
		job.Dependencies = deps
	}

	if err := h.enqueue(ctx, jobs.JobLLMGeneration, job.Context.User.DiscordID, &job); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"request_id":   job.RequestID,
		"dependencies": len(job.Dependencies),
	})
}

// spawnDependencies creates one transcription job per referenced audio
// attachment and one description job per referenced message with
// images. Each sub-job's result key is recorded on the dependency so
// the resolver can find it.
func (h *Handler) spawnDependencies(ctx context.Context, job *jobs.LLMGenerationJobData) ([]jobs.JobDependency, error) {
	var deps []jobs.JobDependency
	dest := jobs.ResponseDestination{Kind: jobs.DestinationAPI}
	userID := job.Context.User.DiscordID
	channelID := job.Context.Environment.ChannelID

	for _, ref := range job.Context.ReferencedMessages {
		var images []models.Attachment
		for _, att := range ref.Attachments {
			switch att.Kind {
			case models.AttachmentAudio:
				sub := jobs.AudioTranscriptionJobData{
					Version:               jobs.CurrentVersion,
					RequestID:             uuid.NewString(),
					JobType:               jobs.JobAudioTranscription,
					ResponseDestination:   dest,
					Attachment:            att,
					UserID:                userID,
					ChannelID:             channelID,
					SourceReferenceNumber: ref.ReferenceNumber,
				}
				if err := h.enqueue(ctx, jobs.JobAudioTranscription, userID, &sub); err != nil {
					return nil, err
				}
				deps = append(deps, jobs.JobDependency{
					JobID:                 sub.RequestID,
					Type:                  jobs.JobAudioTranscription,
					Status:                jobs.DependencyPending,
					ResultKey:             queue.PreprocessResultKey(jobs.JobAudioTranscription, sub.RequestID),
					SourceReferenceNumber: ref.ReferenceNumber,
				})
			case models.AttachmentImage:
				images = append(images, att)
			}
		}
		if len(images) > 0 {
			sub := jobs.ImageDescriptionJobData{
				Version:               jobs.CurrentVersion,
				RequestID:             uuid.NewString(),
				JobType:               jobs.JobImageDescription,
				ResponseDestination:   dest,
				Attachments:           images,
				Personality:           job.Personality,
				UserID:                userID,
				ChannelID:             channelID,
				SourceReferenceNumber: ref.ReferenceNumber,
			}
			if err := h.enqueue(ctx, jobs.JobImageDescription, userID, &sub); err != nil {
				return nil, err
			}
			deps = append(deps, jobs.JobDependency{
				JobID:                 sub.RequestID,
				Type:                  jobs.JobImageDescription,
				Status:                jobs.DependencyPending,
				ResultKey:             queue.PreprocessResultKey(jobs.JobImageDescription, sub.RequestID),
				SourceReferenceNumber: ref.ReferenceNumber,
			})
		}
	}
	return deps, nil
}

func (h *Handler) preprocessAudio(c *gin.Context) {
	var job jobs.AudioTranscriptionJobData
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if job.RequestID == "" {
		job.RequestID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.enqueue(c.Request.Context(), jobs.JobAudioTranscription, job.UserID, &job); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"request_id": job.RequestID,
		"result_key": queue.PreprocessResultKey(jobs.JobAudioTranscription, job.RequestID),
	})
}

func (h *Handler) preprocessImage(c *gin.Context) {
	var job jobs.ImageDescriptionJobData
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if job.RequestID == "" {
		job.RequestID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.enqueue(c.Request.Context(), jobs.JobImageDescription, job.UserID, &job); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"request_id": job.RequestID,
		"result_key": queue.PreprocessResultKey(jobs.JobImageDescription, job.RequestID),
	})
}

// jobResult returns the stored result for a request id. Reads are
// idempotent: the pipeline never re-runs, repeated reads return the
// identical stored payload.
func (h *Handler) jobResult(c *gin.Context) {
	requestID := c.Param("id")
	res, found, err := h.results.GetGeneration(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result for request", "request_id": requestID})
		return
	}
	delivered, err := h.results.Delivered(c.Request.Context(), requestID)
	if err != nil {
		delivered = false
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "delivered": delivered})
}

func (h *Handler) jobDiagnostics(c *gin.Context) {
	requestID := c.Param("id")
	payload, found, err := h.diagnostics.Get(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "diagnostic lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no diagnostics for request", "request_id": requestID})
		return
	}
	c.JSON(http.StatusOK, payload)
}

// confirmDelivery marks a result as delivered. The first confirmation
// wins; repeats report already_confirmed.
func (h *Handler) confirmDelivery(c *gin.Context) {
	requestID := c.Param("id")
	_, found, err := h.results.GetGeneration(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result for request", "request_id": requestID})
		return
	}
	first, err := h.results.MarkDelivered(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": requestID, "confirmed": true, "already_confirmed": !first})
}

func (h *Handler) enqueue(ctx context.Context, kind jobs.JobType, userKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return h.queue.Enqueue(ctx, queue.Envelope{
		Kind:        kind,
		UserKey:     userKey,
		Payload:     data,
		EnqueuedAt:  now,
		FirstSeenAt: now,
	})
}
