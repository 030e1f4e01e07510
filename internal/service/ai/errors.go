package ai

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/google/uuid"

	"personagen/internal/jobs"
)

const genericUserMessage = "Something went wrong while generating a response. Please try again."

// Classify maps a provider error into the taxonomy. Transient errors
// are retryable; permanent ones never are; anything unrecognized is
// treated conservatively as unknown and not retried.
func Classify(err error) jobs.ErrorInfo {
	info := jobs.ErrorInfo{
		Type:        jobs.ErrorUnknown,
		Category:    jobs.CategoryUnknown,
		UserMessage: genericUserMessage,
		ReferenceID: uuid.NewString(),
	}
	if err == nil {
		return info
	}

	if errors.Is(err, context.DeadlineExceeded) {
		info.Type = jobs.ErrorTransient
		info.Category = jobs.CategoryTimeout
		info.Retryable = true
		return info
	}
	if errors.Is(err, context.Canceled) {
		info.Type = jobs.ErrorPermanent
		info.Category = jobs.CategoryTimeout
		return info
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		info.Type = jobs.ErrorTransient
		info.Category = jobs.CategoryNetwork
		info.Retryable = true
		return info
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "content policy", "content_policy", "safety", "blocked by", "refusal"):
		info.Type = jobs.ErrorPermanent
		info.Category = jobs.CategoryContentPolicy
		info.UserMessage = "The request was declined by the provider's content policy."
	case containsAny(msg, "401", "403", "unauthorized", "invalid api key", "invalid_api_key", "authentication", "permission"):
		info.Type = jobs.ErrorPermanent
		info.Category = jobs.CategoryAuth
		info.UserMessage = "The configured provider credentials were rejected."
	case containsAny(msg, "429", "rate limit", "overloaded", "529"):
		info.Type = jobs.ErrorTransient
		info.Category = jobs.CategoryProvider
		info.Retryable = true
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"):
		info.Type = jobs.ErrorTransient
		info.Category = jobs.CategoryProvider
		info.Retryable = true
	case containsAny(msg, "timeout", "timed out", "connection reset", "connection refused", "broken pipe", "eof"):
		info.Type = jobs.ErrorTransient
		info.Category = jobs.CategoryNetwork
		info.Retryable = true
	case containsAny(msg, "400", "invalid request", "invalid_request", "context length", "maximum context"):
		info.Type = jobs.ErrorPermanent
		info.Category = jobs.CategoryValidation
		info.UserMessage = "The request could not be processed as sent."
	}
	return info
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
