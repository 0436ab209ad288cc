package domain

import (
	"time"
)

// DebugLogKind discriminates the payload of a debug log entry.
type DebugLogKind string

// Possible debug log kinds
const (
	DebugLogRequest  DebugLogKind = "request"
	DebugLogResponse DebugLogKind = "response"
	DebugLogError    DebugLogKind = "error"
)

// DebugLog records one step of an item's interaction with the generation
// backend. Exactly one of Request, Response or Error is set, matching Kind.
type DebugLog struct {
	Kind      DebugLogKind  `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`

	Request  *DebugRequest  `json:"request,omitempty"`
	Response *DebugResponse `json:"response,omitempty"`
	Error    *DebugError    `json:"error,omitempty"`
}

// DebugRequest captures the outgoing generation call.
type DebugRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Attempt int    `json:"attempt"`
}

// DebugResponse captures a successful generation response.
type DebugResponse struct {
	ImageRef string `json:"image_ref"`
}

// DebugError captures a failed generation call.
type DebugError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewRequestLog creates a request-kind debug log entry.
func NewRequestLog(model, prompt string, attempt int) DebugLog {
	return DebugLog{
		Kind:      DebugLogRequest,
		Timestamp: time.Now().UTC(),
		Request:   &DebugRequest{Model: model, Prompt: prompt, Attempt: attempt},
	}
}

// NewResponseLog creates a response-kind debug log entry.
func NewResponseLog(imageRef string, duration time.Duration) DebugLog {
	return DebugLog{
		Kind:      DebugLogResponse,
		Timestamp: time.Now().UTC(),
		Duration:  duration,
		Response:  &DebugResponse{ImageRef: imageRef},
	}
}

// NewErrorLog creates an error-kind debug log entry.
func NewErrorLog(message, code string, duration time.Duration) DebugLog {
	return DebugLog{
		Kind:      DebugLogError,
		Timestamp: time.Now().UTC(),
		Duration:  duration,
		Error:     &DebugError{Message: message, Code: code},
	}
}
