package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of canonical upstream failure categories.
type ErrorKind string

const (
	KindRateLimited      ErrorKind = "rate_limited"
	KindServerError      ErrorKind = "server_error"
	KindTimeout          ErrorKind = "timeout"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindAuthFailed       ErrorKind = "auth_failed"
	KindValidationFailed ErrorKind = "validation_failed"
	KindNotFound         ErrorKind = "not_found"
	KindUnknown          ErrorKind = "unknown"
)

// ErrorRecord is the canonical form of an upstream failure. It is the only
// error shape that crosses the classifier, retry, orchestrator and streamer
// boundaries.
type ErrorRecord struct {
	Kind       ErrorKind `json:"kind"`
	Retryable  bool      `json:"retryable"`
	StatusCode int       `json:"status_code,omitempty"`
	RawMessage string    `json:"message"`
	Provider   string    `json:"provider"`
}

func (e *ErrorRecord) Error() string {
	return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.RawMessage)
}

// BlockedProvider records why a requested provider was dropped during
// provider-set resolution.
type BlockedProvider struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// NoProvidersError is returned when every requested provider was dropped.
type NoProvidersError struct {
	Blocked []BlockedProvider
}

func (e *NoProvidersError) Error() string {
	return fmt.Sprintf("no providers available: %d blocked", len(e.Blocked))
}

// Problem implements RFC 9457
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`

	Log error `json:"-"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) MarshalJSON() ([]byte, error) {
	type Alias Problem

	data := make(map[string]interface{})

	for k, v := range p.Extensions {
		data[k] = v
	}

	stdJSON, _ := json.Marshal(Alias(*p))
	_ = json.Unmarshal(stdJSON, &data)

	return json.Marshal(data)
}

type ProblemOption func(*Problem)

// NewProblem creates a generic Problem
func NewProblem(status int, title, detail string, opts ...ProblemOption) *Problem {
	p := &Problem{
		Type:       "about:blank", // Default as per RFC
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithExtension adds a custom key-value pair to the response
func WithExtension(key string, value interface{}) ProblemOption {
	return func(p *Problem) {
		p.Extensions[key] = value
	}
}

// WithLog attaches an internal error for server-side logging
func WithLog(err error) ProblemOption {
	return func(p *Problem) {
		p.Log = err
	}
}

// ValidationProblem creates a rich validation error
func ValidationProblem(validationErrors map[string]string) *Problem {
	return NewProblem(
		http.StatusBadRequest,
		"Validation Error",
		"One or more fields failed validation",
		WithExtension("errors", validationErrors),
	)
}

// BadRequestProblem creates a standard error for a bad request
func BadRequestProblem(detail string, opts ...ProblemOption) *Problem {
	return NewProblem(http.StatusBadRequest, "Bad Request", detail, opts...)
}

// ForbiddenProblem creates a 403 with the blocked provider list attached.
func ForbiddenProblem(detail string, blocked []BlockedProvider) *Problem {
	return NewProblem(http.StatusForbidden, "No Providers Allowed", detail,
		WithExtension("blocked", blocked))
}

// InternalProblem creates a standard error for any internal server error
func InternalProblem(msg string, err error) *Problem {
	return NewProblem(http.StatusInternalServerError, "Internal Server Error", msg, WithLog(err))
}
