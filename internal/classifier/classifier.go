package classifier

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/omniquery/fanout-api/internal/domain"
)

// Rule maps one HTTP status to a canonical outcome.
type Rule struct {
	Kind      domain.ErrorKind
	Retryable bool
}

// defaultTable is shared by every provider. Overrides are layered on top
// per adapter.
var defaultTable = map[int]Rule{
	400: {domain.KindValidationFailed, false},
	401: {domain.KindAuthFailed, false},
	403: {domain.KindAuthFailed, false},
	404: {domain.KindNotFound, false},
	408: {domain.KindTimeout, true},
	422: {domain.KindValidationFailed, false},
	429: {domain.KindRateLimited, true},
	500: {domain.KindServerError, true},
	502: {domain.KindServerError, true},
	503: {domain.KindServerError, true},
	504: {domain.KindServerError, true},
}

// Classifier turns one provider's raw failures into ErrorRecords. It never
// returns nil and never panics; anything it cannot place maps to Unknown.
type Classifier struct {
	provider  string
	overrides map[int]Rule
}

func New(provider string, overrides map[int]Rule) *Classifier {
	return &Classifier{provider: provider, overrides: overrides}
}

// Classify maps an HTTP status plus response body to a canonical record.
// The body text is consulted only when the status is ambiguous: some
// upstreams return 400 for what is really a rate-limit or overload signal.
func (c *Classifier) Classify(status int, body []byte) *domain.ErrorRecord {
	rec := &domain.ErrorRecord{
		Kind:       domain.KindUnknown,
		Retryable:  false,
		StatusCode: status,
		RawMessage: truncate(string(body), 512),
		Provider:   c.provider,
	}

	rule, ok := c.overrides[status]
	if !ok {
		rule, ok = defaultTable[status]
	}
	if ok {
		rec.Kind = rule.Kind
		rec.Retryable = rule.Retryable
	}

	if rec.Kind == domain.KindValidationFailed || rec.Kind == domain.KindUnknown {
		if kind, retryable, matched := sniffBody(body); matched {
			rec.Kind = kind
			rec.Retryable = retryable
		}
	}

	return rec
}

// ClassifyTransport maps a network-level error (no HTTP status available).
func (c *Classifier) ClassifyTransport(err error) *domain.ErrorRecord {
	rec := &domain.ErrorRecord{
		Kind:       domain.KindConnectionFailed,
		Retryable:  true,
		RawMessage: err.Error(),
		Provider:   c.provider,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		rec.Kind = domain.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		rec.Kind = domain.KindTimeout
	}
	return rec
}

// sniffBody is the fallback for disguised signals in error bodies.
func sniffBody(body []byte) (domain.ErrorKind, bool, bool) {
	text := strings.ToLower(string(body))
	switch {
	case strings.Contains(text, "rate limit"), strings.Contains(text, "rate_limit"),
		strings.Contains(text, "quota exceeded"), strings.Contains(text, "too many requests"):
		return domain.KindRateLimited, true, true
	case strings.Contains(text, "overloaded"):
		return domain.KindServerError, true, true
	}
	return domain.KindUnknown, false, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
