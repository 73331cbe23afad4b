package driver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a provider failure. The set is closed; callers switch on
// it instead of inspecting status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindUnauthorized
	KindBadRequest
	KindNotFound
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// KindFromStatus maps an HTTP status to a failure kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500 && status <= 599:
		return KindUnavailable
	case status >= 400 && status <= 499:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body bytes and must never include
// API keys.
type ProviderError struct {
	Provider    string
	Kind        Kind
	StatusCode  int
	Message     string
	RetryAfter  time.Duration
	RawResponse []byte
}

// NewProviderError builds a classified error from an HTTP response.
func NewProviderError(provider string, status int, body []byte, header http.Header) *ProviderError {
	perr := &ProviderError{
		Provider:    provider,
		Kind:        KindFromStatus(status),
		StatusCode:  status,
		Message:     strings.TrimSpace(string(body)),
		RawResponse: body,
	}
	if perr.Kind == KindRateLimited && header != nil {
		perr.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return perr
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr.Kind
	}
	return KindUnknown
}

// IsRateLimited reports whether err is a provider quota rejection.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
