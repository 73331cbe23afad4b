// Package driver holds what the watsonx clients share: HTTP round trips,
// failure classification and request tracing.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docpilot/docpilot/internal/metrics"
)

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Call describes one HTTP round trip to a provider.
type Call struct {
	Provider    string
	Method      string
	URL         string
	Body        []byte
	ContentType string
}

// Do performs call and returns the response body. Non-2xx responses become a
// classified *ProviderError. Every call is traced when tracing is enabled.
func Do(ctx context.Context, client *http.Client, tokens TokenSource, call Call) ([]byte, error) {
	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if tokens != nil {
		token, err := tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch access token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if call.ContentType != "" {
		httpReq.Header.Set("Content-Type", call.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		Trace(TraceEntry{
			Provider:    call.Provider,
			Endpoint:    call.URL,
			Method:      call.Method,
			RequestBody: traceableBody(call),
			Error:       err.Error(),
			DurationMs:  duration.Milliseconds(),
		})
		metrics.RecordProviderError(call.Provider, "transport")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	Trace(TraceEntry{
		Provider:    call.Provider,
		Endpoint:    call.URL,
		Method:      call.Method,
		RequestBody: traceableBody(call),
		StatusCode:  resp.StatusCode,
		Response:    respBody,
		DurationMs:  duration.Milliseconds(),
	})

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		perr := NewProviderError(call.Provider, resp.StatusCode, respBody, resp.Header)
		metrics.RecordProviderError(call.Provider, perr.Kind.String())
		return nil, perr
	}
	return respBody, nil
}

// multipart uploads are not worth tracing byte for byte
func traceableBody(call Call) []byte {
	if call.ContentType == "" || call.ContentType == "application/json" {
		return call.Body
	}
	return []byte(fmt.Sprintf("<%d bytes %s>", len(call.Body), call.ContentType))
}
