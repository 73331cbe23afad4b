package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/docpilot/internal/contentstore"
	apperrors "github.com/docpilot/docpilot/internal/errors"
	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/server/handlers"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

type fakeAnswers struct {
	mu     sync.Mutex
	inputs []rag.GenerateInput
	err    error
}

func (f *fakeAnswers) Generate(ctx context.Context, in rag.GenerateInput) (*rag.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, rag.ErrInvalidInput
	}
	return &rag.GenerateResult{Question: in.Question, GeneratedText: "42"}, nil
}

type fakeDocuments struct {
	mu       sync.Mutex
	added    []rag.AddDocumentInput
	queries  []rag.QueryInput
	statuses []string
	stored   map[string]*rag.StoredDocument
	err      error
}

func (f *fakeDocuments) AddDocument(ctx context.Context, in rag.AddDocumentInput) (*rag.AddDocumentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, in)
	return &rag.AddDocumentResult{DocumentID: "doc-1", CollectionID: in.CollectionID}, f.err
}

func (f *fakeDocuments) ListDocuments(ctx context.Context, collectionID string, count int, statuses ...string) (*rag.DocumentList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = statuses
	return &rag.DocumentList{
		Documents: []rag.DocumentSummary{
			{DocumentID: "d1", Filename: "guide.pdf", Status: "available"},
			{DocumentID: "d2", Filename: "unknown", Status: "unknown"},
		},
		Count: 2,
	}, f.err
}

func (f *fakeDocuments) GetDocument(ctx context.Context, documentID string) (*rag.StoredDocument, error) {
	if doc, ok := f.stored[documentID]; ok {
		return doc, nil
	}
	return nil, contentstore.ErrNotFound
}

func (f *fakeDocuments) Query(ctx context.Context, in rag.QueryInput) (*rag.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)
	if f.err != nil {
		return nil, f.err
	}
	return &rag.QueryResult{Documents: []discovery.Document{{PageContent: "passage"}}, Count: 1}, nil
}

func (f *fakeDocuments) ListCollections(ctx context.Context, includeDefault bool) ([]discovery.Collection, error) {
	collections := []discovery.Collection{{CollectionID: "c1", Name: "docs"}}
	if includeDefault {
		collections = append(collections, discovery.Collection{CollectionID: "default", Name: "default"})
	}
	return collections, f.err
}

func (f *fakeDocuments) CreateCollection(ctx context.Context, name, description string) (*discovery.Collection, error) {
	if name == "" {
		return nil, rag.ErrInvalidInput
	}
	return &discovery.Collection{CollectionID: "c2", Name: name, Description: description}, nil
}

type fixture struct {
	server    *Server
	answers   *fakeAnswers
	documents *fakeDocuments
	registry  *throttle.Registry
	generate  *throttle.Func[int, int]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	limiter, err := throttle.New(throttle.Config{Name: "generative", Limit: 1, Interval: time.Second, Mode: throttle.ModeStrict},
		throttle.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)
	generate := throttle.Wrap(limiter, func(ctx context.Context, in int) (int, error) { return in, nil })

	f := &fixture{
		answers: &fakeAnswers{},
		documents: &fakeDocuments{stored: map[string]*rag.StoredDocument{
			"d1": {DocumentID: "d1", Filename: "guide.txt", ContentType: "text/plain", Content: []byte("hello")},
			"d3": {DocumentID: "d3", Content: []byte("%PDF-1.4")},
		}},
		registry: throttle.NewRegistry(throttle.NewControl(limiter, generate)),
		generate: generate,
	}
	f.server = New(Options{
		Answers:    f.answers,
		Documents:  f.documents,
		Throttles:  f.registry,
		AdminToken: "secret",
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorDetail {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/v1/generate", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).Code)
}

func TestGenerateJSONAndQueryString(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/v1/generate",
		strings.NewReader(`{"question":"What is the answer?","collectionId":"c1","max_new_tokens":50}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var result rag.GenerateResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, rag.GenerateResult{Question: "What is the answer?", GeneratedText: "42"}, result)

	rec = f.do(httptest.NewRequest(http.MethodGet,
		"/v1/generate?question=why&modelId=m2&decoding_method=sample&repetition_penalty=1.2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.answers.inputs, 2)
	assert.Equal(t, "c1", f.answers.inputs[0].CollectionID)
	assert.Equal(t, 50, f.answers.inputs[0].MaxNewTokens)
	assert.Equal(t, rag.GenerateInput{
		Question:          "why",
		ModelID:           "m2",
		DecodingMethod:    "sample",
		RepetitionPenalty: 1.2,
	}, f.answers.inputs[1])
}

func TestGenerateRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"question":`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"question":"q","bogus":1}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/generate?question=q&max_new_tokens=many", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"question":" "}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	huge := `{"question":"` + strings.Repeat("a", maxJSONBodyBytes) + `"}`
	rec = f.do(httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(huge)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rec).Code)
}

func TestProviderFailuresMapToStatus(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"RateLimited": {
			err:    driver.NewProviderError("generative", http.StatusTooManyRequests, []byte("slow down"), http.Header{"Retry-After": []string{"7"}}),
			status: http.StatusTooManyRequests,
			code:   "RATE_LIMITED",
		},
		"UpstreamAuth": {
			err:    driver.NewProviderError("generative", http.StatusUnauthorized, nil, nil),
			status: http.StatusBadGateway,
			code:   "EXTERNAL_SERVICE_ERROR",
		},
		"Aborted": {
			err:    &throttle.AbortedError{CallID: 3, Limiter: "generative"},
			status: http.StatusServiceUnavailable,
			code:   "SERVICE_UNAVAILABLE",
		},
		"ProjectMissing": {
			err:    rag.ErrProjectRequired,
			status: http.StatusInternalServerError,
			code:   "CONFIG_INVALID",
		},
		"Unexpected": {
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL_ERROR",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.answers.err = tc.err

			req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"question":"q"}`))
			req.Header.Set("X-Request-ID", "req-"+name)
			rec := f.do(req)

			require.Equal(t, tc.status, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, tc.code, detail.Code)
			assert.Equal(t, "req-"+name, detail.RequestID)
		})
	}
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	f := newFixture(t)
	f.documents.err = driver.NewProviderError("discovery", http.StatusTooManyRequests, nil, http.Header{"Retry-After": []string{"3"}})

	rec := f.do(httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"q"}`)))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 3, decodeError(t, rec).Details["retry_after_seconds"])
}

func TestCollectionsEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/v1/collections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Collections []discovery.Collection `json:"collections"`
		Count       int                    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Count)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/collections?includeDefault=true", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Equal(t, 2, listing.Count)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/v1/collections", strings.NewReader(`{"name":"manuals","description":"user manuals"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created discovery.Collection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, discovery.Collection{CollectionID: "c2", Name: "manuals", Description: "user manuals"}, created)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/v1/collections", strings.NewReader(`{"name":" "}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDocumentsAddsDownloadPaths(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/v1/documents?collectionId=c1&status=available&status=failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Documents []struct {
			DocumentID string `json:"documentId"`
			Filename   string `json:"filename"`
			Path       string `json:"path"`
		} `json:"documents"`
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	require.Len(t, listing.Documents, 2)
	assert.Equal(t, "/v1/documents/d1/guide.pdf", listing.Documents[0].Path)
	assert.Equal(t, "/v1/documents/d2", listing.Documents[1].Path)
	assert.Equal(t, []string{"available", "failed"}, f.documents.statuses)
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadDocument(t *testing.T) {
	f := newFixture(t)

	rec := f.do(multipartUpload(t, map[string]string{
		"collectionId": "c1",
		"metadata":     `{"team":"docs"}`,
	}, "notes.txt", []byte("some notes")))
	require.Equal(t, http.StatusCreated, rec.Code)

	var result rag.AddDocumentResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "doc-1", result.DocumentID)

	require.Len(t, f.documents.added, 1)
	added := f.documents.added[0]
	assert.Equal(t, "c1", added.CollectionID)
	assert.Equal(t, "notes.txt", added.Filename)
	assert.Equal(t, "some notes", string(added.Content))
	assert.Equal(t, map[string]any{"team": "docs"}, added.Metadata)

	rec = f.do(multipartUpload(t, map[string]string{"name": "renamed.md"}, "notes.txt", []byte("x")))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "renamed.md", f.documents.added[1].Filename)
}

func TestUploadDocumentRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	rec := f.do(multipartUpload(t, map[string]string{"collectionId": "c1"}, "", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(multipartUpload(t, map[string]string{"metadata": "not json"}, "a.txt", []byte("x")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("plain")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	small := New(Options{Documents: f.documents, MaxUploadBytes: 64})
	rec = httptest.NewRecorder()
	small.Handler().ServeHTTP(rec, multipartUpload(t, nil, "big.txt", bytes.Repeat([]byte("a"), 1024)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rec).Code)
}

func TestDownloadDocument(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/v1/documents/d1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=guide.txt`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "hello", rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/documents/d3/report.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=report.pdf`, rec.Header().Get("Content-Disposition"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestQueryEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"query":"install steps","collectionId":"c1","count":3,"answers":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/query?query=setup&documentPassages=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.documents.queries, 2)
	first := f.documents.queries[0]
	assert.Equal(t, "install steps", first.NaturalLanguageQuery)
	assert.Equal(t, 3, first.Count)
	assert.Equal(t, &discovery.Passages{
		Enabled:              true,
		PerDocument:          false,
		MaxPerDocument:       5,
		FindAnswers:          true,
		MaxAnswersPerPassage: 5,
	}, first.Passages)
	assert.True(t, f.documents.queries[1].Passages.PerDocument)
	assert.False(t, f.documents.queries[1].Passages.FindAnswers)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/query?query=x&answers=maybe", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func adminRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "Bearer secret")
	return req
}

func TestThrottleAdminRequiresToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/v1/admin/throttle", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/throttle", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	noAdmin := New(Options{Throttles: f.registry})
	rec = httptest.NewRecorder()
	noAdmin.Handler().ServeHTTP(rec, adminRequest(http.MethodGet, "/v1/admin/throttle", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThrottleAdminListToggleAbort(t *testing.T) {
	f := newFixture(t)

	rec := f.do(adminRequest(http.MethodGet, "/v1/admin/throttle", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Limiters []throttle.Status `json:"limiters"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	require.Len(t, listing.Limiters, 1)
	assert.Equal(t, "generative", listing.Limiters[0].Name)
	assert.True(t, listing.Limiters[0].Enabled)

	rec = f.do(adminRequest(http.MethodPut, "/v1/admin/throttle/generative", `{"enabled":false}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.generate.Enabled())

	rec = f.do(adminRequest(http.MethodPut, "/v1/admin/throttle/generative", `{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(adminRequest(http.MethodPut, "/v1/admin/throttle/unknown", `{"enabled":true}`))
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.generate.SetEnabled(true)
	_, err := f.generate.Call(context.Background(), 1)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := f.generate.Call(context.Background(), 2)
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.generate.QueueSize() == 1 }, time.Second, time.Millisecond)

	rec = f.do(adminRequest(http.MethodPost, "/v1/admin/throttle/abort?name=generative", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var aborted struct {
		Aborted map[string]int `json:"aborted"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&aborted))
	assert.Equal(t, map[string]int{"generative": 1}, aborted.Aborted)
	require.ErrorIs(t, <-errs, throttle.ErrAborted)

	rec = f.do(adminRequest(http.MethodPost, "/v1/admin/throttle/abort", ""))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	health := handlers.NewHealthManager("1.2.3")
	health.RegisterChecker("store", handlers.CheckerFunc(func(ctx context.Context) error { return nil }))
	srv := New(Options{Health: health})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"store": "healthy"}, resp.Checks)

	health.RegisterChecker("discovery", handlers.CheckerFunc(func(ctx context.Context) error {
		return &handlers.Degraded{Reason: "no default collection"}
	}))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var probe handlers.ProbeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&probe))
	assert.Equal(t, "degraded", probe.Status)

	health.RegisterChecker("store", handlers.CheckerFunc(func(ctx context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVersionEndpoint(t *testing.T) {
	handlers.SetVersionInfo("1.2.3", "abcd123", "2026-01-01T00:00:00Z")
	t.Cleanup(func() { handlers.SetVersionInfo("dev", "unknown", "unknown") })

	rec := httptest.NewRecorder()
	New(Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "docpilot", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, resp.Runtime.Platform)
}
