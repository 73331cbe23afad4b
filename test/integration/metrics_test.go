package integration

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/docpilot/internal/contentstore"
	"github.com/docpilot/docpilot/internal/observability"
	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/rag/prompt"
	"github.com/docpilot/docpilot/internal/server"
	"github.com/docpilot/docpilot/internal/server/handlers"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
	"github.com/docpilot/docpilot/internal/watsonx/driver"
	"github.com/docpilot/docpilot/internal/watsonx/generative"
)

const metricsNamespace = "docpilot_test"

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics(metricsNamespace, 0); err != nil {
		_ = observability.ShutdownMetrics()
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.ShutdownMetrics() })
}

// listen binds IPv4 loopback explicitly and skips when the sandbox refuses
// to open sockets.
func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: %v", err)
		}
		require.NoError(t, err)
	}
	return ln
}

func startServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ts := &httptest.Server{
		Listener: listen(t),
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// watsonxFake serves the Discovery and generation endpoints the services use.
type watsonxFake struct {
	mu      sync.Mutex
	prompts []string
}

func (f *watsonxFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/projects/proj/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matching_results":1,"results":[{"document_id":"d1","metadata":{},"document_passages":[{"passage_text":"Docpilot answers questions from indexed documents."}]}]}`))
	})
	mux.HandleFunc("/v2/projects/proj/collections/c1/documents", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"document_id":"d2","status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"matching_results":1,"documents":[{"document_id":"d1","filename":"guide.txt","status":"available"}]}`))
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode generation payload: %v", err)
		}
		f.mu.Lock()
		f.prompts = append(f.prompts, payload.Input)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"generated_text":" From indexed documents. ","stop_reason":"eos_token"}]}`))
	})
	return mux
}

func (f *watsonxFake) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newRAGServer wires the real RAG services against fake backends.
func newRAGServer(t *testing.T) (*httptest.Server, *watsonxFake) {
	t.Helper()

	fake := &watsonxFake{}
	backend := startServer(t, fake.handler(t))

	genLimiter, err := throttle.New(throttle.Config{Name: "generative", Limit: 50, Interval: time.Second})
	require.NoError(t, err)
	discLimiter, err := throttle.New(throttle.Config{Name: "discovery", Limit: 50, Interval: time.Second, Mode: throttle.ModeStrict})
	require.NoError(t, err)

	genClient, err := generative.New(generative.Options{
		Endpoint:   backend.URL + "/ml/v1/text/generation",
		ProjectID:  "proj",
		Tokens:     driver.StaticToken("tok"),
		HTTPClient: backend.Client(),
		Limiter:    genLimiter,
	})
	require.NoError(t, err)

	discClient, err := discovery.New(discovery.Options{
		BaseURL:    backend.URL,
		ProjectID:  "proj",
		Tokens:     driver.StaticToken("tok"),
		HTTPClient: backend.Client(),
		Limiter:    discLimiter,
	})
	require.NoError(t, err)

	prompts, err := prompt.DefaultRegistry("")
	require.NoError(t, err)

	documents := rag.NewDocumentService(discClient, rag.DocumentOptions{
		ProjectID:           "proj",
		DefaultCollectionID: "c1",
		Store:               contentstore.NewMemory(),
	})
	answers, err := rag.NewGenerativeService(documents, genClient, rag.GenerativeOptions{Prompts: prompts})
	require.NoError(t, err)

	registry := throttle.NewRegistry(
		throttle.NewControl(genLimiter, genClient.Throttle()),
		throttle.NewControl(discLimiter, discClient.QueryThrottle(), discClient.UploadThrottle()),
	)

	srv := server.New(server.Options{
		Answers:    answers,
		Documents:  documents,
		Throttles:  registry,
		Health:     handlers.NewHealthManager("test"),
		AdminToken: "secret",
	})
	return startServer(t, srv.Handler()), fake
}

func scrape(t *testing.T, client *http.Client, url string) string {
	t.Helper()
	resp, err := client.Get(url + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return string(body)
}

func TestGenerateEndToEnd(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", observability.ServerLoggerOptions{Level: "info"})

	ts, fake := newRAGServer(t)
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/v1/generate", "application/json",
		strings.NewReader(`{"question":"What does docpilot do?"}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result rag.GenerateResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "What does docpilot do?", result.Question)
	assert.Equal(t, "From indexed documents.", result.GeneratedText)

	sent := fake.lastPrompt()
	assert.Contains(t, sent, "Docpilot answers questions from indexed documents.")
	assert.Contains(t, sent, "What does docpilot do?")
}

func TestListDocumentsQuestionEndToEnd(t *testing.T) {
	observability.InitCLILogger("test", false)

	ts, fake := newRAGServer(t)

	resp, err := ts.Client().Get(ts.URL + "/v1/generate?question=What%20documents%20are%20available%3F")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result rag.GenerateResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "d1 - guide.txt", result.GeneratedText)
	assert.Empty(t, fake.lastPrompt(), "listing documents must not call the model")
}

func TestMetricsEndpoint_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", observability.ServerLoggerOptions{Level: "info"})

	initMetricsOrSkip(t)

	ts, _ := newRAGServer(t)
	client := ts.Client()

	const numRequests = 40
	const numWorkers = 8

	requestChan := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requestChan <- i
	}
	close(requestChan)

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for reqNum := range requestChan {
				var path string
				switch reqNum % 4 {
				case 0:
					path = "/v1/generate?question=hello"
				case 1:
					path = "/v1/query?query=hello"
				case 2:
					path = "/v1/missing"
				default:
					path = "/health"
				}

				resp, err := client.Get(ts.URL + path)
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)

	metricsContent := scrape(t, client, ts.URL)
	assert.Contains(t, metricsContent, metricsNamespace+"_http_requests_total", "Should have HTTP request metrics")
	assert.Contains(t, metricsContent, metricsNamespace+"_http_request_duration_ms", "Should have duration metrics")
	assert.Contains(t, metricsContent, metricsNamespace+"_throttle_admissions_total", "Should have limiter metrics")
	assert.Contains(t, metricsContent, metricsNamespace+"_rag_operations_total", "Should have RAG operation metrics")
	assert.True(t, elapsed < 5*time.Second, "Load test should complete in reasonable time")
	t.Logf("Load test completed: %d requests in %v (%.2f req/s)", numRequests, elapsed, float64(numRequests)/elapsed.Seconds())
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", observability.ServerLoggerOptions{Level: "info"})

	initMetricsOrSkip(t)

	ts, _ := newRAGServer(t)
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/health/live")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, "text/plain"),
		"Expected Prometheus content type, got: %s", contentType)
	require.NoError(t, resp.Body.Close())

	lines := strings.Split(strings.TrimSpace(scrape(t, client, ts.URL)), "\n")
	metricLines := 0
	hasLabelledMetric := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		metricLines++
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			hasLabelledMetric = true
		}
	}
	assert.True(t, hasLabelledMetric, "Should have valid Prometheus metric lines")
	assert.Greater(t, metricLines, 0, "Should have actual metric values")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitCLILogger("test", false)
	require.NoError(t, observability.ShutdownMetrics())

	ts, _ := newRAGServer(t)
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var envelope map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Contains(t, envelope, "error")
}

func TestAdminThrottleEndToEnd(t *testing.T) {
	observability.InitCLILogger("test", false)

	ts, _ := newRAGServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/admin/throttle", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Limiters []throttle.Status `json:"limiters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Limiters, 2)
	assert.Equal(t, "discovery", body.Limiters[0].Name)
	assert.Equal(t, throttle.ModeStrict, body.Limiters[0].Mode)
	assert.Equal(t, "generative", body.Limiters[1].Name)
}
