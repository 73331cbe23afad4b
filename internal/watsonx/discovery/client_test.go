package discovery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docpilot/docpilot/internal/retry"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

func noJitter(time.Duration) time.Duration { return 0 }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter, err := throttle.New(throttle.Config{Name: "test", Limit: 100, Interval: time.Second})
	require.NoError(t, err)

	client, err := New(Options{
		BaseURL:     server.URL,
		ProjectID:   "proj",
		Tokens:      driver.StaticToken("tok"),
		HTTPClient:  server.Client(),
		Limiter:     limiter,
		QueryRetry:  retry.Options[QueryRequest]{Jitter: noJitter},
		UploadRetry: retry.Options[AddDocumentRequest]{Jitter: noJitter},
	})
	require.NoError(t, err)
	return client
}

const perDocumentResponse = `{
  "matching_results": 2,
  "results": [
    {
      "document_id": "d1",
      "metadata": {"filename": "a.txt"},
      "result_metadata": {"collection_id": "c1", "confidence": 0.8},
      "document_passages": [
        {"passage_text": "first passage"},
        {"passage_text": "ignored", "answers": [{"answer_text": "the answer"}]}
      ]
    },
    {"document_id": "d2", "document_passages": []}
  ]
}`

func TestQueryPerDocumentPassages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/projects/proj/query", r.URL.Path)
		require.Equal(t, DefaultVersion, r.URL.Query().Get("version"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "what is it", payload["natural_language_query"])
		require.Equal(t, []any{"c1"}, payload["collection_ids"])
		passages := payload["passages"].(map[string]any)
		require.Equal(t, true, passages["per_document"])
		require.EqualValues(t, 5, passages["max_per_document"])

		_, _ = w.Write([]byte(perDocumentResponse))
	})

	docs, err := client.Query(context.Background(), QueryRequest{
		CollectionIDs:        []string{"c1"},
		NaturalLanguageQuery: "what is it",
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "first passage\nthe answer", docs[0].PageContent)
	require.Equal(t, "d1", docs[0].Metadata["document_id"])
	require.Equal(t, "a.txt", docs[0].Metadata["filename"])
	require.Equal(t, "c1", docs[0].Metadata["collection_id"])
	require.Equal(t, "", docs[1].PageContent)
}

func TestQueryTopLevelPassages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"passages":[
			{"passage_text":"p1","document_id":"d1","collection_id":"c1","passage_score":1.5},
			{"passage_text":"p2","document_id":"d2","collection_id":"c1","answers":[{"answer_text":"a1"},{"answer_text":"a2"}]}
		]}`))
	})

	docs, err := client.Query(context.Background(), QueryRequest{
		NaturalLanguageQuery: "q",
		Passages:             &Passages{Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "p1", docs[0].PageContent)
	require.Equal(t, 1.5, docs[0].Metadata["passage_score"])
	require.Equal(t, "a1\na2", docs[1].PageContent)
}

func TestQueryRetriesRateLimited(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	docs, err := client.Query(context.Background(), QueryRequest{NaturalLanguageQuery: "q"})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.EqualValues(t, 2, attempts.Load())
}

func TestQueryRequiresProject(t *testing.T) {
	client, err := New(Options{BaseURL: "http://example.invalid"})
	require.NoError(t, err)

	_, err = client.Query(context.Background(), QueryRequest{NaturalLanguageQuery: "q"})
	require.ErrorIs(t, err, ErrProjectRequired)
}

func TestAddDocumentSendsMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/projects/proj/collections/c1/documents", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close() // nolint:errcheck // test cleanup
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "hello world", string(content))
		require.Equal(t, "notes.txt", header.Filename)
		require.Equal(t, "text/plain", header.Header.Get("Content-Type"))

		var metadata map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &metadata))
		require.Equal(t, "notes.txt", metadata["filename"])

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"document_id":"d9","status":"pending"}`))
	})

	info, err := client.AddDocument(context.Background(), AddDocumentRequest{
		CollectionID: "c1",
		Filename:     "notes.txt",
		ContentType:  "text/plain",
		Content:      []byte("hello world"),
		Metadata:     map[string]any{"filename": "notes.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, "d9", info.DocumentID)
	require.Equal(t, "pending", info.Status)
	require.Equal(t, "notes.txt", info.Filename)
}

func TestListDocumentsFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/projects/proj/collections/c1/documents", r.URL.Path)
		require.Equal(t, "available,processing", r.URL.Query().Get("status"))
		require.Equal(t, "abc", r.URL.Query().Get("sha256"))
		_, _ = w.Write([]byte(`{"matching_results":1,"documents":[{"document_id":"d1","status":"available","filename":"a.txt"}]}`))
	})

	docs, err := client.ListDocuments(context.Background(), ListDocumentsRequest{
		CollectionID: "c1",
		Statuses:     []string{"available", "processing"},
		SHA256:       "abc",
	})
	require.NoError(t, err)
	require.Equal(t, []DocumentInfo{{DocumentID: "d1", Status: "available", Filename: "a.txt"}}, docs)
}

func TestFindBySHA256(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sha256") == "known" {
			_, _ = w.Write([]byte(`{"documents":[{"document_id":"d1"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"documents":[]}`))
	})

	id, err := client.FindBySHA256(context.Background(), "", "c1", "known")
	require.NoError(t, err)
	require.Equal(t, "d1", id)

	id, err = client.FindBySHA256(context.Background(), "", "c1", "other")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestCollections(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/projects/proj/collections", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"collections":[{"collection_id":"c1","name":"Default"},{"collection_id":"c2","name":"Docs"}]}`))
		case http.MethodPost:
			var payload Collection
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "New", payload.Name)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"collection_id":"c3","name":"New","description":"fresh"}`))
		}
	})

	collections, err := client.ListCollections(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, collections, 2)
	require.Equal(t, "c2", collections[1].CollectionID)

	created, err := client.CreateCollection(context.Background(), "", "New", "fresh")
	require.NoError(t, err)
	require.Equal(t, &Collection{CollectionID: "c3", Name: "New", Description: "fresh"}, created)
}

func TestGetDocumentNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetDocument(context.Background(), "", "c1", "missing")
	require.Equal(t, driver.KindNotFound, driver.KindOf(err))
}

func TestQueryAndUploadShareLimiter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	require.Same(t, client.Limiter(), client.QueryThrottle().Limiter())
	require.Same(t, client.Limiter(), client.UploadThrottle().Limiter())
}
