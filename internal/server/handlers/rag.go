package handlers

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/docpilot/docpilot/internal/errors"
	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

const defaultAnswersPerPassage = 5

// Answerer answers questions.
type Answerer interface {
	Generate(ctx context.Context, in rag.GenerateInput) (*rag.GenerateResult, error)
}

// DocumentManager is the document and collection surface of the RAG
// services.
type DocumentManager interface {
	AddDocument(ctx context.Context, in rag.AddDocumentInput) (*rag.AddDocumentResult, error)
	ListDocuments(ctx context.Context, collectionID string, count int, statuses ...string) (*rag.DocumentList, error)
	GetDocument(ctx context.Context, documentID string) (*rag.StoredDocument, error)
	Query(ctx context.Context, in rag.QueryInput) (*rag.QueryResult, error)
	ListCollections(ctx context.Context, includeDefault bool) ([]discovery.Collection, error)
	CreateCollection(ctx context.Context, name, description string) (*discovery.Collection, error)
}

// RAG serves the question answering and document endpoints.
type RAG struct {
	Answers   Answerer
	Documents DocumentManager
	// MaxUploadBytes caps multipart uploads; zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// Generate answers a question given as JSON body (POST) or query string
// (GET).
func (h *RAG) Generate(w http.ResponseWriter, r *http.Request) {
	var in rag.GenerateInput
	if r.Method == http.MethodGet {
		parsed, err := generateInputFromQuery(r)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		in = parsed
	} else if err := decodeJSON(r, &in); err != nil {
		respondWithError(w, r, err)
		return
	}

	result, err := h.Answers.Generate(r.Context(), in)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func generateInputFromQuery(r *http.Request) (rag.GenerateInput, error) {
	q := r.URL.Query()
	in := rag.GenerateInput{
		Question:       q.Get("question"),
		ModelID:        q.Get("modelId"),
		CollectionID:   q.Get("collectionId"),
		DecodingMethod: q.Get("decoding_method"),
	}

	var err error
	if in.MinNewTokens, err = queryInt(r, "min_new_tokens"); err != nil {
		return in, err
	}
	if in.MaxNewTokens, err = queryInt(r, "max_new_tokens"); err != nil {
		return in, err
	}
	if in.RepetitionPenalty, err = queryFloat(r, "repetition_penalty"); err != nil {
		return in, err
	}
	return in, nil
}

// queryRequest is the body of POST /v1/query. The GET form uses the same
// names as query parameters.
type queryRequest struct {
	Query            string `json:"query"`
	CollectionID     string `json:"collectionId,omitempty"`
	Filter           string `json:"filter,omitempty"`
	Count            int    `json:"count,omitempty"`
	DocumentPassages bool   `json:"documentPassages,omitempty"`
	Answers          bool   `json:"answers,omitempty"`
}

// Query runs a natural language query against the project.
func (h *RAG) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if r.Method == http.MethodGet {
		parsed, err := queryRequestFromQuery(r)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		req = parsed
	} else if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Count < 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("count must be a non-negative integer"))
		return
	}

	passages := discovery.DefaultPassages()
	passages.PerDocument = req.DocumentPassages
	passages.FindAnswers = req.Answers
	passages.MaxAnswersPerPassage = defaultAnswersPerPassage

	result, err := h.Documents.Query(r.Context(), rag.QueryInput{
		CollectionID:         strings.TrimSpace(req.CollectionID),
		NaturalLanguageQuery: req.Query,
		Filter:               req.Filter,
		Count:                req.Count,
		Passages:             &passages,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryRequestFromQuery(r *http.Request) (queryRequest, error) {
	q := r.URL.Query()
	req := queryRequest{
		Query:        q.Get("query"),
		CollectionID: q.Get("collectionId"),
		Filter:       q.Get("filter"),
	}

	var err error
	if req.Count, err = queryInt(r, "count"); err != nil {
		return req, err
	}
	if req.DocumentPassages, err = queryBool(r, "documentPassages"); err != nil {
		return req, err
	}
	if req.Answers, err = queryBool(r, "answers"); err != nil {
		return req, err
	}
	return req, nil
}
