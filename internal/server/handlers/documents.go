package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/docpilot/docpilot/internal/errors"
	"github.com/docpilot/docpilot/internal/rag"
)

// DefaultMaxUploadBytes caps a document upload at 32 MiB.
const DefaultMaxUploadBytes int64 = 32 << 20

// DocumentsBasePath prefixes the download links in document listings.
const DocumentsBasePath = "/v1/documents"

// ListCollections lists the project's collections. The default collection
// is hidden unless includeDefault=true.
func (h *RAG) ListCollections(w http.ResponseWriter, r *http.Request) {
	includeDefault, err := queryBool(r, "includeDefault")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	collections, err := h.Documents.ListCollections(r.Context(), includeDefault)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collections": collections,
		"count":       len(collections),
	})
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateCollection creates a collection from a JSON body.
func (h *RAG) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	collection, err := h.Documents.CreateCollection(r.Context(), strings.TrimSpace(req.Name), req.Description)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, collection)
}

// listedDocument adds a download path to a listed document.
type listedDocument struct {
	rag.DocumentSummary
	Path string `json:"path"`
}

// ListDocuments lists a collection. status may repeat.
func (h *RAG) ListDocuments(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	statuses := r.URL.Query()["status"]

	list, err := h.Documents.ListDocuments(r.Context(), r.URL.Query().Get("collectionId"), count, statuses...)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	docs := make([]listedDocument, 0, len(list.Documents))
	for _, doc := range list.Documents {
		docs = append(docs, listedDocument{DocumentSummary: doc, Path: documentPath(doc)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     list.Count,
	})
}

func documentPath(doc rag.DocumentSummary) string {
	p := path.Join(DocumentsBasePath, url.PathEscape(doc.DocumentID))
	if doc.Filename != "" && doc.Filename != "unknown" {
		p = path.Join(p, url.PathEscape(doc.Filename))
	}
	return p
}

// AddDocument indexes a multipart upload. Form fields: file (required),
// name (overrides the part filename), collectionId and metadata (a JSON
// object).
func (h *RAG) AddDocument(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		respondWithError(w, r, uploadError(r, err))
		return
	}
	defer r.MultipartForm.RemoveAll() // nolint:errcheck // best-effort cleanup

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "multipart field \"file\" is required"))
		return
	}
	defer file.Close() // nolint:errcheck // best-effort cleanup

	content, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, r, uploadError(r, err))
		return
	}

	filename := strings.TrimSpace(r.FormValue("name"))
	if filename == "" {
		filename = filepath.Base(header.Filename)
	}

	var metadata map[string]any
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "metadata must be a JSON object"))
			return
		}
	}

	result, err := h.Documents.AddDocument(r.Context(), rag.AddDocumentInput{
		CollectionID: strings.TrimSpace(r.FormValue("collectionId")),
		Filename:     filename,
		Content:      content,
		Metadata:     metadata,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func uploadError(r *http.Request, err error) error {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return apperrors.NewPayloadTooLargeError(fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit))
	}
	return apperrors.WrapInvalidInput(r.Context(), err, "request must be multipart/form-data")
}

// DownloadDocument streams the stored content of a document. An optional
// {name} path segment is used when the store has no filename.
func (h *RAG) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	filename := doc.Filename
	if filename == "" {
		filename = chi.URLParam(r, "name")
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}
