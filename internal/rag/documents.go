// Package rag answers questions from documents indexed in Discovery.
//
// DocumentService manages collections and uploads. GenerativeService
// retrieves passages for a question and asks the model to answer from them.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/contentstore"
	"github.com/docpilot/docpilot/internal/metrics"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

const unknown = "unknown"

var (
	// ErrProjectRequired is returned when no Discovery project is configured.
	ErrProjectRequired = errors.New("discovery project id is not configured")
	// ErrCollectionRequired is returned when neither the request nor the
	// configuration names a collection.
	ErrCollectionRequired = errors.New("collection id is required")
	// ErrInvalidInput marks caller mistakes.
	ErrInvalidInput = errors.New("invalid input")
)

// Discovery is the subset of the Discovery client the services use.
type Discovery interface {
	Query(ctx context.Context, req discovery.QueryRequest) ([]discovery.Document, error)
	AddDocument(ctx context.Context, req discovery.AddDocumentRequest) (*discovery.DocumentInfo, error)
	ListDocuments(ctx context.Context, req discovery.ListDocumentsRequest) ([]discovery.DocumentInfo, error)
	FindBySHA256(ctx context.Context, projectID, collectionID, sha256 string) (string, error)
	GetDocument(ctx context.Context, projectID, collectionID, documentID string) (*discovery.DocumentInfo, error)
	ListCollections(ctx context.Context, projectID string) ([]discovery.Collection, error)
	CreateCollection(ctx context.Context, projectID, name, description string) (*discovery.Collection, error)
}

// DocumentOptions configures a DocumentService.
type DocumentOptions struct {
	ProjectID           string
	DefaultCollectionID string
	// DocumentCount, PassageCount and AnswerCount bound retrieval; each
	// defaults to 5.
	DocumentCount int
	PassageCount  int
	AnswerCount   int

	Store  contentstore.Store
	Logger *logging.Logger
}

// DocumentService manages documents and collections in one Discovery project.
type DocumentService struct {
	discovery Discovery
	store     contentstore.Store
	logger    *logging.Logger

	projectID           string
	defaultCollectionID string
	documentCount       int
	passageCount        int
	answerCount         int
}

// NewDocumentService returns a service backed by d. A nil store keeps
// content in memory.
func NewDocumentService(d Discovery, opts DocumentOptions) *DocumentService {
	s := &DocumentService{
		discovery:           d,
		store:               opts.Store,
		logger:              opts.Logger,
		projectID:           strings.TrimSpace(opts.ProjectID),
		defaultCollectionID: strings.TrimSpace(opts.DefaultCollectionID),
		documentCount:       positiveOr(opts.DocumentCount, 5),
		passageCount:        positiveOr(opts.PassageCount, 5),
		answerCount:         positiveOr(opts.AnswerCount, 5),
	}
	if s.store == nil {
		s.store = contentstore.NewMemory()
	}
	return s
}

// DefaultCollectionID is the collection used when a request names none.
func (s *DocumentService) DefaultCollectionID() string {
	return s.defaultCollectionID
}

// AddDocumentInput is an upload request.
type AddDocumentInput struct {
	CollectionID string
	Filename     string
	Content      []byte
	Metadata     map[string]any
}

// AddDocumentResult identifies the indexed document.
type AddDocumentResult struct {
	DocumentID   string `json:"documentId"`
	CollectionID string `json:"collectionId"`
	// Duplicate is true when identical content was already indexed.
	Duplicate bool `json:"duplicate,omitempty"`
}

// AddDocument indexes a file unless identical content is already present in
// the collection, then keeps the raw bytes in the content store.
func (s *DocumentService) AddDocument(ctx context.Context, in AddDocumentInput) (*AddDocumentResult, error) {
	projectID, collectionID, err := s.resolve(in.CollectionID, true)
	if err != nil {
		return nil, err
	}
	if collectionID == "" {
		return nil, ErrCollectionRequired
	}
	if strings.TrimSpace(in.Filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	contentType := detectContentType(in.Filename, in.Content)
	metadata := make(map[string]any, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["filename"] = in.Filename
	metadata["fileContentType"] = contentType

	result := &AddDocumentResult{CollectionID: collectionID}

	digest := sha256.Sum256(in.Content)
	existing, err := s.discovery.FindBySHA256(ctx, projectID, collectionID, hex.EncodeToString(digest[:]))
	if err != nil {
		metrics.RecordOperationError("add_document", "duplicate_check")
		return nil, err
	}

	if existing != "" {
		result.DocumentID = existing
		result.Duplicate = true
		if s.logger != nil {
			s.logger.Info("Document already indexed",
				zap.String("document_id", existing),
				zap.String("filename", in.Filename))
		}
	} else {
		info, err := s.discovery.AddDocument(ctx, discovery.AddDocumentRequest{
			ProjectID:    projectID,
			CollectionID: collectionID,
			Filename:     in.Filename,
			ContentType:  contentType,
			Content:      in.Content,
			Metadata:     metadata,
		})
		if err != nil {
			metrics.RecordOperation("add_document", false)
			return nil, err
		}
		result.DocumentID = info.DocumentID
	}

	if err := s.store.StoreDocument(ctx, contentstore.Document{
		ID:          result.DocumentID,
		Name:        in.Filename,
		ContentType: contentType,
		Content:     in.Content,
	}); err != nil {
		metrics.RecordOperation("add_document", false)
		return nil, fmt.Errorf("store document content: %w", err)
	}

	metrics.RecordStoredDocument(s.store.Driver())
	metrics.RecordOperation("add_document", true)
	return result, nil
}

// DocumentSummary is a listed document.
type DocumentSummary struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
}

// DocumentList is a page of documents.
type DocumentList struct {
	Documents []DocumentSummary `json:"documents"`
	Count     int               `json:"count"`
}

// ListDocuments lists a collection, optionally restricted to statuses.
// Entries the listing returns without a filename are looked up
// individually; anything still missing reads "unknown".
func (s *DocumentService) ListDocuments(ctx context.Context, collectionID string, count int, statuses ...string) (*DocumentList, error) {
	projectID, collectionID, err := s.resolve(collectionID, true)
	if err != nil {
		return nil, err
	}
	if collectionID == "" {
		return nil, ErrCollectionRequired
	}

	docs, err := s.discovery.ListDocuments(ctx, discovery.ListDocumentsRequest{
		ProjectID:    projectID,
		CollectionID: collectionID,
		Count:        count,
		Statuses:     statuses,
	})
	if err != nil {
		return nil, err
	}

	result := &DocumentList{Documents: make([]DocumentSummary, 0, len(docs)), Count: len(docs)}
	for _, doc := range docs {
		filename, status := doc.Filename, doc.Status
		if filename == "" {
			detail, err := s.discovery.GetDocument(ctx, projectID, collectionID, doc.DocumentID)
			switch {
			case err != nil:
				if s.logger != nil {
					s.logger.Warn("Failed to fetch document details",
						zap.String("document_id", doc.DocumentID),
						zap.Error(err))
				}
			default:
				filename, status = detail.Filename, detail.Status
			}
		}
		result.Documents = append(result.Documents, DocumentSummary{
			DocumentID: doc.DocumentID,
			Filename:   orUnknown(filename),
			Status:     orUnknown(status),
		})
	}
	return result, nil
}

// QueryInput is a natural language query.
type QueryInput struct {
	CollectionID         string
	NaturalLanguageQuery string
	Filter               string
	Count                int
	Passages             *discovery.Passages
}

// QueryResult holds the matched documents.
type QueryResult struct {
	Documents []discovery.Document `json:"documents"`
	Count     int                  `json:"count"`
}

// Query searches one collection, or the whole project when none is given.
// The default collection is not implied.
func (s *DocumentService) Query(ctx context.Context, in QueryInput) (*QueryResult, error) {
	projectID, collectionID, err := s.resolve(in.CollectionID, false)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.NaturalLanguageQuery) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	docs, err := s.discovery.Query(ctx, discovery.QueryRequest{
		ProjectID:            projectID,
		CollectionIDs:        collectionIDs(collectionID),
		NaturalLanguageQuery: in.NaturalLanguageQuery,
		Filter:               in.Filter,
		Count:                in.Count,
		Passages:             in.Passages,
	})
	if err != nil {
		metrics.RecordOperation("query", false)
		return nil, err
	}
	metrics.RecordOperation("query", true)
	return &QueryResult{Documents: docs, Count: len(docs)}, nil
}

// Retrieve returns the passages used to answer question.
func (s *DocumentService) Retrieve(ctx context.Context, question, collectionID string) ([]discovery.Document, error) {
	projectID, collectionID, err := s.resolve(collectionID, false)
	if err != nil {
		return nil, err
	}

	return s.discovery.Query(ctx, discovery.QueryRequest{
		ProjectID:            projectID,
		CollectionIDs:        collectionIDs(collectionID),
		NaturalLanguageQuery: question,
		Count:                s.documentCount,
		Passages: &discovery.Passages{
			Enabled:              true,
			PerDocument:          true,
			MaxPerDocument:       s.passageCount,
			FindAnswers:          false,
			MaxAnswersPerPassage: s.answerCount,
		},
	})
}

// ListCollections lists the project's collections. The default collection is
// left out unless includeDefault is set.
func (s *DocumentService) ListCollections(ctx context.Context, includeDefault bool) ([]discovery.Collection, error) {
	projectID, _, err := s.resolve("", false)
	if err != nil {
		return nil, err
	}

	collections, err := s.discovery.ListCollections(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if includeDefault || s.defaultCollectionID == "" {
		return collections, nil
	}

	filtered := make([]discovery.Collection, 0, len(collections))
	for _, c := range collections {
		if c.CollectionID != s.defaultCollectionID {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// CreateCollection creates a collection in the project.
func (s *DocumentService) CreateCollection(ctx context.Context, name, description string) (*discovery.Collection, error) {
	projectID, _, err := s.resolve("", false)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidInput)
	}
	return s.discovery.CreateCollection(ctx, projectID, name, description)
}

// StoredDocument is the raw content of an uploaded document.
type StoredDocument struct {
	DocumentID  string `json:"documentId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"-"`
}

// GetDocument returns the uploaded bytes from the content store. It returns
// contentstore.ErrNotFound for unknown ids.
func (s *DocumentService) GetDocument(ctx context.Context, documentID string) (*StoredDocument, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &StoredDocument{
		DocumentID:  doc.ID,
		Filename:    doc.Name,
		ContentType: doc.ContentType,
		Content:     doc.Content,
	}, nil
}

func (s *DocumentService) resolve(collectionID string, useDefault bool) (string, string, error) {
	if s.projectID == "" {
		return "", "", ErrProjectRequired
	}
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" && useDefault {
		collectionID = s.defaultCollectionID
	}
	return s.projectID, collectionID, nil
}

func detectContentType(filename string, content []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return mimetype.Detect(content).String()
}

func collectionIDs(collectionID string) []string {
	if collectionID == "" {
		return nil
	}
	return []string{collectionID}
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return unknown
	}
	return value
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
