package discovery

import "time"

// Passages controls passage retrieval for a query.
type Passages struct {
	Enabled              bool `json:"enabled"`
	PerDocument          bool `json:"per_document"`
	MaxPerDocument       int  `json:"max_per_document,omitempty"`
	FindAnswers          bool `json:"find_answers,omitempty"`
	MaxAnswersPerPassage int  `json:"max_answers_per_passage,omitempty"`
}

// DefaultPassages returns per-document passages, five per document.
func DefaultPassages() Passages {
	return Passages{Enabled: true, PerDocument: true, MaxPerDocument: 5}
}

// QueryRequest is a natural language query against one or more collections.
type QueryRequest struct {
	ProjectID            string
	CollectionIDs        []string
	NaturalLanguageQuery string
	Filter               string
	Count                int
	Passages             *Passages
}

// Document is a retrieved piece of content with its metadata.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AddDocumentRequest uploads a file into a collection.
type AddDocumentRequest struct {
	ProjectID    string
	CollectionID string
	Filename     string
	ContentType  string
	Content      []byte
	Metadata     map[string]any
}

// ListDocumentsRequest filters the documents of a collection.
type ListDocumentsRequest struct {
	ProjectID    string
	CollectionID string
	Count        int
	Statuses     []string
	SHA256       string
}

// DocumentInfo summarizes a stored document.
type DocumentInfo struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename,omitempty"`
	Status     string    `json:"status,omitempty"`
	Created    time.Time `json:"created,omitempty"`
	Updated    time.Time `json:"updated,omitempty"`
}

// Collection describes a document collection.
type Collection struct {
	CollectionID string `json:"collection_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
}

type queryPayload struct {
	CollectionIDs        []string  `json:"collection_ids,omitempty"`
	Filter               string    `json:"filter,omitempty"`
	NaturalLanguageQuery string    `json:"natural_language_query,omitempty"`
	Count                int       `json:"count,omitempty"`
	Passages             *Passages `json:"passages,omitempty"`
}

type queryResponse struct {
	MatchingResults int               `json:"matching_results"`
	Results         []queryResult     `json:"results"`
	Passages        []responsePassage `json:"passages"`
}

type queryResult struct {
	DocumentID       string            `json:"document_id"`
	Metadata         map[string]any    `json:"metadata"`
	ResultMetadata   map[string]any    `json:"result_metadata"`
	DocumentPassages []documentPassage `json:"document_passages"`
}

type documentPassage struct {
	PassageText string          `json:"passage_text"`
	Answers     []passageAnswer `json:"answers"`
}

type responsePassage struct {
	PassageText  string          `json:"passage_text"`
	PassageScore float64         `json:"passage_score"`
	DocumentID   string          `json:"document_id"`
	CollectionID string          `json:"collection_id"`
	Answers      []passageAnswer `json:"answers"`
}

type passageAnswer struct {
	AnswerText string `json:"answer_text"`
}

type addDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

type listDocumentsResponse struct {
	MatchingResults int            `json:"matching_results"`
	Documents       []DocumentInfo `json:"documents"`
}

type listCollectionsResponse struct {
	Collections []Collection `json:"collections"`
}
