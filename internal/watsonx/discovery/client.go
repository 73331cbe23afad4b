// Package discovery is a client for the watsonx Discovery v2 REST API.
//
// Query and AddDocument share one limiter and retry quota rejections.
// Listing and collection management go straight to the backend.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/retry"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

const (
	providerName = "discovery"

	// DefaultVersion is the API version date sent with every request.
	DefaultVersion = "2023-03-31"

	defaultLimit    = 5
	defaultInterval = time.Second
)

// ErrProjectRequired is returned when no project id is available.
var ErrProjectRequired = errors.New("discovery project id is required")

// Options configures a Client.
type Options struct {
	BaseURL    string
	Version    string
	ProjectID  string
	Tokens     driver.TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration

	// Limiter defaults to a windowed limiter of 5 calls per second.
	Limiter     *throttle.Limiter
	QueryRetry  retry.Options[QueryRequest]
	UploadRetry retry.Options[AddDocumentRequest]
	Logger      *logging.Logger
}

// Client talks to one Discovery instance.
type Client struct {
	baseURL    string
	version    string
	projectID  string
	tokens     driver.TokenSource
	httpClient *http.Client
	timeout    time.Duration
	logger     *logging.Logger

	limiter *throttle.Limiter
	query   *retry.Invoker[QueryRequest, []Document]
	upload  *retry.Invoker[AddDocumentRequest, *DocumentInfo]
}

// New returns a client with defaults applied.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("discovery url is required")
	}

	c := &Client{
		baseURL:    baseURL,
		version:    opts.Version,
		projectID:  strings.TrimSpace(opts.ProjectID),
		tokens:     opts.Tokens,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		limiter:    opts.Limiter,
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if c.limiter == nil {
		var err error
		c.limiter, err = throttle.New(throttle.Config{
			Name:     providerName,
			Limit:    defaultLimit,
			Interval: defaultInterval,
			Mode:     throttle.ModeWindowed,
		}, throttle.WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
	}

	queryRetry := opts.QueryRetry
	if queryRetry.Name == "" {
		queryRetry.Name = providerName + ".query"
	}
	if queryRetry.Logger == nil {
		queryRetry.Logger = opts.Logger
	}
	uploadRetry := opts.UploadRetry
	if uploadRetry.Name == "" {
		uploadRetry.Name = providerName + ".add_document"
	}
	if uploadRetry.Logger == nil {
		uploadRetry.Logger = opts.Logger
	}

	c.query = retry.New(throttle.Wrap(c.limiter, c.doQuery), queryRetry)
	c.upload = retry.New(throttle.Wrap(c.limiter, c.doAddDocument), uploadRetry)
	return c, nil
}

// ProjectID is the default project.
func (c *Client) ProjectID() string {
	return c.projectID
}

// Limiter is shared by Query and AddDocument.
func (c *Client) Limiter() *throttle.Limiter {
	return c.limiter
}

// QueryThrottle exposes the throttled query for bypass control.
func (c *Client) QueryThrottle() *throttle.Func[QueryRequest, []Document] {
	return c.query.Func()
}

// UploadThrottle exposes the throttled upload for bypass control.
func (c *Client) UploadThrottle() *throttle.Func[AddDocumentRequest, *DocumentInfo] {
	return c.upload.Func()
}

// Query runs a natural language query and converts the matches to documents.
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]Document, error) {
	req.ProjectID = firstNonEmpty(req.ProjectID, c.projectID)
	if req.ProjectID == "" {
		return nil, ErrProjectRequired
	}
	if req.Passages == nil {
		p := DefaultPassages()
		req.Passages = &p
	}
	return c.query.Invoke(ctx, req)
}

// AddDocument uploads a file into a collection.
func (c *Client) AddDocument(ctx context.Context, req AddDocumentRequest) (*DocumentInfo, error) {
	req.ProjectID = firstNonEmpty(req.ProjectID, c.projectID)
	if req.ProjectID == "" || req.CollectionID == "" {
		return nil, errors.New("discovery project id and collection id are required")
	}
	return c.upload.Invoke(ctx, req)
}

// ListDocuments lists the documents of a collection.
func (c *Client) ListDocuments(ctx context.Context, req ListDocumentsRequest) ([]DocumentInfo, error) {
	projectID := firstNonEmpty(req.ProjectID, c.projectID)
	if projectID == "" || req.CollectionID == "" {
		return nil, errors.New("discovery project id and collection id are required")
	}

	query := url.Values{}
	if req.Count > 0 {
		query.Set("count", strconv.Itoa(req.Count))
	}
	if len(req.Statuses) > 0 {
		query.Set("status", strings.Join(req.Statuses, ","))
	}
	if req.SHA256 != "" {
		query.Set("sha256", req.SHA256)
	}

	var parsed listDocumentsResponse
	if err := c.getJSON(ctx, c.endpoint(query, "projects", projectID, "collections", req.CollectionID, "documents"), &parsed); err != nil {
		return nil, err
	}
	return parsed.Documents, nil
}

// FindBySHA256 returns the id of a document whose content has the given
// digest, or "" when there is none.
func (c *Client) FindBySHA256(ctx context.Context, projectID, collectionID, sha256 string) (string, error) {
	docs, err := c.ListDocuments(ctx, ListDocumentsRequest{
		ProjectID:    projectID,
		CollectionID: collectionID,
		SHA256:       sha256,
	})
	if err != nil {
		return "", err
	}
	for _, doc := range docs {
		if doc.DocumentID != "" {
			return doc.DocumentID, nil
		}
	}
	return "", nil
}

// GetDocument fetches the details of a single document.
func (c *Client) GetDocument(ctx context.Context, projectID, collectionID, documentID string) (*DocumentInfo, error) {
	projectID = firstNonEmpty(projectID, c.projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}

	var info DocumentInfo
	if err := c.getJSON(ctx, c.endpoint(nil, "projects", projectID, "collections", collectionID, "documents", documentID), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListCollections lists the collections of a project.
func (c *Client) ListCollections(ctx context.Context, projectID string) ([]Collection, error) {
	projectID = firstNonEmpty(projectID, c.projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}

	var parsed listCollectionsResponse
	if err := c.getJSON(ctx, c.endpoint(nil, "projects", projectID, "collections"), &parsed); err != nil {
		return nil, err
	}
	return parsed.Collections, nil
}

// CreateCollection creates a collection in a project.
func (c *Client) CreateCollection(ctx context.Context, projectID, name, description string) (*Collection, error) {
	projectID = firstNonEmpty(projectID, c.projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("collection name is required")
	}

	body, err := json.Marshal(Collection{Name: name, Description: description})
	if err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "projects", projectID, "collections"), body, "application/json")
	if err != nil {
		return nil, err
	}

	var created Collection
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return &created, nil
}

func (c *Client) doQuery(ctx context.Context, req QueryRequest) ([]Document, error) {
	body, err := json.Marshal(queryPayload{
		CollectionIDs:        req.CollectionIDs,
		Filter:               req.Filter,
		NaturalLanguageQuery: req.NaturalLanguageQuery,
		Count:                req.Count,
		Passages:             req.Passages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("Querying discovery",
			zap.String("project_id", req.ProjectID),
			zap.Strings("collection_ids", req.CollectionIDs))
	}

	respBody, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "projects", req.ProjectID, "query"), body, "application/json")
	if err != nil {
		return nil, err
	}

	var parsed queryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return toDocuments(parsed, req.Passages != nil && req.Passages.PerDocument), nil
}

func (c *Client) doAddDocument(ctx context.Context, req AddDocumentRequest) (*DocumentInfo, error) {
	body, contentType, err := multipartBody(req)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(ctx, http.MethodPost,
		c.endpoint(nil, "projects", req.ProjectID, "collections", req.CollectionID, "documents"),
		body, contentType)
	if err != nil {
		return nil, err
	}

	var parsed addDocumentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode add document response: %w", err)
	}
	return &DocumentInfo{
		DocumentID: parsed.DocumentID,
		Filename:   req.Filename,
		Status:     parsed.Status,
	}, nil
}

func multipartBody(req AddDocumentRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := req.Filename
	if filename == "" {
		filename = "document"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	if len(req.Metadata) > 0 {
		metadata, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, "", fmt.Errorf("encode metadata: %w", err)
		}
		if err := w.WriteField("metadata", string(metadata)); err != nil {
			return nil, "", fmt.Errorf("write metadata: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	respBody, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return driver.Do(ctx, c.httpClient, c.tokens, driver.Call{
		Provider:    providerName,
		Method:      method,
		URL:         endpoint,
		Body:        body,
		ContentType: contentType,
	})
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("version", c.version)
	return c.baseURL + "/v2/" + strings.Join(escaped, "/") + "?" + query.Encode()
}

func toDocuments(resp queryResponse, perDocument bool) []Document {
	if perDocument {
		docs := make([]Document, 0, len(resp.Results))
		for _, result := range resp.Results {
			metadata := map[string]any{"document_id": result.DocumentID}
			for k, v := range result.Metadata {
				metadata[k] = v
			}
			for k, v := range result.ResultMetadata {
				metadata[k] = v
			}

			parts := make([]string, 0, len(result.DocumentPassages))
			for _, p := range result.DocumentPassages {
				parts = append(parts, passageText(p.PassageText, p.Answers))
			}
			docs = append(docs, Document{PageContent: strings.Join(parts, "\n"), Metadata: metadata})
		}
		return docs
	}

	docs := make([]Document, 0, len(resp.Passages))
	for _, p := range resp.Passages {
		docs = append(docs, Document{
			PageContent: passageText(p.PassageText, p.Answers),
			Metadata: map[string]any{
				"document_id":   p.DocumentID,
				"collection_id": p.CollectionID,
				"passage_score": p.PassageScore,
			},
		})
	}
	return docs
}

// answers win over the raw passage
func passageText(text string, answers []passageAnswer) string {
	if len(answers) == 0 {
		return text
	}
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		out = append(out, a.AnswerText)
	}
	return strings.Join(out, "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
