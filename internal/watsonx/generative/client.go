// Package generative calls the watsonx text generation endpoint.
package generative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/retry"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

const (
	providerName = "generative"

	DefaultModelID = "granite-13b-chat-v1"
	// DefaultBatchSize is the prompt budget, in characters, for the model.
	DefaultBatchSize = 4000
	// MaxInputLength is the longest input the endpoint accepts.
	MaxInputLength = 4096

	defaultLimit    = 2
	defaultInterval = time.Second
)

// Parameters controls decoding.
type Parameters struct {
	DecodingMethod    string  `json:"decoding_method"`
	MinNewTokens      int     `json:"min_new_tokens,omitempty"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultParameters returns greedy decoding with a modest token budget.
func DefaultParameters() Parameters {
	return Parameters{
		DecodingMethod:    "greedy",
		MaxNewTokens:      200,
		RepetitionPenalty: 1,
	}
}

// Input is a single generation request.
type Input struct {
	ModelID    string
	ProjectID  string
	Input      string
	Parameters Parameters
}

// Response carries the generated text.
type Response struct {
	GeneratedText string
	ModelID       string
	StopReason    string
	InputTokens   int
	OutputTokens  int
}

type backendRequest struct {
	ModelID    string     `json:"model_id"`
	Input      string     `json:"input"`
	Parameters Parameters `json:"parameters"`
	ProjectID  string     `json:"project_id,omitempty"`
}

type backendResponse struct {
	ModelID   string          `json:"model_id"`
	CreatedAt string          `json:"created_at"`
	Results   []backendResult `json:"results"`
}

type backendResult struct {
	GeneratedText       string `json:"generated_text"`
	GeneratedTokenCount int    `json:"generated_token_count"`
	InputTokenCount     int    `json:"input_token_count"`
	StopReason          string `json:"stop_reason"`
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	ProjectID  string
	ModelID    string
	BatchSize  int
	Tokens     driver.TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration

	// Limiter defaults to a windowed limiter of 2 calls per second.
	Limiter *throttle.Limiter
	Retry   retry.Options[Input]
	Logger  *logging.Logger
}

// Client sends throttled, retried generation requests.
type Client struct {
	endpoint   string
	projectID  string
	modelID    string
	batchSize  int
	tokens     driver.TokenSource
	httpClient *http.Client
	timeout    time.Duration
	logger     *logging.Logger

	invoker *retry.Invoker[Input, *Response]
}

// New returns a client with defaults applied.
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("generative endpoint is required")
	}

	c := &Client{
		endpoint:   endpoint,
		projectID:  strings.TrimSpace(opts.ProjectID),
		modelID:    strings.TrimSpace(opts.ModelID),
		batchSize:  opts.BatchSize,
		tokens:     opts.Tokens,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
	}
	if c.modelID == "" {
		c.modelID = DefaultModelID
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}

	limiter := opts.Limiter
	if limiter == nil {
		var err error
		limiter, err = throttle.New(throttle.Config{
			Name:     providerName,
			Limit:    defaultLimit,
			Interval: defaultInterval,
			Mode:     throttle.ModeWindowed,
		}, throttle.WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
	}

	retryOpts := opts.Retry
	if retryOpts.Name == "" {
		retryOpts.Name = providerName
	}
	if retryOpts.Truncate == nil {
		retryOpts.Truncate = TruncateInput
	}
	if retryOpts.Logger == nil {
		retryOpts.Logger = opts.Logger
	}

	c.invoker = retry.New(throttle.Wrap(limiter, c.generate), retryOpts)
	return c, nil
}

// BatchSize is the prompt budget for the configured model.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// ModelID is the default model.
func (c *Client) ModelID() string {
	return c.modelID
}

// Throttle exposes the throttled call for abort and bypass control.
func (c *Client) Throttle() *throttle.Func[Input, *Response] {
	return c.invoker.Func()
}

// Generate runs the request through the limiter, retrying quota rejections.
func (c *Client) Generate(ctx context.Context, in Input) (*Response, error) {
	if c == nil {
		return nil, errors.New("generative client not configured")
	}
	return c.invoker.Invoke(ctx, in)
}

// TruncateInput cuts the input to MaxInputLength runes.
func TruncateInput(in Input) Input {
	if len(in.Input) <= MaxInputLength {
		return in
	}
	runes := []rune(in.Input)
	if len(runes) > MaxInputLength {
		in.Input = string(runes[:MaxInputLength])
	}
	return in
}

func (c *Client) generate(ctx context.Context, in Input) (*Response, error) {
	payload := backendRequest{
		ModelID:    firstNonEmpty(in.ModelID, c.modelID),
		Input:      in.Input,
		Parameters: in.Parameters,
		ProjectID:  firstNonEmpty(in.ProjectID, c.projectID),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.logger != nil {
		c.logger.Debug("Making generative request",
			zap.String("model_id", payload.ModelID),
			zap.Int("input_length", len(payload.Input)))
	}

	respBody, err := driver.Do(ctx, c.httpClient, c.tokens, driver.Call{
		Provider:    providerName,
		Method:      http.MethodPost,
		URL:         c.endpoint,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	var parsed backendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, errors.New("generative response contained no results")
	}

	result := parsed.Results[0]
	return &Response{
		GeneratedText: result.GeneratedText,
		ModelID:       parsed.ModelID,
		StopReason:    result.StopReason,
		InputTokens:   result.InputTokenCount,
		OutputTokens:  result.GeneratedTokenCount,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
