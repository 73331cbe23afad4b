package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/metrics"
	"github.com/docpilot/docpilot/internal/rag/prompt"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
	"github.com/docpilot/docpilot/internal/watsonx/generative"
)

// listDocumentsQuestion is answered from the collection listing instead of
// the model.
const listDocumentsQuestion = "what documents are available?"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, in generative.Input) (*generative.Response, error)
	BatchSize() int
}

// Retriever lists and retrieves documents for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question, collectionID string) ([]discovery.Document, error)
	ListDocuments(ctx context.Context, collectionID string, count int, statuses ...string) (*DocumentList, error)
}

// GenerateInput is a question to answer. Zero decoding fields keep the
// prompt's parameters.
type GenerateInput struct {
	Question     string `json:"question" validate:"required"`
	ModelID      string `json:"modelId,omitempty"`
	CollectionID string `json:"collectionId,omitempty"`

	DecodingMethod    string  `json:"decoding_method,omitempty" validate:"omitempty,oneof=greedy sample"`
	MinNewTokens      int     `json:"min_new_tokens,omitempty" validate:"gte=0"`
	MaxNewTokens      int     `json:"max_new_tokens,omitempty" validate:"gte=0"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty" validate:"gte=0"`
}

// GenerateResult is the answer to a question.
type GenerateResult struct {
	Question      string `json:"question"`
	GeneratedText string `json:"generatedText"`
}

// GenerativeOptions configures a GenerativeService.
type GenerativeOptions struct {
	Prompts    prompt.Registry
	PromptSlug string
	Logger     *logging.Logger
}

// GenerativeService answers questions from retrieved passages.
type GenerativeService struct {
	retriever Retriever
	generator Generator
	prompts   prompt.Registry
	slug      string
	logger    *logging.Logger
}

// NewGenerativeService wires a retriever to a generator. Without a registry
// the embedded prompts are used.
func NewGenerativeService(r Retriever, g Generator, opts GenerativeOptions) (*GenerativeService, error) {
	if r == nil || g == nil {
		return nil, errors.New("retriever and generator are required")
	}

	prompts := opts.Prompts
	if prompts == nil {
		reg, err := prompt.DefaultRegistry("")
		if err != nil {
			return nil, err
		}
		prompts = reg
	}
	slug := strings.TrimSpace(opts.PromptSlug)
	if slug == "" {
		slug = prompt.DefaultSlug
	}
	if _, err := prompts.Get(slug); err != nil {
		return nil, err
	}

	return &GenerativeService{
		retriever: r,
		generator: g,
		prompts:   prompts,
		slug:      slug,
		logger:    opts.Logger,
	}, nil
}

// Generate answers in.Question from the documents of in.CollectionID.
func (s *GenerativeService) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	in.Question = strings.TrimSpace(in.Question)
	if err := validate.Struct(in); err != nil {
		return nil, invalidInput(err)
	}

	if strings.EqualFold(in.Question, listDocumentsQuestion) {
		return s.listDocuments(ctx, in)
	}

	start := time.Now()
	result, err := s.answer(ctx, in)
	metrics.RecordOperation("generate", err == nil)
	metrics.RecordOperationDuration("generate", time.Since(start))
	if s.logger != nil && err == nil {
		s.logger.Info("Generated answer",
			zap.String("question", in.Question),
			zap.Int("answer_length", len(result.GeneratedText)),
			zap.Duration("duration", time.Since(start)))
	}
	return result, err
}

func (s *GenerativeService) answer(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	tmpl, err := s.prompts.Get(s.slug)
	if err != nil {
		return nil, err
	}

	docs, err := s.retriever.Retrieve(ctx, in.Question, in.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	budget := s.generator.BatchSize() - (tmpl.Overhead() + utf8.RuneCountInString(in.Question))
	retrieved := serializeDocuments(docs)
	trimmed := truncateRunes(retrieved, budget)
	if len(trimmed) != len(retrieved) && s.logger != nil {
		s.logger.Debug("Trimmed retrieved context",
			zap.Int("characters_removed", utf8.RuneCountInString(retrieved)-utf8.RuneCountInString(trimmed)))
	}

	rendered, err := tmpl.Render(map[string]string{
		"context":  trimmed,
		"question": in.Question,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.generator.Generate(ctx, generative.Input{
		ModelID:    in.ModelID,
		Input:      rendered,
		Parameters: parameters(tmpl.Config.Parameters, in),
	})
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Question:      in.Question,
		GeneratedText: strings.TrimSpace(resp.GeneratedText),
	}, nil
}

func (s *GenerativeService) listDocuments(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	list, err := s.retriever.ListDocuments(ctx, in.CollectionID, 0)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(list.Documents))
	for _, doc := range list.Documents {
		lines = append(lines, doc.DocumentID+" - "+doc.Filename)
	}
	return &GenerateResult{
		Question:      in.Question,
		GeneratedText: strings.Join(lines, "\n"),
	}, nil
}

func serializeDocuments(docs []discovery.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, doc.PageContent)
	}
	return strings.Join(parts, "\n")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// parameters layers request overrides over the prompt over the defaults.
func parameters(p prompt.Parameters, in GenerateInput) generative.Parameters {
	out := generative.DefaultParameters()
	if p.DecodingMethod != "" {
		out.DecodingMethod = p.DecodingMethod
	}
	if p.MaxNewTokens > 0 {
		out.MaxNewTokens = p.MaxNewTokens
	}
	if p.RepetitionPenalty > 0 {
		out.RepetitionPenalty = p.RepetitionPenalty
	}

	if in.DecodingMethod != "" {
		out.DecodingMethod = in.DecodingMethod
	}
	if in.MinNewTokens > 0 {
		out.MinNewTokens = in.MinNewTokens
	}
	if in.MaxNewTokens > 0 {
		out.MaxNewTokens = in.MaxNewTokens
	}
	if in.RepetitionPenalty > 0 {
		out.RepetitionPenalty = in.RepetitionPenalty
	}
	return out
}

func invalidInput(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, strings.ToLower(fe.Field()))
		}
		return fmt.Errorf("%w: %s fails %s", ErrInvalidInput, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
