package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/contentstore"
	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/rag/prompt"
	"github.com/docpilot/docpilot/internal/retry"
	"github.com/docpilot/docpilot/internal/server/handlers"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
	"github.com/docpilot/docpilot/internal/watsonx/generative"
	"github.com/docpilot/docpilot/internal/watsonx/iam"
)

// app holds the wired services shared by serve and the one-shot commands.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	store      contentstore.Store
	generative *generative.Client
	discovery  *discovery.Client
	documents  *rag.DocumentService
	answers    *rag.GenerativeService
	throttles  *throttle.Registry
}

// newApp builds the backend clients, the content store and the RAG services
// from cfg. Close releases the store.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	wx := cfg.Watsonx

	genLimiter, err := throttle.New(cfg.Throttle.Generative.Throttle("generative"), throttle.WithLogger(logger))
	if err != nil {
		return nil, &configError{err: fmt.Errorf("throttle.generative: %w", err)}
	}
	discLimiter, err := throttle.New(cfg.Throttle.Discovery.Throttle("discovery"), throttle.WithLogger(logger))
	if err != nil {
		return nil, &configError{err: fmt.Errorf("throttle.discovery: %w", err)}
	}

	genClient, err := generative.New(generative.Options{
		Endpoint:  wx.Generative.Endpoint,
		ProjectID: wx.Generative.ProjectID,
		ModelID:   wx.Generative.ModelID,
		BatchSize: wx.Generative.BatchSize,
		Tokens:    iam.Source(wx.Generative.AccessToken, firstNonEmpty(wx.Generative.APIKey, wx.IAM.APIKey), wx.IAM.URL, nil),
		Timeout:   wx.Generative.Timeout,
		Limiter:   genLimiter,
		Retry: retry.Options[generative.Input]{
			MaxRetries: cfg.Retry.Retries(),
			MaxJitter:  cfg.Retry.MaxJitter,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, &configError{err: err}
	}

	discClient, err := discovery.New(discovery.Options{
		BaseURL:   wx.Discovery.URL,
		Version:   wx.Discovery.Version,
		ProjectID: wx.Discovery.ProjectID,
		Tokens:    iam.Source(wx.Discovery.AccessToken, firstNonEmpty(wx.Discovery.APIKey, wx.IAM.APIKey), wx.IAM.URL, nil),
		Timeout:   wx.Discovery.Timeout,
		Limiter:   discLimiter,
		QueryRetry: retry.Options[discovery.QueryRequest]{
			MaxRetries: cfg.Retry.Retries(),
			MaxJitter:  cfg.Retry.MaxJitter,
		},
		UploadRetry: retry.Options[discovery.AddDocumentRequest]{
			MaxRetries: cfg.Retry.Retries(),
			MaxJitter:  cfg.Retry.MaxJitter,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, &configError{err: err}
	}

	genControl := throttle.NewControl(genLimiter, genClient.Throttle())
	genControl.SetEnabled(cfg.Throttle.Generative.Enabled)
	discControl := throttle.NewControl(discLimiter, discClient.QueryThrottle(), discClient.UploadThrottle())
	discControl.SetEnabled(cfg.Throttle.Discovery.Enabled)

	prompts, err := prompt.DefaultRegistry(strings.TrimSpace(cfg.RAG.PromptsDir))
	if err != nil {
		return nil, &configError{err: fmt.Errorf("rag.prompts_dir: %w", err)}
	}

	store, err := contentstore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}

	documents := rag.NewDocumentService(discClient, rag.DocumentOptions{
		ProjectID:           wx.Discovery.ProjectID,
		DefaultCollectionID: wx.Discovery.DefaultCollectionID,
		DocumentCount:       wx.Discovery.DocumentCount,
		PassageCount:        wx.Discovery.PassageCount,
		AnswerCount:         wx.Discovery.AnswerCount,
		Store:               store,
		Logger:              logger,
	})

	answers, err := rag.NewGenerativeService(documents, genClient, rag.GenerativeOptions{
		Prompts:    prompts,
		PromptSlug: cfg.RAG.DefaultPrompt,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, &configError{err: fmt.Errorf("rag.default_prompt: %w", err)}
	}

	if logger != nil {
		logger.Debug("Services wired",
			zap.String("store", store.Driver()),
			zap.String("model", genClient.ModelID()),
			zap.Bool("generative_throttle", genControl.Enabled()),
			zap.Bool("discovery_throttle", discControl.Enabled()))
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		generative: genClient,
		discovery:  discClient,
		documents:  documents,
		answers:    answers,
		throttles:  throttle.NewRegistry(genControl, discControl),
	}, nil
}

// Close aborts queued calls and releases the content store.
func (a *app) Close() error {
	aborted := a.throttles.AbortAll()
	if a.logger != nil {
		for name, n := range aborted {
			if n > 0 {
				a.logger.Info("Aborted queued calls", zap.String("limiter", name), zap.Int("count", n))
			}
		}
	}
	return a.store.Close()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// registerHealthChecks adds the store and backend configuration checks.
func (a *app) registerHealthChecks(hm *handlers.HealthManager) {
	hm.RegisterChecker("content_store", handlers.CheckerFunc(func(ctx context.Context) error {
		if p, ok := a.store.(pinger); ok {
			return p.Ping(ctx)
		}
		return nil
	}))
	hm.RegisterChecker("discovery_project", handlers.CheckerFunc(func(ctx context.Context) error {
		if a.discovery.ProjectID() == "" {
			return &handlers.Degraded{Reason: "watsonx.discovery.project_id is not set"}
		}
		return nil
	}))
	hm.RegisterChecker("default_collection", handlers.CheckerFunc(func(ctx context.Context) error {
		if a.documents.DefaultCollectionID() == "" {
			return &handlers.Degraded{Reason: "requests must name a collection"}
		}
		return nil
	}))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
