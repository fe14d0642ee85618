package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/firebase/genkit/go/ai"
	coreapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"golang.org/x/time/rate"

	"github.com/buildmaster/buildmaster/db"
	"github.com/buildmaster/buildmaster/internal/api"
	"github.com/buildmaster/buildmaster/internal/chat"
	"github.com/buildmaster/buildmaster/internal/config"
	"github.com/buildmaster/buildmaster/internal/conversation"
	"github.com/buildmaster/buildmaster/internal/database"
	"github.com/buildmaster/buildmaster/internal/embedding"
	"github.com/buildmaster/buildmaster/internal/knowledge"
	"github.com/buildmaster/buildmaster/internal/llm"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/observability"
	"github.com/buildmaster/buildmaster/internal/retrieval"
	"github.com/buildmaster/buildmaster/internal/vecindex"
)

// Setup initializes the application in dependency order. On any failure
// everything already acquired is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initializes its
	// TracerProvider.
	traceShutdown, err := observability.Setup(ctx, cfg.Trace, logger)
	if err != nil {
		return nil, err
	}
	a.traceShutdown = traceShutdown

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, err := provideEmbedder(g, cfg)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	index, err := vecindex.New(pool, cfg.CollectionName, cfg.EmbeddingDimension, cfg.DistanceMetric, logger)
	if err != nil {
		return nil, err
	}
	if err := index.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	a.Index = index

	a.Knowledge = knowledge.NewStore(pool, logger)
	a.Conversations = conversation.NewStore(pool, logger)
	a.Vectorizer = knowledge.NewVectorizer(a.Knowledge, index, embedder, pool, lockPath(cfg), logger)
	a.Retrieval = retrieval.NewEngine(embedder, index, logger)

	llmClient := llm.NewGenkitClient(g, cfg.FullModelName(), logger)

	a.Chat = chat.NewService(a.Retrieval, llmClient, a.Conversations, a.Knowledge, a.Vectorizer, chat.Options{
		ModelName:     cfg.ModelName,
		DefaultTopK:   cfg.DefaultTopK,
		RecommendTopK: cfg.RecommendTopK,
		HistoryWindow: cfg.HistoryWindow,
		RateLimit:     rate.NewLimiter(rate.Limit(5), 10),
	}, logger)

	server, err := api.NewServer(api.ServerConfig{
		Service: a.Chat,
		Pool:    pool,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	a.Server = server

	return a, nil
}

// lockPath resolves the vectorizer lock file location.
func lockPath(cfg *config.Config) string {
	if cfg.VectorizerLockPath != "" {
		return cfg.VectorizerLockPath
	}
	return filepath.Join(os.TempDir(), "buildmaster-vectorizer.lock")
}

// provideGenkit initializes Genkit with the plugins the configured model
// and embedder providers need. Ollama has no model auto-discovery, so its
// chat model and embedder are registered explicitly.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	needs := map[string]bool{cfg.Provider: true}
	if cfg.EmbedderProvider != config.EmbedderHash {
		needs[cfg.EmbedderProvider] = true
	}

	var plugins []coreapi.Plugin
	var ollamaPlugin *ollama.Ollama
	if needs[config.ProviderOllama] {
		ollamaPlugin = &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		plugins = append(plugins, ollamaPlugin)
	}
	if needs[config.ProviderGemini] {
		plugins = append(plugins, &googlegenai.GoogleAI{})
	}
	if needs[config.ProviderOpenAI] {
		plugins = append(plugins, &openai.OpenAI{})
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugins...))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}

	if ollamaPlugin != nil {
		if cfg.Provider == config.ProviderOllama {
			ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
				Name: cfg.ModelName,
				Type: "chat",
			}, nil)
		}
		if cfg.EmbedderProvider == config.ProviderOllama {
			ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		}
	}

	logger.Info("initialized genkit",
		"provider", cfg.Provider,
		"model", cfg.ModelName,
		"embedder_provider", cfg.EmbedderProvider)
	return g, nil
}

// provideEmbedder resolves the text embedder. The hash embedder needs no
// provider; the rest are looked up from the plugin that registered them.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) (embedding.Embedder, error) {
	if cfg.EmbedderProvider == config.EmbedderHash {
		he, err := embedding.NewHashEmbedder(cfg.EmbeddingDimension)
		if err != nil {
			return nil, err
		}
		return he, nil
	}

	var e ai.Embedder
	switch cfg.EmbedderProvider {
	case config.ProviderOllama:
		e = ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		e = genkit.LookupEmbedder(g, coreapi.NewName("openai", cfg.EmbedderModel))
	case config.ProviderGemini:
		e = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
	if e == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.EmbedderProvider)
	}

	return embedding.NewGenkitEmbedder(e, cfg.EmbeddingDimension), nil
}
