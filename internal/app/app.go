// Package app assembles the application: configuration, storage, the AI
// provider, and the conversation services, in dependency order.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildmaster/buildmaster/internal/api"
	"github.com/buildmaster/buildmaster/internal/chat"
	"github.com/buildmaster/buildmaster/internal/config"
	"github.com/buildmaster/buildmaster/internal/conversation"
	"github.com/buildmaster/buildmaster/internal/embedding"
	"github.com/buildmaster/buildmaster/internal/knowledge"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/retrieval"
	"github.com/buildmaster/buildmaster/internal/vecindex"
)

// App is the assembled application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Pool     *pgxpool.Pool
	Embedder embedding.Embedder
	Index    *vecindex.Index

	Knowledge     *knowledge.Store
	Conversations *conversation.Store
	Vectorizer    *knowledge.Vectorizer
	Retrieval     *retrieval.Engine
	Chat          *chat.Service
	Server        *api.Server

	traceShutdown func(context.Context) error
}

// Close releases everything Setup acquired, in reverse order.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.traceShutdown(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
