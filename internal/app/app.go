// Package app wires configuration, storage, providers and the pipeline
// into a running application.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tanyadata/tanya/internal/cache"
	"github.com/tanyadata/tanya/internal/config"
	"github.com/tanyadata/tanya/internal/embed"
	"github.com/tanyadata/tanya/internal/history"
	"github.com/tanyadata/tanya/internal/pipeline"
)

// App holds the application's long-lived components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Cache    cache.Cache
	Embedder embed.Embedder
	History  *history.Store
	Pipeline *pipeline.Pipeline

	closers []func()
}

// Close releases everything Setup acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
