// Package main provides the Duckling API server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ducklinghq/duckling/cmd/duckling-api/handlers"
	"github.com/ducklinghq/duckling/cmd/duckling-api/middleware"
	"github.com/ducklinghq/duckling/internal/config"
	"github.com/ducklinghq/duckling/internal/convert"
	"github.com/ducklinghq/duckling/internal/engine"
	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/history"
	"github.com/ducklinghq/duckling/internal/observability"
	"github.com/ducklinghq/duckling/internal/settings"
)

// Services holds the long-lived dependencies shared by the handlers.
type Services struct {
	Files     *files.Manager
	Settings  *settings.Store
	History   *history.Store
	Registry  *convert.Registry
	Scheduler *convert.Scheduler

	db *sql.DB
}

// NewServices wires the storage, settings, history, and conversion stack
// from configuration.
func NewServices(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Services, error) {
	fm, err := files.NewManager(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("init file manager: %w", err)
	}

	settingsStore := settings.NewStore(cfg.Storage.SettingsPath)

	db, err := history.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	historyStore := history.NewStore(db)

	factory := engine.NewExecFactory(cfg.Conversion.EnginePath, logger)
	adapter, err := convert.NewAdapter(factory, cfg.Conversion.ConverterCacheSize, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init conversion adapter: %w", err)
	}

	// Chunking needs the token encoding, which is fetched on first use.
	// Run without it rather than refusing to start.
	chunker, err := convert.NewChunker()
	if err != nil {
		logger.Warn().Err(err).Msg("Token encoding unavailable, chunking disabled")
		chunker = nil
	}

	materializer := convert.NewMaterializer(fm, chunker, logger)
	registry := convert.NewRegistry(fm)
	scheduler := convert.NewScheduler(adapter, materializer, logger, cfg.Conversion.MaxConcurrentJobs)

	return &Services{
		Files:     fm,
		Settings:  settingsStore,
		History:   historyStore,
		Registry:  registry,
		Scheduler: scheduler,
		db:        db,
	}, nil
}

// Close drains the scheduler and releases the database.
func (s *Services) Close(ctx context.Context) error {
	err := s.Scheduler.Shutdown(ctx)
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, svcs *Services) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	health := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"duckling"}`))
	}
	r.Get("/health", health)

	convertHandler := handlers.NewConvertHandler(logger, svcs.Registry, svcs.Scheduler, svcs.Files, svcs.Settings, svcs.History, cfg.Storage.MaxUploadSize)
	settingsHandler := handlers.NewSettingsHandler(logger, svcs.Settings)
	historyHandler := handlers.NewHistoryHandler(logger, svcs.History, svcs.Files)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)
		r.Get("/formats", settingsHandler.Formats)

		r.Post("/convert", convertHandler.Upload)
		r.Post("/convert/batch", convertHandler.UploadBatch)
		r.Post("/convert/url", convertHandler.ConvertURL)

		r.Route("/convert/{jobID}", func(r chi.Router) {
			r.Get("/status", convertHandler.Status)
			r.Get("/result", convertHandler.Result)
			r.Get("/images", convertHandler.Images)
			r.Get("/images/{imageID}", convertHandler.DownloadImage)
			r.Get("/tables", convertHandler.Tables)
			r.Get("/tables/{tableID}/csv", convertHandler.DownloadTableCSV)
			r.Get("/tables/{tableID}/image", convertHandler.DownloadTableImage)
			r.Get("/chunks", convertHandler.Chunks)
			r.Delete("/", convertHandler.Delete)
		})

		r.Get("/export/{jobID}/{format}", convertHandler.Export)
		r.Get("/export/{jobID}/{format}/content", convertHandler.ExportContent)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.Get)
			r.Put("/", settingsHandler.Update)
			r.Post("/reset", settingsHandler.Reset)
			r.Get("/formats", settingsHandler.Formats)

			for _, section := range []string{"ocr", "tables", "images", "performance", "chunking", "output"} {
				r.Get("/"+section, settingsHandler.GetSection(section))
				r.Put("/"+section, settingsHandler.UpdateSection(section))
			}
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", historyHandler.List)
			r.Delete("/", historyHandler.Clear)
			r.Get("/recent", historyHandler.Recent)
			r.Get("/stats", historyHandler.Stats)
			r.Get("/search", historyHandler.Search)
			r.Post("/cleanup", historyHandler.Cleanup)
			r.Get("/export", historyHandler.Export)
			r.Get("/{jobID}", historyHandler.Get)
			r.Delete("/{jobID}", historyHandler.Delete)
		})
	})

	return r
}
