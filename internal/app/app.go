package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/services/aggregator"
	"github.com/ternarybob/pactum/internal/services/bridge"
	"github.com/ternarybob/pactum/internal/services/chunker"
	"github.com/ternarybob/pactum/internal/services/events"
	"github.com/ternarybob/pactum/internal/services/extraction"
	"github.com/ternarybob/pactum/internal/services/llm"
	"github.com/ternarybob/pactum/internal/services/loader"
	"github.com/ternarybob/pactum/internal/services/orchestrator"
	"github.com/ternarybob/pactum/internal/services/scheduler"
	"github.com/ternarybob/pactum/internal/services/validation"
	"github.com/ternarybob/pactum/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager *badger.Manager

	// Event-driven services
	EventService *events.Service

	// Extraction oracle (Gemini / Claude)
	Oracle *llm.ProviderFactory

	// Pipeline services
	Loader       *loader.Service
	Chunker      *chunker.Chunker
	Extractor    *extraction.Client
	Scheduler    *scheduler.Scheduler
	Aggregator   *aggregator.Aggregator
	Validator    *validation.Service
	BridgeClient *bridge.Client // nil when no bridge URL is configured
	Orchestrator *orchestrator.Orchestrator
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("provider", string(cfg.LLM.DefaultProvider)).
		Bool("bridge_enabled", app.BridgeClient != nil).
		Bool("items_pass", cfg.Pipeline.RunItemsPass).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens Badger, loads .env secrets into the KV store and resolves {key} references in config
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	ctx := context.Background()

	// Load variables from .env file so config values can reference them
	if n, err := a.StorageManager.LoadEnvFile(ctx, ".env"); err != nil {
		// Log warning but don't fail startup
		a.Logger.Warn().Err(err).Msg("Failed to load .env file")
	} else if n > 0 {
		a.Logger.Debug().Int("keys", n).Msg("Loaded .env variables")
	}

	// Must happen BEFORE the oracle and bridge are initialized
	if err := common.ResolveSecrets(ctx, a.Config, a.StorageManager.KeyValueStorage(), a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to resolve config secrets")
	}
	return nil
}

// initServices builds the pipeline services in dependency order
func (a *App) initServices() error {
	cfg := a.Config

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.Oracle = llm.NewProviderFactory(cfg.Gemini, cfg.Claude, cfg.LLM, a.Logger)

	a.Loader = loader.NewService(a.Logger)
	a.Chunker = chunker.New(cfg.Chunking)
	a.Extractor = extraction.NewClient(a.Oracle, cfg.Extraction, a.Logger)
	a.Scheduler = scheduler.New(cfg.Scheduler, a.Logger)
	a.Aggregator = aggregator.New(a.Oracle, cfg.Aggregation, a.Logger)
	a.Validator = validation.New(cfg.Pipeline.StrictValidation, a.Logger)

	deps := orchestrator.Dependencies{
		Runs:       a.StorageManager.RunStorage(),
		History:    a.StorageManager.HistoryStorage(),
		Links:      a.StorageManager.LinkStorage(),
		Loader:     a.Loader,
		Chunker:    a.Chunker,
		Extractor:  a.Extractor,
		Scheduler:  a.Scheduler,
		Aggregator: a.Aggregator,
		Validator:  a.Validator,
		Events:     a.EventService,
	}

	if common.HasUnresolvedReference(cfg.Bridge.URL) || common.HasUnresolvedReference(cfg.Bridge.Token) {
		a.Logger.Warn().Msg("Bridge config references an unknown key, reconciliation disabled")
	} else if cfg.Bridge.URL != "" {
		a.BridgeClient = bridge.NewClient(cfg.Bridge, a.Logger)
		deps.Reconciler = bridge.NewReconciler(a.BridgeClient, cfg.Bridge, a.Logger)
		a.Logger.Debug().Str("url", cfg.Bridge.URL).Msg("Bridge reconciliation enabled")
	}

	a.Orchestrator = orchestrator.New(deps, cfg.Pipeline, cfg.Extraction.ContextChars, a.Logger)
	return nil
}

// StatusReporter exposes run status and history without the write side
func (a *App) StatusReporter() interfaces.StatusReporter {
	return a.Orchestrator
}

// Close gracefully shuts down all application components
func (a *App) Close() error {
	if a.BridgeClient != nil {
		if err := a.BridgeClient.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close bridge client")
		}
	}

	if a.Oracle != nil {
		if err := a.Oracle.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM provider")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Debug().Msg("Storage closed")
	}
	return nil
}
