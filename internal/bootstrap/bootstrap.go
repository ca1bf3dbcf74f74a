package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/trialmatch/internal/config"
	"github.com/kirillkom/trialmatch/internal/core/ports"
	"github.com/kirillkom/trialmatch/internal/core/usecase"
	"github.com/kirillkom/trialmatch/internal/infrastructure/chat/wsclient"
	"github.com/kirillkom/trialmatch/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/trialmatch/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/trialmatch/internal/infrastructure/markdown"
	"github.com/kirillkom/trialmatch/internal/infrastructure/queue/nats"
	"github.com/kirillkom/trialmatch/internal/infrastructure/registry/ctgov"
	"github.com/kirillkom/trialmatch/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/trialmatch/internal/infrastructure/resilience"
	"github.com/kirillkom/trialmatch/internal/infrastructure/taxonomy"
)

type Options struct {
	// Observer receives every search transition, typically metrics.
	Observer ports.SearchObserver
	// RequireAudit fails startup unless Postgres and NATS are configured.
	RequireAudit bool
}

type App struct {
	Config config.Config

	Registry      ports.TrialRegistry
	Search        *usecase.SearchService
	Categorize    *usecase.CategorizeUseCase
	Agent         *usecase.EligibilityAgentUseCase
	Audit         *usecase.SearchAuditUseCase
	Dialer        *wsclient.Dialer
	Queue         *nats.Queue
	LLMConfigured bool

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, options Options) (*App, error) {
	app := &App{Config: cfg}

	db, err := openDatabase(ctx, cfg, options.RequireAudit)
	if err != nil {
		return nil, err
	}
	var transcripts ports.TranscriptStore
	if db != nil {
		app.closeFns = append(app.closeFns, func() { _ = db.Close() })
		transcripts = postgres.NewTranscriptRepository(db)
		app.Audit = usecase.NewSearchAuditUseCase(postgres.NewSearchAuditRepository(db))
	}

	var publisher ports.SearchEventPublisher
	if strings.TrimSpace(cfg.NATSURL) != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.SingleAttemptConfig()),
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closeFns = append(app.closeFns, queue.Close)
		publisher = queue
	} else if options.RequireAudit {
		app.Close()
		return nil, errors.New("NATS_URL is required")
	}

	generator, chatModel, err := newLLM(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.LLMConfigured = generator != nil

	app.Categorize = usecase.NewCategorizeUseCase(generator, cfg.TaxonomyChunkSize)
	app.Agent = usecase.NewEligibilityAgentUseCase(chatModel, transcripts, markdown.NewPlainTexter())

	registry := ctgov.New(cfg.RegistryURL, ctgov.Options{
		RateLimitRPS:       cfg.RegistryRateLimitRPS,
		ResilienceExecutor: resilience.NewExecutor(resilience.SingleAttemptConfig()),
	})
	app.Registry = registry

	var categorizer ports.ConditionCategorizer = app.Categorize
	if strings.TrimSpace(cfg.ClassifierURL) != "" {
		categorizer = taxonomy.New(cfg.ClassifierURL, taxonomy.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.SingleAttemptConfig()),
		})
	}

	app.Search = usecase.NewSearchService(registry, categorizer, usecase.SearchSessionOptions{
		PageSize: cfg.SearchPageSize,
		Query: ports.RegistryQuery{
			PageSize:   cfg.RegistryPageSize,
			Statuses:   cfg.RegistryStatuses,
			MaxStudies: cfg.RegistryMaxStudies,
		},
		Observer:  options.Observer,
		Publisher: publisher,
	})
	app.Dialer = wsclient.NewDialer(cfg.ChatWSURL, cfg.ChatSharedSocket)

	slog.Info("bootstrap_ready",
		"llm_provider", cfg.LLMProvider,
		"llm_configured", app.LLMConfigured,
		"classifier_remote", cfg.ClassifierURL != "",
		"transcripts", db != nil,
		"events", publisher != nil,
	)
	return app, nil
}

func openDatabase(ctx context.Context, cfg config.Config, required bool) (*sql.DB, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		if required {
			return nil, errors.New("POSTGRES_DSN is required")
		}
		return nil, nil
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// newLLM returns nil ports when the selected provider lacks credentials;
// callers then report "not configured" instead of failing startup.
func newLLM(cfg config.Config) (ports.TaxonomyGenerator, ports.ChatModel, error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig().WithRetries(cfg.LLMRetryMaxAttempts))

	switch cfg.LLMProvider {
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			slog.Warn("llm_not_configured", "provider", cfg.LLMProvider, "reason", "ANTHROPIC_API_KEY is empty")
			return nil, nil, nil
		}
		client := anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, executor)
		return anthropic.NewTaxonomyGenerator(client), anthropic.NewChatModel(client), nil
	case "ollama", "":
		if strings.TrimSpace(cfg.OllamaURL) == "" {
			slog.Warn("llm_not_configured", "provider", "ollama", "reason", "OLLAMA_URL is empty")
			return nil, nil, nil
		}
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaChatModel, ollama.Options{
			ResilienceExecutor: executor,
		})
		return ollama.NewTaxonomyGenerator(client), ollama.NewChatModel(client), nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
