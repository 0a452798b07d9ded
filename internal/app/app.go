// Package app wires the service's collaborators from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"orchestrator/internal/adapter/repo"
	"orchestrator/internal/clients"
	"orchestrator/internal/clients/credit"
	"orchestrator/internal/clients/notification"
	"orchestrator/internal/domain"
	"orchestrator/internal/http/handlers"
	"orchestrator/internal/http/httpapi"
	"orchestrator/internal/infra"
	"orchestrator/internal/messaging/amqp"
	"orchestrator/internal/messaging/webhook"
	"orchestrator/internal/orchestration"
)

// App holds the process-wide collaborators. Build it once with New and
// release it with Shutdown.
type App struct {
	Config  *infra.Config
	Logger  infra.Logger
	Service *orchestration.Service

	repo    domain.GenerationRepository
	ready   func(ctx context.Context) error
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

type options struct {
	publisher domain.JobPublisher
	skipQueue bool
}

type Option func(*options)

// WithoutJobQueue skips connecting a job publisher. Processes that never
// publish jobs, such as the recovery worker, use it.
func WithoutJobQueue() Option {
	return func(o *options) { o.skipQueue = true }
}

// WithPublisher uses p instead of building one from configuration.
func WithPublisher(p domain.JobPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// New initializes tracing, storage, outbound clients and the orchestration
// service. On error everything opened so far is released.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.Shutdown(shutdownCtx)
		}
	}()

	if cfg.TracingEnabled {
		shutdown, err := infra.InitTracer(cfg.ServiceName, logger)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.onShutdown("tracer", shutdown)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	httpCfg := clients.DefaultHTTPConfig(cfg.ExternalCallTimeout)
	httpCfg.RetryMax = cfg.ExternalCallRetries
	httpCfg.Tracing = cfg.TracingEnabled
	credits := credit.New(cfg.CreditServiceURL, clients.NewRetryableClient(httpCfg, logger.With().Str("client", "credit").Logger()))

	var notifier domain.NotificationService = notification.NewLogOnly(logger.With().Str("component", "notifications").Logger())
	if cfg.NotificationServiceURL != "" {
		notifier = notification.New(cfg.NotificationServiceURL, clients.NewRetryableClient(httpCfg, logger.With().Str("client", "notification").Logger()))
	} else {
		logger.Warn().Msg("NOTIFICATION_SERVICE_URL not set; notifications are only logged")
	}

	publisher := o.publisher
	switch {
	case publisher != nil:
	case o.skipQueue:
		publisher = disabledPublisher{}
	default:
		if publisher, err = a.openPublisher(ctx, httpCfg); err != nil {
			return nil, err
		}
	}

	a.Service = orchestration.NewService(a.repo, credits, publisher, notifier, orchestration.Config{
		CallbackBaseURL:       cfg.CallbackBaseURL,
		CallTimeout:           cfg.ExternalCallTimeout,
		RefundOnSystemFailure: cfg.RefundOnSystemFailure,
		DetailedErrorLogging:  cfg.DetailedCallbackErrorLogging,
		Costs: orchestration.CostPolicy{
			Sample:          cfg.CostSample,
			Regeneration:    cfg.CostRegeneration,
			Final:           cfg.CostFinal,
			FinalHighRes:    cfg.CostFinalHighRes,
			FreeSampleTiers: cfg.FreeSampleTiers,
		},
	}, logger.With().Str("component", "orchestration").Logger())
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, a.Config)
		if err != nil {
			return err
		}
		a.onShutdown("postgres", func(context.Context) error { pool.Close(); return nil })
		pg := repo.NewGenerationRepository(infra.NewSQLRunner(pool, a.Logger.With().Str("component", "sql").Logger()))
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.repo, a.ready = pg, pool.Ping
	case infra.StoreDriverSQLite:
		lite, err := repo.OpenSQLite(ctx, a.Config.SQLitePath)
		if err != nil {
			return err
		}
		a.onShutdown("sqlite", func(context.Context) error { return lite.Close() })
		a.repo, a.ready = lite, lite.Ping
	case infra.StoreDriverMemory:
		a.Logger.Warn().Msg("using in-memory store; generation requests are lost on restart")
		a.repo = repo.NewGenerationRepositoryMemory()
	default:
		return fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
	}
	a.Logger.Info().Str("store", a.Config.StoreDriver).Msg("store ready")
	return nil
}

func (a *App) openPublisher(ctx context.Context, httpCfg clients.HTTPConfig) (domain.JobPublisher, error) {
	var publisher domain.JobPublisher
	switch a.Config.JobPublisher {
	case infra.JobPublisherAMQP:
		p, err := amqp.NewPublisher(ctx, amqp.Config{
			URL:        a.Config.RabbitMQURL,
			Exchange:   a.Config.RabbitMQExchange,
			RoutingKey: a.Config.RabbitMQRoutingKey,
		}, a.Logger.With().Str("component", "amqp").Logger())
		if err != nil {
			return nil, fmt.Errorf("connect job broker: %w", err)
		}
		publisher = p
	case infra.JobPublisherWebhook:
		publisher = webhook.NewPublisher(a.Config.JobWebhookURL, a.Config.JobWebhookSecret,
			clients.NewRetryableClient(httpCfg, a.Logger.With().Str("client", "job_webhook").Logger()))
	default:
		return nil, fmt.Errorf("unknown job publisher %q", a.Config.JobPublisher)
	}
	a.onShutdown("job publisher", func(context.Context) error { return publisher.Close() })
	a.Logger.Info().Str("publisher", a.Config.JobPublisher).Msg("job publisher ready")
	return publisher, nil
}

// Handler builds the HTTP surface on top of the service.
func (a *App) Handler() http.Handler {
	api := handlers.NewApp(a.Service, a.Logger, a.ready)
	return httpapi.NewRouter(a.Config, api, a.Logger)
}

func (a *App) onShutdown(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Shutdown releases collaborators in reverse order of creation.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Error().Err(err).Str("component", c.name).Msg("shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type disabledPublisher struct{}

func (disabledPublisher) Publish(context.Context, domain.JobMessage) error {
	return fmt.Errorf("%w: job queue disabled in this process", domain.ErrJobPublishFailure)
}

func (disabledPublisher) Close() error { return nil }
